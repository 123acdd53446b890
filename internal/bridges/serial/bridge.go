package serial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-serialbus/internal/serialbus"
	"github.com/nerrad567/gray-logic-serialbus/internal/statestore"
)

const (
	// defaultRequestTimeout bounds one request including the bus scan.
	defaultRequestTimeout = 30 * time.Second

	// initTimeout bounds the startup scan of one handler.
	initTimeout = 60 * time.Second

	pruneInterval = time.Hour

	// queryTimeout bounds one stored-state query.
	queryTimeout = 5 * time.Second

	requestQoS = 1
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the MQTT surface the bridge uses; *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Handler serves requests for one device profile; *serialbus.Handler
// satisfies it.
type Handler interface {
	Handle(ctx context.Context, req serialbus.Request) serialbus.Response
	Initialize(ctx context.Context, state *serialbus.InitState, deviceID string) ([]serialbus.Identity, error)
	Profile() *serialbus.Profile
}

// StateStore persists reported states; *statestore.Store satisfies it.
type StateStore interface {
	RecordState(ctx context.Context, st statestore.DeviceState, source string) error
	LastState(ctx context.Context, handlerID, deviceID string) (statestore.DeviceState, error)
	ListStates(ctx context.Context, handlerID string) ([]statestore.DeviceState, error)
	GetHistory(ctx context.Context, handlerID, deviceID string, limit int) ([]statestore.HistoryEntry, error)
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Telemetry receives exchange metrics; *influxdb.Client satisfies it.
type Telemetry interface {
	WriteExchange(m influxdb.ExchangeMetric)
	WriteDeviceMetric(handlerID, deviceID, measurement string, value float64)
}

// HandlerEntry names a handler.
type HandlerEntry struct {
	ID      string
	Handler Handler
}

// Options configures a Bridge.
type Options struct {
	MQTT     MQTTClient
	Handlers []HandlerEntry

	// Store and Telemetry are optional.
	Store     StateStore
	Telemetry Telemetry

	// DefaultTrust applies to requests without a trust level.
	DefaultTrust int
	// RequestTimeout bounds one request. Zero means 30s.
	RequestTimeout time.Duration
	// HistoryRetention enables hourly pruning of the state history.
	HistoryRetention time.Duration

	HealthInterval time.Duration
	Version        string
	Logger         Logger
}

// slot serialises access to one handler's serial endpoints.
type slot struct {
	id      string
	handler Handler

	mu   sync.Mutex
	init serialbus.InitState

	devices  atomic.Int64
	requests atomic.Uint64
	failures atomic.Uint64
	offline  atomic.Uint64
}

// Bridge translates MQTT requests into handler calls.
type Bridge struct {
	mqtt      MQTTClient
	slots     map[string]*slot
	order     []string
	store     StateStore
	telemetry Telemetry
	health    *HealthReporter

	defaultTrust   int
	requestTimeout time.Duration
	retention      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards stopping and every wg.Add, so no work starts once Stop has
	// begun waiting.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
	stopOnce sync.Once

	now    func() time.Time
	logger Logger
}

// NewBridge validates opts and builds a bridge. Call Start to subscribe.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if len(opts.Handlers) == 0 {
		return nil, ErrNoHandlers
	}

	b := &Bridge{
		mqtt:           opts.MQTT,
		slots:          make(map[string]*slot, len(opts.Handlers)),
		store:          opts.Store,
		telemetry:      opts.Telemetry,
		defaultTrust:   opts.DefaultTrust,
		requestTimeout: opts.RequestTimeout,
		retention:      opts.HistoryRetention,
		now:            time.Now,
		logger:         noopLogger{},
	}
	if b.requestTimeout <= 0 {
		b.requestTimeout = defaultRequestTimeout
	}
	if opts.Logger != nil {
		b.logger = opts.Logger
	}

	for _, e := range opts.Handlers {
		if e.ID == "" || e.Handler == nil {
			return nil, fmt.Errorf("handler entry %q is incomplete", e.ID)
		}
		if _, dup := b.slots[e.ID]; dup {
			return nil, fmt.Errorf("duplicate handler %q", e.ID)
		}
		b.slots[e.ID] = &slot{id: e.ID, handler: e.Handler}
		b.order = append(b.order, e.ID)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.health = NewHealthReporter(opts.MQTT, opts.Version, opts.HealthInterval, b.Stats)
	b.health.logger = b.logger

	return b, nil
}

// Start republishes stored states, initializes every handler, subscribes to
// requests and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	b.republishStates(ctx)

	for _, id := range b.order {
		b.initialize(ctx, b.slots[id])
	}

	topic := mqtt.Topics{}.AllSerialRequests()
	if err := b.mqtt.Subscribe(topic, requestQoS, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logger.Info("subscribed to requests", "topic", topic)

	topic = mqtt.Topics{}.AllSerialQueries()
	if err := b.mqtt.Subscribe(topic, requestQoS, b.handleQuery); err != nil {
		return fmt.Errorf("subscribe to queries: %w", err)
	}

	b.health.Start(ctx)

	if b.store != nil && b.retention > 0 && b.enter() {
		go b.pruneLoop()
	}

	b.logger.Info("serial bridge started", "handlers", len(b.order))
	return nil
}

// Stop cancels in-flight requests, waits for them and publishes a final
// health status. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopping = true
		b.mu.Unlock()

		b.cancel()
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("serial bridge stopped")
	})
}

// enter registers one unit of work with wg. It returns false once Stop has
// begun, in which case the caller must not start the work.
func (b *Bridge) enter() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return false
	}
	b.wg.Add(1)
	return true
}

// Stats returns per-handler counters.
func (b *Bridge) Stats() map[string]HandlerStats {
	out := make(map[string]HandlerStats, len(b.slots))
	for id, s := range b.slots {
		out[id] = HandlerStats{
			Profile:  s.handler.Profile().Name,
			Devices:  int(s.devices.Load()),
			Requests: s.requests.Load(),
			Failures: s.failures.Load(),
			Offline:  s.offline.Load(),
		}
	}
	return out
}

// initialize runs the whole-bus scan once and publishes discovery.
func (b *Bridge) initialize(ctx context.Context, s *slot) {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	s.mu.Lock()
	ids, err := s.handler.Initialize(ctx, &s.init, "")
	s.mu.Unlock()
	if err != nil {
		b.logger.Warn("handler initialization failed", "handler", s.id, "error", err)
		return
	}

	devices := make([]string, len(ids))
	for i, id := range ids {
		devices[i] = string(id)
	}
	b.publishDiscovery(s, devices, true)
}

// handleMessage is the MQTT callback. The request runs in its own goroutine
// so one slow bus does not block the MQTT router. Messages arriving after
// Stop has begun are dropped.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	if !b.enter() {
		b.logger.Debug("bridge stopping, request dropped", "topic", topic)
		return nil
	}
	handedOff := false
	defer func() {
		if !handedOff {
			b.wg.Done()
		}
	}()

	handlerID, topicRequestID, err := parseRequestTopic(topic)
	if err != nil {
		return err
	}

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	req.RequestID = requestID(req.RequestID, topicRequestID)

	s, ok := b.slots[handlerID]
	if !ok {
		b.publishResponse(handlerID, ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: b.now().UTC(),
			Handler:   handlerID,
			DeviceID:  req.DeviceID,
			Error:     fmt.Sprintf("%v: %s", ErrUnknownHandler, handlerID),
			Reply:     serialbus.ReplyFailed,
		})
		return fmt.Errorf("%w: %s", ErrUnknownHandler, handlerID)
	}

	handedOff = true
	go func() {
		defer b.wg.Done()
		b.process(s, req)
	}()
	return nil
}

// requestID picks the payload's ID, then the topic's, then a new UUID.
func requestID(fromPayload, fromTopic string) string {
	switch {
	case fromPayload != "":
		return fromPayload
	case fromTopic != "":
		return fromTopic
	default:
		return uuid.New().String()
	}
}

// process runs one request against its handler and publishes the results.
func (b *Bridge) process(s *slot, req RequestMessage) {
	trust := b.defaultTrust
	if req.Trust != nil {
		trust = *req.Trust
	}

	b.logger.Debug("serial request",
		"handler", s.id,
		"request_id", req.RequestID,
		"device_id", req.DeviceID,
		"commands", req.Commands,
		"source", req.Source)

	ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
	defer cancel()

	s.mu.Lock()
	resp := s.handler.Handle(ctx, serialbus.Request{
		Commands: req.Commands,
		DeviceID: req.DeviceID,
		Trust:    trust,
	})
	s.mu.Unlock()

	s.requests.Add(1)
	switch {
	case resp.Reply == serialbus.ReplyOffline:
		s.offline.Add(1)
	case resp.Error != "":
		s.failures.Add(1)
	}

	msg := newResponseMessage(s.id, req, resp, b.now())
	if resp.Trace.Outcome == serialbus.TraceOffline {
		msg.LastKnown = b.lastKnown(ctx, s.id, req.DeviceID)
	}
	b.publishResponse(s.id, msg)

	// Only device exchanges carry a device value. Presence answers go to the
	// availability topic and never replace the stored state.
	if req.DeviceID != "" {
		switch resp.Trace.Outcome {
		case serialbus.OutcomeState.String():
			if resp.State != "" {
				b.recordState(ctx, s, req, resp.State, resp.Trace.Operation)
			}
			b.publishAvailability(s.id, req.DeviceID, serialbus.StateOnline)
		case serialbus.OutcomePresence.String(), serialbus.TraceOffline:
			b.publishAvailability(s.id, req.DeviceID, resp.State)
		}
	}
	if resp.Trace.Operation == "list" && resp.Error == "" {
		if devices, ok := resp.Result.([]string); ok {
			b.publishDiscovery(s, devices, resp.Trace.Exhaustive)
		}
	}

	if b.telemetry != nil {
		b.telemetry.WriteExchange(influxdb.ExchangeMetric{
			Handler:   s.id,
			DeviceID:  req.DeviceID,
			Operation: resp.Trace.Operation,
			Outcome:   resp.Trace.Outcome,
			Attempts:  resp.Trace.Attempts,
			Duration:  resp.Trace.Duration,
		})
	}

	if resp.Error != "" {
		b.logger.Warn("serial request failed",
			"handler", s.id,
			"request_id", req.RequestID,
			"device_id", req.DeviceID,
			"outcome", resp.Trace.Outcome,
			"error", resp.Error)
	}
}

// recordState persists and publishes a reported state.
func (b *Bridge) recordState(ctx context.Context, s *slot, req RequestMessage, state, operation string) {
	now := b.now().UTC()
	deviceID := req.DeviceID
	source := req.Source
	if source == "" {
		source = statestore.SourceCommand
	}

	if b.store != nil {
		// Recording outlives a cancelled request.
		storeCtx := context.WithoutCancel(ctx)
		if err := b.store.RecordState(storeCtx, statestore.DeviceState{
			HandlerID: s.id,
			DeviceID:  deviceID,
			State:     state,
			Operation: operation,
		}, source); err != nil {
			b.logger.Error("failed to record state", "handler", s.id, "device_id", deviceID, "error", err)
		}
	}

	b.publishState(StateMessage{
		Handler:   s.id,
		DeviceID:  deviceID,
		State:     state,
		Operation: operation,
		Timestamp: now,
		Protocol:  mqtt.ProtocolSerial,
	})

	if b.telemetry != nil {
		if v, ok := numericState(state); ok {
			b.telemetry.WriteDeviceMetric(s.id, deviceID, operation, v)
		}
	}
}

// lastKnown returns the stored state of a device, or nil.
func (b *Bridge) lastKnown(ctx context.Context, handlerID, deviceID string) *statestore.DeviceState {
	if b.store == nil || deviceID == "" {
		return nil
	}
	st, err := b.store.LastState(context.WithoutCancel(ctx), handlerID, deviceID)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			b.logger.Error("failed to load last state", "handler", handlerID, "device_id", deviceID, "error", err)
		}
		return nil
	}
	return &st
}

// handleQuery answers a stored-state query from the store. It never touches
// the bus, so it runs on the MQTT router goroutine.
func (b *Bridge) handleQuery(topic string, payload []byte) error {
	if !b.enter() {
		return nil
	}
	defer b.wg.Done()

	handlerID, topicRequestID, err := parseQueryTopic(topic)
	if err != nil {
		return err
	}

	var q QueryMessage
	if err := json.Unmarshal(payload, &q); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	msg := QueryResponseMessage{
		RequestID: requestID(q.RequestID, topicRequestID),
		Timestamp: b.now().UTC(),
		Handler:   handlerID,
		DeviceID:  q.DeviceID,
	}
	if err := b.answerQuery(&msg, q); err != nil {
		msg.Error = err.Error()
	}
	b.publishJSON(mqtt.Topics{}.SerialResponse(handlerID, msg.RequestID), msg, false)
	return nil
}

func (b *Bridge) answerQuery(msg *QueryResponseMessage, q QueryMessage) error {
	if _, ok := b.slots[msg.Handler]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, msg.Handler)
	}
	if b.store == nil {
		return ErrNoStore
	}
	if q.DeviceID == "" {
		return serialbus.ErrNoDeviceAddress
	}

	ctx, cancel := context.WithTimeout(b.ctx, queryTimeout)
	defer cancel()

	current, err := b.store.LastState(ctx, msg.Handler, q.DeviceID)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading state: %w", err)
	default:
		msg.Current = &current
	}

	history, err := b.store.GetHistory(ctx, msg.Handler, q.DeviceID, q.Limit)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	msg.History = history
	return nil
}

// republishStates publishes every stored state as a retained message.
func (b *Bridge) republishStates(ctx context.Context) {
	if b.store == nil {
		return
	}
	for _, id := range b.order {
		states, err := b.store.ListStates(ctx, id)
		if err != nil {
			b.logger.Error("failed to load stored states", "handler", id, "error", err)
			continue
		}
		for _, st := range states {
			b.publishState(StateMessage{
				Handler:   st.HandlerID,
				DeviceID:  st.DeviceID,
				State:     st.State,
				Operation: st.Operation,
				Timestamp: st.UpdatedAt,
				Protocol:  mqtt.ProtocolSerial,
			})
		}
		if len(states) > 0 {
			b.logger.Info("republished stored states", "handler", id, "count", len(states))
		}
	}
}

func (b *Bridge) pruneLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.prune()
		}
	}
}

func (b *Bridge) prune() {
	n, err := b.store.PruneHistory(b.ctx, b.retention)
	if err != nil {
		b.logger.Error("failed to prune state history", "error", err)
		return
	}
	if n > 0 {
		b.logger.Info("pruned state history", "rows", n)
	}
}

// ============================================================================
// Publishing
// ============================================================================

func (b *Bridge) publishResponse(handlerID string, msg ResponseMessage) {
	b.publishJSON(mqtt.Topics{}.SerialResponse(handlerID, msg.RequestID), msg, false)
}

func (b *Bridge) publishState(msg StateMessage) {
	b.publishJSON(mqtt.Topics{}.SerialState(msg.Handler, msg.DeviceID), msg, true)
}

func (b *Bridge) publishAvailability(handlerID, deviceID, status string) {
	b.publishJSON(mqtt.Topics{}.SerialAvailability(handlerID, deviceID), AvailabilityMessage{
		Handler:   handlerID,
		DeviceID:  deviceID,
		Status:    status,
		Timestamp: b.now().UTC(),
		Protocol:  mqtt.ProtocolSerial,
	}, true)
}

func (b *Bridge) publishDiscovery(s *slot, devices []string, exhaustive bool) {
	sorted := append([]string(nil), devices...)
	sort.Strings(sorted)
	if exhaustive {
		s.devices.Store(int64(len(sorted)))
	}
	b.publishJSON(mqtt.Topics{}.SerialDiscovery(s.id), DiscoveryMessage{
		Handler:    s.id,
		Profile:    s.handler.Profile().Name,
		Devices:    sorted,
		Timestamp:  b.now().UTC(),
		Exhaustive: exhaustive,
	}, true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, requestQoS, retained); err != nil {
		b.logger.Error("failed to publish", "topic", topic, "error", err)
	}
}

// numericState parses states like "21.5" or "4312 W" into a number.
func numericState(state string) (float64, bool) {
	field, _, _ := strings.Cut(strings.TrimSpace(state), " ")
	v, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
