package serial

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-serialbus/internal/serialbus"
	"github.com/nerrad567/gray-logic-serialbus/internal/statestore"
)

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// mockMQTTClient records publishes and subscriptions.
type mockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// byTopic returns the messages published on topic in order.
func (m *mockMQTTClient) byTopic(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// lastJSON decodes the last message on topic into v.
func (m *mockMQTTClient) lastJSON(t *testing.T, topic string, v any) mockPublish {
	t.Helper()
	msgs := m.byTopic(topic)
	if len(msgs) == 0 {
		t.Fatalf("nothing published on %s", topic)
	}
	last := msgs[len(msgs)-1]
	if err := json.Unmarshal(last.Payload, v); err != nil {
		t.Fatalf("payload on %s is not JSON: %v", topic, err)
	}
	return last
}

// fakeHandler answers with respond and records requests.
type fakeHandler struct {
	profile *serialbus.Profile
	respond func(serialbus.Request) serialbus.Response
	ids     []serialbus.Identity
	initErr error

	mu       sync.Mutex
	requests []serialbus.Request
	inits    int
	active   int
	maxSeen  int
	delay    time.Duration
}

func newFakeHandler(t *testing.T, ids ...serialbus.Identity) *fakeHandler {
	t.Helper()
	p, err := serialbus.LookupProfile(serialbus.ProfileUK1104)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeHandler{
		profile: p,
		ids:     ids,
		respond: func(serialbus.Request) serialbus.Response {
			return serialbus.Response{State: "ON", Reply: serialbus.ReplyOK,
				Trace: serialbus.Trace{Operation: "get", Outcome: "state", Attempts: 1}}
		},
	}
}

func (h *fakeHandler) Handle(_ context.Context, req serialbus.Request) serialbus.Response {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.active++
	if h.active > h.maxSeen {
		h.maxSeen = h.active
	}
	h.mu.Unlock()

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	h.mu.Lock()
	h.active--
	h.mu.Unlock()
	return h.respond(req)
}

func (h *fakeHandler) Initialize(_ context.Context, _ *serialbus.InitState, _ string) ([]serialbus.Identity, error) {
	h.mu.Lock()
	h.inits++
	h.mu.Unlock()
	return h.ids, h.initErr
}

func (h *fakeHandler) Profile() *serialbus.Profile { return h.profile }

// fakeStore keeps states in memory.
type fakeStore struct {
	mu            sync.Mutex
	recorded      []statestore.DeviceState
	sources       []string
	stored        []statestore.DeviceState
	pruned        []time.Duration
	historyLimits []int
}

func (s *fakeStore) RecordState(_ context.Context, st statestore.DeviceState, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, st)
	s.sources = append(s.sources, source)
	return nil
}

func (s *fakeStore) LastState(_ context.Context, handlerID, deviceID string) (statestore.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recorded) - 1; i >= 0; i-- {
		if st := s.recorded[i]; st.HandlerID == handlerID && st.DeviceID == deviceID {
			return st, nil
		}
	}
	for _, st := range s.stored {
		if st.HandlerID == handlerID && st.DeviceID == deviceID {
			return st, nil
		}
	}
	return statestore.DeviceState{}, statestore.ErrNotFound
}

func (s *fakeStore) GetHistory(_ context.Context, handlerID, deviceID string, limit int) ([]statestore.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLimits = append(s.historyLimits, limit)
	var out []statestore.HistoryEntry
	for i := len(s.recorded) - 1; i >= 0; i-- {
		st := s.recorded[i]
		if st.HandlerID == handlerID && st.DeviceID == deviceID {
			out = append(out, statestore.HistoryEntry{
				HandlerID: st.HandlerID,
				DeviceID:  st.DeviceID,
				State:     st.State,
				Operation: st.Operation,
				Source:    s.sources[i],
			})
		}
	}
	return out, nil
}

func (s *fakeStore) ListStates(_ context.Context, handlerID string) ([]statestore.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []statestore.DeviceState
	for _, st := range s.stored {
		if st.HandlerID == handlerID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *fakeStore) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, olderThan)
	return 0, nil
}

type deviceMetric struct {
	handler, device, measurement string
	value                        float64
}

// fakeTelemetry records metrics.
type fakeTelemetry struct {
	mu        sync.Mutex
	exchanges []influxdb.ExchangeMetric
	metrics   []deviceMetric
}

func (f *fakeTelemetry) WriteExchange(m influxdb.ExchangeMetric) {
	f.mu.Lock()
	f.exchanges = append(f.exchanges, m)
	f.mu.Unlock()
}

func (f *fakeTelemetry) WriteDeviceMetric(handlerID, deviceID, measurement string, value float64) {
	f.mu.Lock()
	f.metrics = append(f.metrics, deviceMetric{handlerID, deviceID, measurement, value})
	f.mu.Unlock()
}

// relayBoard is a scripted UK1104 on one serial path. GET reports the relay
// value; ON sets it to 1.
type relayBoard struct {
	mu    sync.Mutex
	path  string
	id    string
	relay string
	inbox []byte
	line  string
}

func (r *relayBoard) Path() string { return r.path }

func (r *relayBoard) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line += string(p)
	for {
		i := strings.Index(r.line, "\r\n")
		if i < 0 {
			break
		}
		cmd := r.line[:i]
		r.line = r.line[i+2:]
		r.inbox = append(r.inbox, r.reply(cmd)...)
	}
	return len(p), nil
}

func (r *relayBoard) reply(cmd string) string {
	switch {
	case cmd == "ABOUT":
		return "ABOUT\r\nCanaKit UK1104\r\nID " + r.id + " fw 1.2\r\n::"
	case strings.HasPrefix(cmd, "GET"):
		return cmd + "\r\n" + r.relay + "\r\n::"
	case strings.HasPrefix(cmd, "ON"):
		r.relay = "1"
		return cmd + "\r\nOK\r\n::"
	default:
		return cmd + "\r\nOK\r\n::"
	}
}

func (r *relayBoard) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(p, r.inbox)
	r.inbox = r.inbox[n:]
	return n, nil
}

func (r *relayBoard) Close() error                       { return nil }
func (r *relayBoard) SetReadTimeout(time.Duration) error { return nil }

func (r *relayBoard) ResetInputBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = nil
	return nil
}

// boardBus opens relay boards by path and lists the attached ones.
type boardBus struct {
	mu       sync.Mutex
	boards   map[string]*relayBoard
	attached []string
}

func newBoardBus(boards ...*relayBoard) *boardBus {
	b := &boardBus{boards: make(map[string]*relayBoard)}
	for _, board := range boards {
		b.boards[board.path] = board
		b.attached = append(b.attached, board.path)
	}
	return b
}

func (b *boardBus) Open(path string) (serialbus.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	board, ok := b.boards[path]
	if !ok {
		return nil, fmt.Errorf("no such device %s", path)
	}
	return board, nil
}

func (b *boardBus) List(string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.attached...), nil
}

// detachAll unplugs every board.
func (b *boardBus) detachAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = nil
}
