package serial

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-serialbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-serialbus/internal/serialbus"
	"github.com/nerrad567/gray-logic-serialbus/internal/statestore"
)

// RequestMessage is sent by Core to run commands on a serial device.
// Topic: graylogic/request/serial/{handler}/{request_id}
type RequestMessage struct {
	// RequestID correlates the response. If empty, the topic's last segment
	// is used, and failing that a UUID is generated.
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	DeviceID string   `json:"device_id,omitempty"`
	Commands []string `json:"commands"`

	// Trust is the caller's trust level. Absent means the configured default.
	Trust *int `json:"trust,omitempty"`

	// Source indicates where the request originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// ResponseMessage carries a handler response back to the requester.
// Topic: graylogic/response/serial/{handler}/{request_id}
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Handler   string    `json:"handler"`
	DeviceID  string    `json:"device_id,omitempty"`

	Error  string `json:"error"`
	State  string `json:"state,omitempty"`
	Result any    `json:"result,omitempty"`
	Reply  string `json:"reply,omitempty"`

	// LastKnown is the stored state of an off-line device, if any.
	LastKnown *statestore.DeviceState `json:"last_known,omitempty"`
}

// AvailabilityMessage reports whether a device answered on its bus.
// Topic: graylogic/availability/serial/{handler}/{device}
// QoS: 1, Retained: Yes
type AvailabilityMessage struct {
	Handler   string    `json:"handler"`
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
}

// QueryMessage asks for the stored state and history of one device. It is
// answered from the state store without touching the bus.
// Topic: graylogic/query/serial/{handler}/{request_id}
type QueryMessage struct {
	RequestID string `json:"request_id"`
	DeviceID  string `json:"device_id"`
	// Limit bounds the history entries returned. Zero means 50; at most 200.
	Limit int `json:"limit,omitempty"`
}

// QueryResponseMessage answers a QueryMessage.
// Topic: graylogic/response/serial/{handler}/{request_id}
type QueryResponseMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Handler   string    `json:"handler"`
	DeviceID  string    `json:"device_id,omitempty"`
	Error     string    `json:"error"`

	Current *statestore.DeviceState   `json:"current,omitempty"`
	History []statestore.HistoryEntry `json:"history,omitempty"`
}

// StateMessage publishes the last state a device reported.
// Topic: graylogic/state/serial/{handler}/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Handler   string    `json:"handler"`
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
}

// DiscoveryMessage lists the devices a handler found on its bus.
// Topic: graylogic/discovery/serial/{handler}
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Handler   string    `json:"handler"`
	Profile   string    `json:"profile"`
	Devices   []string  `json:"devices"`
	Timestamp time.Time `json:"timestamp"`
	// Exhaustive is false when the scan stopped at a targeted device.
	Exhaustive bool `json:"exhaustive"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/serial
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string                  `json:"bridge"`
	Timestamp     time.Time               `json:"timestamp"`
	Status        HealthStatus            `json:"status"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Handlers      map[string]HandlerStats `json:"handlers"`
	Reason        string                  `json:"reason,omitempty"`
}

// HandlerStats are per-handler request counters.
type HandlerStats struct {
	Profile  string `json:"profile"`
	Devices  int    `json:"devices"`
	Requests uint64 `json:"requests"`
	Failures uint64 `json:"failures"`
	Offline  uint64 `json:"offline"`
}

// newResponseMessage converts a handler response.
func newResponseMessage(handlerID string, req RequestMessage, resp serialbus.Response, now time.Time) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: now.UTC(),
		Handler:   handlerID,
		DeviceID:  req.DeviceID,
		Error:     resp.Error,
		State:     resp.State,
		Result:    resp.Result,
		Reply:     resp.Reply,
	}
}

// parseRequestTopic extracts the handler and optional request ID from
// graylogic/request/serial/{handler}[/{request_id}].
func parseRequestTopic(topic string) (handlerID, requestID string, err error) {
	return parseHandlerTopic(mqtt.Topics{}.AllSerialRequests(), topic)
}

// parseQueryTopic is parseRequestTopic for graylogic/query/serial/...
func parseQueryTopic(topic string) (handlerID, requestID string, err error) {
	return parseHandlerTopic(mqtt.Topics{}.AllSerialQueries(), topic)
}

func parseHandlerTopic(pattern, topic string) (handlerID, requestID string, err error) {
	prefix := strings.TrimSuffix(pattern, "#")
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok || rest == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	handlerID, requestID, _ = strings.Cut(rest, "/")
	if handlerID == "" || strings.Contains(requestID, "/") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return handlerID, requestID, nil
}
