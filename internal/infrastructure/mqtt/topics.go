package mqtt

import "fmt"

// Topic roots. Bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{handler}/{id}.
const (
	TopicPrefix = "graylogic"

	// ProtocolSerial is the protocol segment of every serial bridge topic.
	ProtocolSerial = "serial"

	TopicPrefixSystem = "graylogic/system"
)

// Topics builds serial bridge topic names.
//
//	topics := mqtt.Topics{}
//	topics.SerialState("relays", "42")
//	// "graylogic/state/serial/relays/42"
type Topics struct{}

// =============================================================================
// Serial Bridge Topics
// =============================================================================

// SerialRequest returns the topic a caller publishes a handler request on.
//
// Example: graylogic/request/serial/relays/3f0c...
func (Topics) SerialRequest(handlerID, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s/%s", TopicPrefix, ProtocolSerial, handlerID, requestID)
}

// SerialResponse returns the topic a request's response is published on.
//
// Example: graylogic/response/serial/relays/3f0c...
func (Topics) SerialResponse(handlerID, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s/%s", TopicPrefix, ProtocolSerial, handlerID, requestID)
}

// SerialState returns the retained state topic for one device.
//
// Example: graylogic/state/serial/relays/42
func (Topics) SerialState(handlerID, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, ProtocolSerial, handlerID, deviceID)
}

// SerialAvailability returns the retained presence topic for one device.
// It carries on-line/off-line and is kept apart from the device state.
//
// Example: graylogic/availability/serial/relays/42
func (Topics) SerialAvailability(handlerID, deviceID string) string {
	return fmt.Sprintf("%s/availability/%s/%s/%s", TopicPrefix, ProtocolSerial, handlerID, deviceID)
}

// SerialQuery returns the topic a caller publishes a stored-state query on.
// The answer arrives on SerialResponse with the same request ID.
//
// Example: graylogic/query/serial/relays/3f0c...
func (Topics) SerialQuery(handlerID, requestID string) string {
	return fmt.Sprintf("%s/query/%s/%s/%s", TopicPrefix, ProtocolSerial, handlerID, requestID)
}

// SerialDiscovery returns the topic listing the devices found by a handler.
//
// Example: graylogic/discovery/serial/relays
func (Topics) SerialDiscovery(handlerID string) string {
	return fmt.Sprintf("%s/discovery/%s/%s", TopicPrefix, ProtocolSerial, handlerID)
}

// SerialHealth returns the bridge health topic.
//
// Example: graylogic/health/serial
func (Topics) SerialHealth() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, ProtocolSerial)
}

// AllSerialRequests matches requests for every handler.
//
// Pattern: graylogic/request/serial/#
func (Topics) AllSerialRequests() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, ProtocolSerial)
}

// AllSerialQueries matches stored-state queries for every handler.
//
// Pattern: graylogic/query/serial/#
func (Topics) AllSerialQueries() string {
	return fmt.Sprintf("%s/query/%s/#", TopicPrefix, ProtocolSerial)
}

// AllSerialStates matches every retained device state.
//
// Pattern: graylogic/state/serial/+/+
func (Topics) AllSerialStates() string {
	return fmt.Sprintf("%s/state/%s/+/+", TopicPrefix, ProtocolSerial)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic carrying the Last Will.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
