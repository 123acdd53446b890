package serial

import "errors"

var (
	// ErrNoHandlers is returned by NewBridge when no handler is configured.
	ErrNoHandlers = errors.New("serial bridge: no handlers configured")

	// ErrUnknownHandler is reported for requests naming an unconfigured handler.
	ErrUnknownHandler = errors.New("serial bridge: unknown handler")

	// ErrInvalidTopic is returned for request and query topics without a
	// handler segment.
	ErrInvalidTopic = errors.New("serial bridge: invalid topic")

	// ErrInvalidPayload is returned for request payloads that are not JSON.
	ErrInvalidPayload = errors.New("serial bridge: invalid request payload")

	// ErrNoStore is reported for queries when no state store is configured.
	ErrNoStore = errors.New("serial bridge: state store not configured")
)
