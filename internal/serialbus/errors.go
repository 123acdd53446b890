package serialbus

import (
	"errors"
	"fmt"
)

// Domain errors for the serial bus package.
var (
	// ErrFrameTimeout is returned when no complete frame arrives within the
	// frame budget.
	ErrFrameTimeout = errors.New("serialbus: frame timeout")

	// ErrProbeFailed is returned when an endpoint never answers the identity
	// handshake correctly within the retry bound.
	ErrProbeFailed = errors.New("serialbus: probe failed")

	// ErrDeviceNotFound is returned when the requested identity is not
	// attached. Callers report this as off-line, not as an error.
	ErrDeviceNotFound = errors.New("serialbus: device not found")

	// ErrTransport is returned when an endpoint cannot be opened at all.
	ErrTransport = errors.New("serialbus: transport unavailable")

	// ErrUnrecognizedCommand is returned for operations missing from the
	// profile's command table.
	ErrUnrecognizedCommand = errors.New("serialbus: unrecognized command")

	// ErrNoDeviceAddress is returned when a device command arrives without a
	// target address. Its text is the response error.
	ErrNoDeviceAddress = errors.New("no device ID given")

	// ErrAccessDenied is returned when the caller's trust level is below the
	// threshold for a command class.
	ErrAccessDenied = errors.New("serialbus: access denied")

	// ErrCommunication is returned when a command exhausts its retries.
	ErrCommunication = errors.New("serialbus: communication failure")

	// ErrDeviceReported is returned when the device embeds its error token in
	// the reply.
	ErrDeviceReported = errors.New("serialbus: device reported error")

	// ErrUnknownProfile is returned by LookupProfile for unknown names.
	ErrUnknownProfile = errors.New("serialbus: unknown profile")
)

// TransportError reports an endpoint that could not be opened. It means the
// server itself cannot reach the bus (permissions, configuration), never that
// a device is off-line.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

// Unwrap allows errors.Is(err, ErrTransport).
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// UnrecognizedCommandError names an operation missing from the command table.
type UnrecognizedCommandError struct {
	Operation string
	Raw       string
}

func (e *UnrecognizedCommandError) Error() string {
	return fmt.Sprintf("device handler did not recognize command [%s] (%s)", e.Operation, e.Raw)
}

// Unwrap allows errors.Is(err, ErrUnrecognizedCommand).
func (e *UnrecognizedCommandError) Unwrap() error {
	return ErrUnrecognizedCommand
}

// AccessDeniedError reports a command rejected by the sensitivity gate.
type AccessDeniedError struct {
	Raw   string
	Class CommandClass
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("insufficient privileges to execute command (%s) (%s)", e.Raw, e.Class)
}

// Unwrap allows errors.Is(err, ErrAccessDenied).
func (e *AccessDeniedError) Unwrap() error {
	return ErrAccessDenied
}

// DeviceError carries the error line a device returned verbatim.
type DeviceError struct {
	Line string
}

func (e *DeviceError) Error() string {
	return "device replied: " + e.Line
}

// Unwrap allows errors.Is(err, ErrDeviceReported).
func (e *DeviceError) Unwrap() error {
	return ErrDeviceReported
}

// CommunicationError reports a command that never got a valid reply.
type CommunicationError struct {
	Attempts int
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("no valid reply after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap allows errors.Is(err, ErrCommunication) and inspection of the
// last cause.
func (e *CommunicationError) Unwrap() []error {
	return []error{ErrCommunication, e.Err}
}
