package serialbus

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
)

// Endpoint is one open duplex serial channel.
//
// Read must return (0, nil) when no data arrived within the read timeout,
// matching go.bug.st/serial semantics.
type Endpoint interface {
	// Path is the OS path the endpoint was opened from. It is not stable
	// across reconnects.
	Path() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

// Opener opens an endpoint by path.
type Opener interface {
	Open(path string) (Endpoint, error)
}

// Lister enumerates candidate endpoint paths for a discovery pattern.
type Lister interface {
	List(pattern string) ([]string, error)
}

// Logger is the logging interface used by the serial bus components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default line settings for the supported devices.
const (
	DefaultBaudRate = 9600
	DefaultPattern  = "/dev/*ACM*"
)

// SerialOpener opens real serial ports via go.bug.st/serial.
type SerialOpener struct {
	BaudRate int
}

// Open opens path as 8N1 at the configured baud rate.
func (o SerialOpener) Open(path string) (Endpoint, error) {
	baud := o.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	return &serialEndpoint{Port: port, path: path}, nil
}

type serialEndpoint struct {
	serial.Port
	path string
}

func (e *serialEndpoint) Path() string { return e.path }

// PortLister lists ports known to the serial driver and keeps those matching
// the pattern. When the driver reports nothing (common inside containers
// where the enumeration sources are not mounted) it globs the filesystem.
type PortLister struct {
	// ListPorts overrides serial.GetPortsList; nil uses the driver.
	ListPorts func() ([]string, error)
}

// List returns the matching paths in sorted order.
func (l PortLister) List(pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid discovery pattern %q: %w", pattern, err)
	}

	list := l.ListPorts
	if list == nil {
		list = serial.GetPortsList
	}

	ports, err := list()
	if err != nil || len(ports) == 0 {
		matches, globErr := filepath.Glob(pattern)
		if globErr != nil {
			return nil, fmt.Errorf("globbing %q: %w", pattern, globErr)
		}
		sort.Strings(matches)
		return matches, nil
	}

	var matches []string
	for _, p := range ports {
		if ok, _ := filepath.Match(pattern, p); ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
