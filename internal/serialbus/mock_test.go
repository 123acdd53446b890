package serialbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

// mockEndpoint is a scripted serial endpoint that records all I/O.
type mockEndpoint struct {
	path string

	// script holds replies queued one per written line, ahead of respond.
	script []string
	// respond builds the reply to a written line when script is empty.
	respond func(line string) string
	// maxRead limits bytes returned per Read; 0 means unlimited.
	maxRead int
	readErr error

	inbox        []byte
	partial      string
	writes       []string
	reads        int
	resets       int
	readTimeouts []time.Duration
	closed       bool
}

func (m *mockEndpoint) Path() string { return m.path }

func (m *mockEndpoint) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("write on closed endpoint")
	}
	m.partial += string(p)
	for {
		i := strings.Index(m.partial, "\r\n")
		if i < 0 {
			break
		}
		line := m.partial[:i]
		m.partial = m.partial[i+2:]
		m.writes = append(m.writes, line)

		switch {
		case len(m.script) > 0:
			m.inbox = append(m.inbox, m.script[0]...)
			m.script = m.script[1:]
		case m.respond != nil:
			m.inbox = append(m.inbox, m.respond(line)...)
		}
	}
	return len(p), nil
}

func (m *mockEndpoint) Read(p []byte) (int, error) {
	m.reads++
	if m.closed {
		return 0, errors.New("read on closed endpoint")
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	limit := len(p)
	if m.maxRead > 0 && m.maxRead < limit {
		limit = m.maxRead
	}
	n := copy(p[:limit], m.inbox)
	m.inbox = m.inbox[n:]
	return n, nil
}

func (m *mockEndpoint) Close() error {
	m.closed = true
	return nil
}

func (m *mockEndpoint) SetReadTimeout(d time.Duration) error {
	m.readTimeouts = append(m.readTimeouts, d)
	return nil
}

func (m *mockEndpoint) ResetInputBuffer() error {
	m.resets++
	m.inbox = nil
	return nil
}

// ioCount is the number of reads and writes performed.
func (m *mockEndpoint) ioCount() int {
	return m.reads + len(m.writes)
}

// deviceResponder behaves like a PICAXE board with the given identity.
func deviceResponder(id string) func(string) string {
	return func(line string) string {
		switch {
		case line == "ABOUT":
			return "ABOUT\r\nCanaKit UK1104\r\nID " + id + " fw 1.2\r\n::"
		case strings.HasPrefix(strings.ToUpper(line), "GET"):
			return line + "\r\nON\r\n::"
		case strings.HasSuffix(line, " 99"):
			return line + "\r\nERROR 3 bad relay\r\n::"
		default:
			return line + "\r\nOK\r\n::"
		}
	}
}

// mockOpener opens mock endpoints by path.
type mockOpener struct {
	endpoints map[string]*mockEndpoint
	errs      map[string]error
	opened    []string
}

func newMockOpener() *mockOpener {
	return &mockOpener{
		endpoints: make(map[string]*mockEndpoint),
		errs:      make(map[string]error),
	}
}

func (o *mockOpener) add(ep *mockEndpoint) {
	o.endpoints[ep.path] = ep
}

func (o *mockOpener) Open(path string) (Endpoint, error) {
	o.opened = append(o.opened, path)
	if err := o.errs[path]; err != nil {
		return nil, err
	}
	ep, ok := o.endpoints[path]
	if !ok {
		return nil, fmt.Errorf("no such device %s", path)
	}
	ep.closed = false
	return ep, nil
}

// staticLister returns fixed paths.
type staticLister struct {
	paths []string
	err   error
	calls int
}

func (l *staticLister) List(string) ([]string, error) {
	l.calls++
	return l.paths, l.err
}

// testFrames returns frame options driven by clock.
func testFrames(clock Clock) FrameOptions {
	return FrameOptions{Clock: clock}
}

func testProfile() *Profile {
	p, err := LookupProfile(ProfileUK1104)
	if err != nil {
		panic(err)
	}
	return p
}
