package serialbus

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Frame defaults.
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultFrameTimeout = time.Second
	DefaultDrainTimeout = 100 * time.Millisecond

	// terminator is the prompt character; two in a row end a frame.
	terminator = ':'

	// pollReadTimeout turns a port read into a near non-blocking poll.
	pollReadTimeout = time.Millisecond

	readChunk = 64
)

// Reply is the ordered list of lines of one protocol exchange.
// Line 0 is normally the echo of the command, line 1 the payload.
type Reply []string

// Line returns line i and whether it exists.
func (r Reply) Line(i int) (string, bool) {
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

// FrameOptions tunes frame timing. Zero values take the defaults.
type FrameOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	DrainTimeout time.Duration
	Clock        Clock
}

func (o FrameOptions) withDefaults() FrameOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultFrameTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	return o
}

type frameState int

const (
	stateLine frameState = iota
	stateTerminator
)

// FrameReader assembles replies from one endpoint.
//
// Bytes received after an end-of-frame marker are kept for the next call, so
// a FrameReader must be reused for the lifetime of its endpoint and never
// shared between goroutines.
type FrameReader struct {
	ep      Endpoint
	opts    FrameOptions
	pending []byte
	chunk   [readChunk]byte
}

// NewFrameReader returns a reader bound to ep.
func NewFrameReader(ep Endpoint, opts FrameOptions) *FrameReader {
	return &FrameReader{ep: ep, opts: opts.withDefaults()}
}

// ReadFrame reads one reply terminated by two consecutive ':' characters.
//
// The endpoint is polled with a short read timeout for the duration of the
// call and put back into blocking mode before returning. If the frame does
// not complete within the timeout budget ErrFrameTimeout is returned.
func (r *FrameReader) ReadFrame(ctx context.Context) (Reply, error) {
	if err := r.ep.SetReadTimeout(pollReadTimeout); err != nil {
		return nil, fmt.Errorf("setting poll mode on %s: %w", r.ep.Path(), err)
	}
	defer r.ep.SetReadTimeout(serial.NoTimeout) //nolint:errcheck // best-effort restore

	clock := r.opts.Clock
	deadline := clock.Now().Add(r.opts.Timeout)

	var (
		lines []string
		line  []byte
		state = stateLine
	)

	for {
		if len(r.pending) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			now := clock.Now()
			if !now.Before(deadline) {
				return nil, ErrFrameTimeout
			}

			n, err := r.ep.Read(r.chunk[:])
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", r.ep.Path(), err)
			}
			if n == 0 {
				wait := r.opts.PollInterval
				if remaining := deadline.Sub(now); remaining < wait {
					wait = remaining
				}
				if err := clock.Sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			r.pending = append(r.pending, r.chunk[:n]...)
		}

		b := r.pending[0]
		r.pending = r.pending[1:]

		switch state {
		case stateTerminator:
			if b == terminator {
				if len(line) > 0 {
					lines = append(lines, string(line))
				}
				return Reply(lines), nil
			}
			// A lone ':' is ordinary line content.
			line = append(line, terminator)
			state = stateLine
			line, lines, state = consume(b, line, lines, state)
		default:
			line, lines, state = consume(b, line, lines, state)
		}
	}
}

// consume applies one byte in stateLine.
func consume(b byte, line []byte, lines []string, state frameState) ([]byte, []string, frameState) {
	switch {
	case b == terminator:
		return line, lines, stateTerminator
	case b == '\n':
		return line[:0:0], append(lines, string(line)), state
	case b >= ' ':
		return append(line, b), lines, state
	default:
		// CR and other control bytes carry no content.
		return line, lines, state
	}
}

// Drain discards buffered input so the next exchange starts clean. It
// returns once the line has been quiet for one poll interval or the drain
// budget is spent.
func (r *FrameReader) Drain(ctx context.Context) error {
	r.pending = nil
	if err := r.ep.ResetInputBuffer(); err != nil {
		return fmt.Errorf("resetting input on %s: %w", r.ep.Path(), err)
	}
	if err := r.ep.SetReadTimeout(pollReadTimeout); err != nil {
		return fmt.Errorf("setting poll mode on %s: %w", r.ep.Path(), err)
	}
	defer r.ep.SetReadTimeout(serial.NoTimeout) //nolint:errcheck // best-effort restore

	clock := r.opts.Clock
	deadline := clock.Now().Add(r.opts.DrainTimeout)
	quiet := false

	for clock.Now().Before(deadline) {
		n, err := r.ep.Read(r.chunk[:])
		if err != nil {
			return fmt.Errorf("draining %s: %w", r.ep.Path(), err)
		}
		if n > 0 {
			quiet = false
			continue
		}
		if quiet {
			return nil
		}
		quiet = true
		if err := clock.Sleep(ctx, r.opts.PollInterval); err != nil {
			return err
		}
	}
	return nil
}
