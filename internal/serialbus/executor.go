package serialbus

import (
	"context"
	"fmt"
	"strings"
)

// OutcomeKind enumerates the results of executing one command.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeMeta OutcomeKind = iota
	OutcomeState
	OutcomeDeviceError
	OutcomeCommunicationFailure
	// OutcomePresence reports whether the device is attached. Its State is
	// on-line or off-line, never a device value.
	OutcomePresence
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMeta:
		return "meta"
	case OutcomeState:
		return "state"
	case OutcomeDeviceError:
		return "device_error"
	case OutcomeCommunicationFailure:
		return "communication_failure"
	case OutcomePresence:
		return "presence"
	default:
		return "unknown"
	}
}

// State values reported without device I/O.
const (
	StateOnline  = "on-line"
	StateOffline = "off-line"
)

// Outcome is the result of one command.
type Outcome struct {
	Kind OutcomeKind
	// Result holds meta and list payloads.
	Result any
	// State is the device state for OutcomeState, or on-line/off-line for
	// OutcomePresence.
	State string
	// Attempts is the number of exchanges made.
	Attempts int
	// Err is a *DeviceError or *CommunicationError for failed outcomes.
	Err error
}

// Failed reports whether the outcome stops a batch.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeDeviceError || o.Kind == OutcomeCommunicationFailure
}

// Executor sends classified commands to an endpoint.
type Executor struct {
	profile *Profile
	retries int
	frames  FrameOptions
	logger  Logger
}

// NewExecutor returns an Executor for profile. A retries value of zero or
// less uses DefaultRetries.
func NewExecutor(profile *Profile, retries int, frames FrameOptions) *Executor {
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Executor{profile: profile, retries: retries, frames: frames, logger: noopLogger{}}
}

// SetLogger sets the logger for exchange diagnostics.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute runs one command. Local operations never touch ep, which may be
// nil for them.
func (e *Executor) Execute(ctx context.Context, ep Endpoint, cmd Command) Outcome {
	if cmd.Kind == KindLocal {
		return e.local(cmd)
	}
	return e.Run(ctx, &ScanResult{Target: ep}, []Command{cmd})
}

// Run executes a batch in order against the scan's target and returns the
// last outcome, or the first failure. Earlier successes are discarded.
func (e *Executor) Run(ctx context.Context, scan *ScanResult, cmds []Command) Outcome {
	var (
		out    Outcome
		reader *FrameReader
	)

	for _, cmd := range cmds {
		switch cmd.Kind {
		case KindLocal:
			out = e.local(cmd)
		case KindList:
			out = Outcome{Kind: OutcomeMeta, Result: identityStrings(scan)}
		case KindStatus:
			state := StateOffline
			if scan != nil && scan.Target != nil {
				state = StateOnline
			}
			out = Outcome{Kind: OutcomePresence, State: state}
		default:
			if scan == nil || scan.Target == nil {
				out = Outcome{Kind: OutcomePresence, State: StateOffline}
				break
			}
			if reader == nil {
				reader = NewFrameReader(scan.Target, e.frames)
			}
			out = e.exchange(ctx, reader, scan.Target, cmd)
		}

		if out.Failed() {
			return out
		}
	}
	return out
}

func (e *Executor) local(cmd Command) Outcome {
	switch cmd.Operation {
	case "capabilities":
		return Outcome{Kind: OutcomeMeta, Result: e.profile.Capabilities()}
	default:
		return Outcome{Kind: OutcomeMeta, Result: e.profile.Description}
	}
}

// exchange writes cmd and validates the reply, retrying on timeouts and
// echo mismatches. The endpoint is drained before every retry and is never
// reopened. A device error is returned at once, whatever the echo.
func (e *Executor) exchange(ctx context.Context, reader *FrameReader, ep Endpoint, cmd Command) Outcome {
	request := []byte(cmd.Raw + "\r\n")

	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if attempt > 1 {
			if err := reader.Drain(ctx); err != nil {
				lastErr = err
				if ctx.Err() != nil {
					return failure(attempt-1, ctx.Err())
				}
				continue
			}
		}

		if _, err := ep.Write(request); err != nil {
			lastErr = fmt.Errorf("writing %q: %w", cmd.Raw, err)
			e.logger.Debug("serial write failed", "path", ep.Path(), "attempt", attempt, "error", err)
			continue
		}

		reply, err := reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return failure(attempt, ctx.Err())
			}
			lastErr = err
			e.logger.Debug("serial read failed", "path", ep.Path(), "attempt", attempt, "error", err)
			continue
		}

		payload, hasPayload := reply.Line(1)
		if hasPayload && strings.Contains(payload, e.profile.ErrorToken) {
			return Outcome{
				Kind:     OutcomeDeviceError,
				Attempts: attempt,
				Err:      &DeviceError{Line: payload},
			}
		}

		if echo, _ := reply.Line(0); echo != cmd.Raw {
			lastErr = fmt.Errorf("echo mismatch: sent %q, got %q", cmd.Raw, echo)
			e.logger.Debug("serial echo mismatch", "path", ep.Path(), "attempt", attempt, "echo", echo)
			continue
		}

		return Outcome{Kind: OutcomeState, State: payload, Attempts: attempt}
	}

	return failure(e.retries, lastErr)
}

func failure(attempts int, err error) Outcome {
	return Outcome{
		Kind:     OutcomeCommunicationFailure,
		Attempts: attempts,
		Err:      &CommunicationError{Attempts: attempts, Err: err},
	}
}

func identityStrings(scan *ScanResult) []string {
	if scan == nil {
		return []string{}
	}
	ids := make([]string, len(scan.Identities))
	for i, id := range scan.Identities {
		ids[i] = string(id)
	}
	return ids
}
