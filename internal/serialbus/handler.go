package serialbus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reply tokens.
const (
	ReplyOK      = "ok"
	ReplyFailed  = "failed"
	ReplyOffline = StateOffline
)

// Trace outcomes for requests that never reached the executor.
const (
	TraceRejected       = "rejected"
	TraceTransportError = "transport_error"
	TraceOffline        = StateOffline
)

// Request is one call from the dispatch layer.
type Request struct {
	// Commands run in order. An empty list is the default command.
	Commands []string
	// DeviceID is the target identity. Meta commands and list ignore it.
	DeviceID string
	// Trust is the caller's trust level.
	Trust int
}

// Response is the uniform result of a request. Every failure is reported in
// Error; nothing is returned as a Go error.
type Response struct {
	Error  string `json:"error"`
	State  string `json:"state,omitempty"`
	Result any    `json:"result,omitempty"`
	Reply  string `json:"reply,omitempty"`

	// Trace describes how the response was produced. It is not part of the
	// wire format.
	Trace Trace `json:"-"`
}

// Trace records request diagnostics for telemetry and discovery.
type Trace struct {
	// Operation is the last operation attempted.
	Operation string
	// Outcome is an OutcomeKind string, or one of TraceRejected,
	// TraceTransportError, TraceOffline.
	Outcome  string
	Attempts int
	Duration time.Duration
	// Scanned is true when the bus was scanned.
	Scanned    bool
	Identities []string
	Exhaustive bool
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Profile *Profile
	// Pattern is the endpoint discovery glob. Empty uses DefaultPattern.
	Pattern string
	Retries int
	Frames  FrameOptions
	Policy  SensitivityPolicy
	// Opener defaults to SerialOpener at DefaultBaudRate.
	Opener Opener
	// Lister defaults to PortLister.
	Lister Lister
	Logger Logger
}

// Handler serves requests for one device profile.
type Handler struct {
	profile  *Profile
	pattern  string
	policy   SensitivityPolicy
	scanner  *Scanner
	executor *Executor
	logger   Logger
}

// NewHandler builds a Handler from opts.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Profile == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrUnknownProfile)
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.Opener == nil {
		opts.Opener = SerialOpener{BaudRate: DefaultBaudRate}
	}
	if opts.Lister == nil {
		opts.Lister = PortLister{}
	}

	h := &Handler{
		profile:  opts.Profile,
		pattern:  opts.Pattern,
		policy:   opts.Policy,
		scanner:  NewScanner(opts.Opener, opts.Lister, NewProber(opts.Profile, opts.Retries, opts.Frames)),
		executor: NewExecutor(opts.Profile, opts.Retries, opts.Frames),
		logger:   noopLogger{},
	}
	h.SetLogger(opts.Logger)
	return h, nil
}

// SetLogger sets the logger on the handler and its components.
func (h *Handler) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	h.logger = logger
	h.scanner.SetLogger(logger)
	h.executor.SetLogger(logger)
}

// Profile returns the handler's device profile.
func (h *Handler) Profile() *Profile {
	return h.profile
}

// Handle classifies, gates, resolves and executes a request.
//
// The whole batch is classified and gated before any endpoint is opened. A
// target that is not attached yields State "off-line" with no error.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := h.handle(ctx, req)
	resp.Trace.Duration = time.Since(start)
	return resp
}

func (h *Handler) handle(ctx context.Context, req Request) Response {
	cmds, err := h.profile.ClassifyAll(req.Commands)
	if err != nil {
		return rejected(err.Error(), "")
	}
	last := cmds[len(cmds)-1].Operation

	if err := h.policy.Check(cmds, req.Trust); err != nil {
		return rejected(err.Error(), last)
	}

	if err := CheckAddress(cmds, req.DeviceID); err != nil {
		return rejected(err.Error(), last)
	}

	needsBus, needsAddress := false, false
	for _, cmd := range cmds {
		needsBus = needsBus || cmd.NeedsBus()
		needsAddress = needsAddress || cmd.NeedsAddress()
	}

	var scan *ScanResult
	if needsBus {
		target := Identity("")
		if needsAddress {
			target = Identity(req.DeviceID)
		}

		scan, err = h.scanner.Scan(ctx, h.pattern, target)
		if err != nil {
			return h.scanFailure(err, last)
		}
		defer func() {
			if err := scan.Close(); err != nil {
				h.logger.Warn("closing serial endpoint", "error", err)
			}
		}()

		if needsAddress && scan.Target == nil {
			return Response{
				State: StateOffline,
				Reply: ReplyOffline,
				Trace: scanTrace(scan, last, TraceOffline),
			}
		}
	}

	out := h.executor.Run(ctx, scan, cmds)
	trace := scanTrace(scan, last, out.Kind.String())
	trace.Attempts = out.Attempts

	switch out.Kind {
	case OutcomeMeta:
		return Response{Result: out.Result, Reply: ReplyOK, Trace: trace}
	case OutcomeState:
		return Response{State: out.State, Reply: ReplyOK, Trace: trace}
	case OutcomePresence:
		reply := ReplyOK
		if out.State == StateOffline {
			reply = ReplyOffline
		}
		return Response{State: out.State, Reply: reply, Trace: trace}
	case OutcomeDeviceError:
		return Response{Error: out.Err.Error(), Reply: ReplyFailed, Trace: trace}
	default:
		cause := out.Err
		var ce *CommunicationError
		if errors.As(out.Err, &ce) && ce.Err != nil {
			cause = ce.Err
		}
		return Response{
			Error: fmt.Sprintf("unit %s_%s failed to communicate after %d attempts: %v",
				h.profile.Name, req.DeviceID, out.Attempts, cause),
			Reply: ReplyFailed,
			Trace: trace,
		}
	}
}

func (h *Handler) scanFailure(err error, op string) Response {
	var te *TransportError
	if errors.As(err, &te) {
		h.logger.Error("serial transport unavailable", "path", te.Path, "error", te.Err)
		return Response{
			Error: fmt.Sprintf("server unable to access device: %v", te.Err),
			Reply: ReplyFailed,
			Trace: Trace{Operation: op, Outcome: TraceTransportError, Scanned: true},
		}
	}
	return Response{
		Error: err.Error(),
		Reply: ReplyFailed,
		Trace: Trace{Operation: op, Outcome: TraceTransportError, Scanned: true},
	}
}

func rejected(msg, op string) Response {
	return Response{
		Error: msg,
		Reply: ReplyFailed,
		Trace: Trace{Operation: op, Outcome: TraceRejected},
	}
}

func scanTrace(scan *ScanResult, op, outcome string) Trace {
	t := Trace{Operation: op, Outcome: outcome}
	if scan != nil {
		t.Scanned = true
		t.Identities = identityStrings(scan)
		t.Exhaustive = scan.Exhaustive
	}
	return t
}

// ============================================================================
// Initialization
// ============================================================================

// InitState is the caller-held record of a handler's initialization. It is
// not safe for concurrent use.
type InitState struct {
	done       bool
	identities []Identity
}

// Done reports whether the whole-bus initialization has run.
func (s *InitState) Done() bool {
	return s != nil && s.done
}

// Identities returns the identities found by the whole-bus initialization.
func (s *InitState) Identities() []Identity {
	if s == nil {
		return nil
	}
	return s.identities
}

// Initialize prepares the handler at startup and may be called repeatedly.
//
// With an empty deviceID it scans the whole bus once per InitState and
// returns the identities found; later calls return the recorded result. With
// a deviceID it always re-resolves that device and returns ErrDeviceNotFound
// when it is absent.
func (h *Handler) Initialize(ctx context.Context, state *InitState, deviceID string) ([]Identity, error) {
	if deviceID != "" {
		ep, err := h.scanner.Resolve(ctx, h.pattern, Identity(deviceID))
		if err != nil {
			return nil, err
		}
		if err := ep.Close(); err != nil {
			h.logger.Warn("closing serial endpoint", "path", ep.Path(), "error", err)
		}
		return []Identity{Identity(deviceID)}, nil
	}

	if state.Done() {
		return state.identities, nil
	}

	scan, err := h.scanner.Scan(ctx, h.pattern, "")
	if err != nil {
		return nil, err
	}
	if err := scan.Close(); err != nil {
		h.logger.Warn("closing serial endpoint", "error", err)
	}

	if state != nil {
		state.done = true
		state.identities = scan.Identities
	}
	h.logger.Info("serial handler initialized",
		"profile", h.profile.Name,
		"devices", len(scan.Identities),
		"unidentified", len(scan.Unidentified),
	)
	return scan.Identities, nil
}
