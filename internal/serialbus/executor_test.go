package serialbus

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func mustClassify(t *testing.T, raw string) Command {
	t.Helper()
	cmd, err := testProfile().Classify(raw)
	if err != nil {
		t.Fatalf("Classify(%q) error = %v", raw, err)
	}
	return cmd
}

func newTestExecutor() *Executor {
	return NewExecutor(testProfile(), 0, testFrames(newFakeClock()))
}

func TestExecuteMetaPerformsNoIO(t *testing.T) {
	for _, raw := range []string{"capabilities", "description"} {
		t.Run(raw, func(t *testing.T) {
			ep := &mockEndpoint{path: "/dev/ttyACM0", respond: deviceResponder("42")}
			out := newTestExecutor().Execute(context.Background(), ep, mustClassify(t, raw))

			if out.Kind != OutcomeMeta {
				t.Errorf("Kind = %v, want meta", out.Kind)
			}
			if ep.ioCount() != 0 || len(ep.readTimeouts) != 0 || ep.resets != 0 {
				t.Errorf("meta command touched the endpoint: io=%d", ep.ioCount())
			}
		})
	}
}

func TestExecuteMetaValues(t *testing.T) {
	e := newTestExecutor()

	caps := e.Execute(context.Background(), nil, mustClassify(t, "capabilities"))
	if !reflect.DeepEqual(caps.Result, testProfile().Capabilities()) {
		t.Errorf("capabilities = %v", caps.Result)
	}

	desc := e.Execute(context.Background(), nil, mustClassify(t, "description"))
	if desc.Result != testProfile().Description {
		t.Errorf("description = %v", desc.Result)
	}
}

func TestExecuteDevice(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		script       []string
		wantKind     OutcomeKind
		wantState    string
		wantWrites   int
		wantAttempts int
	}{
		{
			name:         "clean exchange",
			raw:          "GET 1",
			script:       []string{"GET 1\r\nON\r\n::"},
			wantKind:     OutcomeState,
			wantState:    "ON",
			wantWrites:   1,
			wantAttempts: 1,
		},
		{
			name:         "echo mismatch then correct",
			raw:          "ON 2",
			script:       []string{"N 2\r\nOK\r\n::", "ON 2\r\nOK\r\n::"},
			wantKind:     OutcomeState,
			wantState:    "OK",
			wantWrites:   2,
			wantAttempts: 2,
		},
		{
			name:         "timeout then correct",
			raw:          "GET 3",
			script:       []string{"", "GET 3\r\nOFF\r\n::"},
			wantKind:     OutcomeState,
			wantState:    "OFF",
			wantWrites:   2,
			wantAttempts: 2,
		},
		{
			name: "echo mismatch every attempt",
			raw:  "TOGGLE 1",
			script: []string{
				"X\r\nOK\r\n::", "X\r\nOK\r\n::", "X\r\nOK\r\n::", "X\r\nOK\r\n::", "X\r\nOK\r\n::",
			},
			wantKind:     OutcomeCommunicationFailure,
			wantWrites:   DefaultRetries,
			wantAttempts: DefaultRetries,
		},
		{
			name:         "silent device",
			raw:          "GET 1",
			wantKind:     OutcomeCommunicationFailure,
			wantWrites:   DefaultRetries,
			wantAttempts: DefaultRetries,
		},
		{
			name:         "device error with good echo",
			raw:          "ON 9",
			script:       []string{"ON 9\r\nERROR relay out of range\r\n::"},
			wantKind:     OutcomeDeviceError,
			wantWrites:   1,
			wantAttempts: 1,
		},
		{
			name:         "device error with bad echo",
			raw:          "ON 9",
			script:       []string{"garbled\r\nERROR relay out of range\r\n::"},
			wantKind:     OutcomeDeviceError,
			wantWrites:   1,
			wantAttempts: 1,
		},
		{
			name:         "echo without payload",
			raw:          "SETID AB",
			script:       []string{"SETID AB\r\n::"},
			wantKind:     OutcomeState,
			wantState:    "",
			wantWrites:   1,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &mockEndpoint{path: "/dev/ttyACM0", script: tt.script}
			out := newTestExecutor().Execute(context.Background(), ep, mustClassify(t, tt.raw))

			if out.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v (err %v)", out.Kind, tt.wantKind, out.Err)
			}
			if out.State != tt.wantState {
				t.Errorf("State = %q, want %q", out.State, tt.wantState)
			}
			if len(ep.writes) != tt.wantWrites {
				t.Errorf("writes = %d, want %d", len(ep.writes), tt.wantWrites)
			}
			if out.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", out.Attempts, tt.wantAttempts)
			}
			for _, w := range ep.writes {
				if w != tt.raw {
					t.Errorf("wrote %q, want %q", w, tt.raw)
				}
			}
			if ep.closed {
				t.Error("executor must not close or reopen the endpoint")
			}
		})
	}
}

func TestExecuteDeviceErrorCarriesLine(t *testing.T) {
	ep := &mockEndpoint{path: "/dev/ttyACM0", script: []string{"ON 9\r\nERROR relay out of range\r\n::"}}
	out := newTestExecutor().Execute(context.Background(), ep, mustClassify(t, "ON 9"))

	var de *DeviceError
	if !errors.As(out.Err, &de) {
		t.Fatalf("Err = %v, want *DeviceError", out.Err)
	}
	if de.Line != "ERROR relay out of range" {
		t.Errorf("Line = %q", de.Line)
	}
	if !errors.Is(out.Err, ErrDeviceReported) {
		t.Error("DeviceError should match ErrDeviceReported")
	}
}

func TestExecuteCommunicationFailureWrapsCause(t *testing.T) {
	ep := &mockEndpoint{path: "/dev/ttyACM0"}
	out := newTestExecutor().Execute(context.Background(), ep, mustClassify(t, "GET 1"))

	if !errors.Is(out.Err, ErrCommunication) {
		t.Errorf("Err = %v, want ErrCommunication", out.Err)
	}
	if !errors.Is(out.Err, ErrFrameTimeout) {
		t.Errorf("Err = %v, want wrapped ErrFrameTimeout", out.Err)
	}
}

func TestExecuteDrainsBeforeRetry(t *testing.T) {
	ep := &mockEndpoint{path: "/dev/ttyACM0", script: []string{"X\r\n::", "GET 1\r\nON\r\n::"}}
	out := newTestExecutor().Execute(context.Background(), ep, mustClassify(t, "GET 1"))

	if out.Kind != OutcomeState {
		t.Fatalf("Kind = %v", out.Kind)
	}
	if ep.resets != 1 {
		t.Errorf("resets = %d, want 1 drain before the retry", ep.resets)
	}
}

func TestRunBatch(t *testing.T) {
	cmds := func(raws ...string) []Command {
		out := make([]Command, len(raws))
		for i, raw := range raws {
			out[i] = mustClassify(t, raw)
		}
		return out
	}

	t.Run("returns last outcome", func(t *testing.T) {
		ep := &mockEndpoint{path: "/dev/ttyACM0", respond: deviceResponder("42")}
		scan := &ScanResult{Identities: []Identity{"42"}, Target: ep}

		out := newTestExecutor().Run(context.Background(), scan, cmds("ON 1", "GET 1"))
		if out.Kind != OutcomeState || out.State != "ON" {
			t.Errorf("Run() = %+v, want state ON", out)
		}
		if !reflect.DeepEqual(ep.writes, []string{"ON 1", "GET 1"}) {
			t.Errorf("writes = %v", ep.writes)
		}
	})

	t.Run("stops at device error", func(t *testing.T) {
		ep := &mockEndpoint{path: "/dev/ttyACM0", respond: deviceResponder("42")}
		scan := &ScanResult{Identities: []Identity{"42"}, Target: ep}

		out := newTestExecutor().Run(context.Background(), scan, cmds("ON 1", "ON 99", "GET 1"))
		if out.Kind != OutcomeDeviceError {
			t.Errorf("Kind = %v, want device error", out.Kind)
		}
		if !reflect.DeepEqual(ep.writes, []string{"ON 1", "ON 99"}) {
			t.Errorf("writes = %v, GET must not run", ep.writes)
		}
	})

	t.Run("list and status use the scan", func(t *testing.T) {
		ep := &mockEndpoint{path: "/dev/ttyACM0"}
		scan := &ScanResult{Identities: []Identity{"11", "42"}, Target: ep}
		e := newTestExecutor()

		list := e.Run(context.Background(), scan, cmds("list"))
		if !reflect.DeepEqual(list.Result, []string{"11", "42"}) {
			t.Errorf("list = %v", list.Result)
		}

		status := e.Run(context.Background(), scan, cmds("status"))
		if status.Kind != OutcomePresence || status.State != StateOnline {
			t.Errorf("status = %v %q, want presence on-line", status.Kind, status.State)
		}
		if ep.ioCount() != 0 {
			t.Errorf("list/status performed %d I/O operations", ep.ioCount())
		}
	})
}

func TestRunWithoutTargetReportsPresence(t *testing.T) {
	cmds := []Command{mustClassify(t, "GET 1")}

	tests := []struct {
		name string
		scan *ScanResult
	}{
		{"no scan", nil},
		{"target absent", &ScanResult{Identities: []Identity{"11"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newTestExecutor().Run(context.Background(), tt.scan, cmds)
			if out.Kind != OutcomePresence || out.State != StateOffline {
				t.Errorf("Run() = %v %q, want presence off-line", out.Kind, out.State)
			}
			if out.Kind == OutcomeState {
				t.Error("an absent device must not produce a device state")
			}
		})
	}
}
