package serialbus

import (
	"strings"
)

// CommandClass is the security class of an operation.
type CommandClass int

// Command classes.
const (
	ClassMeta CommandClass = iota
	ClassRead
	ClassWrite
)

func (c CommandClass) String() string {
	switch c {
	case ClassMeta:
		return "meta"
	case ClassRead:
		return "read"
	case ClassWrite:
		return "write"
	default:
		return "unknown"
	}
}

// OperationKind says how an operation is served, independent of its class.
type OperationKind int

// Operation kinds.
const (
	// KindDevice is sent to the device and answered from its reply.
	KindDevice OperationKind = iota
	// KindLocal is answered from the profile without I/O.
	KindLocal
	// KindList returns the identities found by the scan.
	KindList
	// KindStatus reports whether the addressed device is attached.
	KindStatus
)

// Operation is one row of a profile's command table.
type Operation struct {
	Name  string
	Class CommandClass
	Kind  OperationKind
}

// Command is a classified command line.
type Command struct {
	// Raw is the text sent to the device and expected back as the echo.
	Raw       string
	Operation string
	Argument  string
	Class     CommandClass
	Kind      OperationKind
}

// NeedsAddress reports whether the command must name a target device.
func (c Command) NeedsAddress() bool {
	return c.Class != ClassMeta && c.Kind != KindList
}

// NeedsBus reports whether the command requires a bus scan.
func (c Command) NeedsBus() bool {
	return c.Class != ClassMeta
}

// CheckAddress returns ErrNoDeviceAddress when any command in the batch
// needs a target and deviceID is empty.
func CheckAddress(cmds []Command, deviceID string) error {
	if deviceID != "" {
		return nil
	}
	for _, cmd := range cmds {
		if cmd.NeedsAddress() {
			return ErrNoDeviceAddress
		}
	}
	return nil
}

// Classify parses raw and looks its operation up in the command table.
// An empty command becomes the profile's default command.
func (p *Profile) Classify(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = p.DefaultCommand
	}

	op, arg := raw, ""
	if i := strings.IndexAny(raw, " \r\n"); i >= 0 {
		op, arg = raw[:i], strings.TrimSpace(raw[i+1:])
	}
	op = strings.ToLower(op)

	spec, ok := p.operation(op)
	if !ok {
		return Command{}, &UnrecognizedCommandError{Operation: op, Raw: raw}
	}

	return Command{
		Raw:       raw,
		Operation: op,
		Argument:  arg,
		Class:     spec.Class,
		Kind:      spec.Kind,
	}, nil
}

// ClassifyAll classifies a whole batch, failing on the first unrecognized
// command so nothing in the batch runs.
func (p *Profile) ClassifyAll(raws []string) ([]Command, error) {
	if len(raws) == 0 {
		raws = []string{""}
	}
	cmds := make([]Command, 0, len(raws))
	for _, raw := range raws {
		cmd, err := p.Classify(raw)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (p *Profile) operation(name string) (Operation, bool) {
	for _, op := range p.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// Capabilities lists the recognized operation keywords in table order.
func (p *Profile) Capabilities() []string {
	names := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		names[i] = op.Name
	}
	return names
}
