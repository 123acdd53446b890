package serialbus

// SensitivityPolicy maps command classes to the trust level a caller needs.
// It is owned by the caller and only read here.
type SensitivityPolicy struct {
	Thresholds map[CommandClass]int
}

// NewSensitivityPolicy returns a policy with read and write thresholds.
func NewSensitivityPolicy(read, write int) SensitivityPolicy {
	return SensitivityPolicy{Thresholds: map[CommandClass]int{
		ClassRead:  read,
		ClassWrite: write,
	}}
}

// Allows reports whether trust clears the threshold for class.
// Meta commands are always allowed. A class without a positive threshold is
// not enabled and is denied.
func (p SensitivityPolicy) Allows(class CommandClass, trust int) bool {
	if class == ClassMeta {
		return true
	}
	threshold, ok := p.Thresholds[class]
	if !ok || threshold <= 0 {
		return false
	}
	return trust >= threshold
}

// Check gates every command of a batch, returning the first denial.
func (p SensitivityPolicy) Check(cmds []Command, trust int) error {
	for _, cmd := range cmds {
		if !p.Allows(cmd.Class, trust) {
			return &AccessDeniedError{Raw: cmd.Raw, Class: cmd.Class}
		}
	}
	return nil
}
