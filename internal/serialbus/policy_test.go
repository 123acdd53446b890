package serialbus

import (
	"errors"
	"testing"
)

func TestSensitivityPolicyAllows(t *testing.T) {
	tests := []struct {
		name   string
		policy SensitivityPolicy
		class  CommandClass
		trust  int
		want   bool
	}{
		{"meta always", SensitivityPolicy{}, ClassMeta, 0, true},
		{"read at threshold", NewSensitivityPolicy(10, 50), ClassRead, 10, true},
		{"read below", NewSensitivityPolicy(10, 50), ClassRead, 9, false},
		{"write above", NewSensitivityPolicy(10, 50), ClassWrite, 99, true},
		{"write below", NewSensitivityPolicy(10, 50), ClassWrite, 49, false},
		{"missing threshold", SensitivityPolicy{}, ClassRead, 100, false},
		{"zero threshold disables", NewSensitivityPolicy(0, 50), ClassRead, 100, false},
		{"negative threshold disables", NewSensitivityPolicy(-1, 50), ClassRead, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Allows(tt.class, tt.trust); got != tt.want {
				t.Errorf("Allows(%v, %d) = %v, want %v", tt.class, tt.trust, got, tt.want)
			}
		})
	}
}

func TestSensitivityPolicyCheck(t *testing.T) {
	p := testProfile()
	cmds, err := p.ClassifyAll([]string{"get 1", "on 1"})
	if err != nil {
		t.Fatal(err)
	}

	policy := NewSensitivityPolicy(10, 50)
	if err := policy.Check(cmds, 50); err != nil {
		t.Errorf("Check(trust=50) error = %v", err)
	}

	err = policy.Check(cmds, 20)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Check(trust=20) error = %v, want ErrAccessDenied", err)
	}
	want := "insufficient privileges to execute command (on 1) (write)"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
