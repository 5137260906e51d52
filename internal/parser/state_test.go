package parser

import (
	"testing"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

func TestParseState(t *testing.T) {
	tests := map[string]v1alpha1.VMState{
		"running":              v1alpha1.VMStateRunning,
		"idle":                 v1alpha1.VMStateRunning,
		"blocked":              v1alpha1.VMStateRunning,
		"shut off":             v1alpha1.VMStateStopped,
		"  Shut   Off \n":      v1alpha1.VMStateStopped,
		"shut off (destroyed)": v1alpha1.VMStateStopped,
		"paused":               v1alpha1.VMStatePaused,
		"pmsuspended":          v1alpha1.VMStatePaused,
		"in shutdown":          v1alpha1.VMStateShuttingDown,
		"crashed":              v1alpha1.VMStateCrashed,
		"whatever":             v1alpha1.VMStateUnknown,
		"":                     v1alpha1.VMStateUnknown,
	}
	for in, want := range tests {
		if got := ParseState(in); got != want {
			t.Errorf("ParseState(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseDomState(t *testing.T) {
	if got := ParseDomState("shut off\n\n"); got != v1alpha1.VMStateStopped {
		t.Fatalf("ParseDomState = %s", got)
	}
}
