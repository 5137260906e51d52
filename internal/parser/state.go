package parser

import (
	"strings"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

var states = map[string]v1alpha1.VMState{
	"running":     v1alpha1.VMStateRunning,
	"idle":        v1alpha1.VMStateRunning,
	"blocked":     v1alpha1.VMStateRunning,
	"shut off":    v1alpha1.VMStateStopped,
	"paused":      v1alpha1.VMStatePaused,
	"pmsuspended": v1alpha1.VMStatePaused,
	"in shutdown": v1alpha1.VMStateShuttingDown,
	"crashed":     v1alpha1.VMStateCrashed,
}

// ParseState maps a virsh state string to a VMState. It never fails:
// anything unrecognized is VMStateUnknown. A trailing reason, as printed by
// "domstate --reason", is ignored.
func ParseState(text string) v1alpha1.VMState {
	s := strings.ToLower(strings.TrimSpace(text))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Join(strings.Fields(s), " ")
	if st, ok := states[s]; ok {
		return st
	}
	return v1alpha1.VMStateUnknown
}

// ParseDomState parses "virsh domstate" output.
func ParseDomState(text string) v1alpha1.VMState {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return ParseState(line)
}
