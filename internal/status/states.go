package status

import (
	"fmt"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
)

// StateError reports an operation refused because the domain is in the
// wrong lifecycle state.
type StateError struct {
	Name  string
	Op    string
	State v1alpha1.VMState
	Want  v1alpha1.VMState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s: domain is %s, must be %s", e.Op, e.Name, e.State, e.Want)
}

// Unwrap maps the refusal onto the semantic sentinels.
func (e *StateError) Unwrap() error {
	if e.Want == v1alpha1.VMStateRunning {
		return fault.ErrNotRunning
	}
	return fault.ErrInvalidState
}

// RequireStopped refuses op unless the domain is Stopped.
func RequireStopped(name, op string, state v1alpha1.VMState) error {
	if state == v1alpha1.VMStateStopped {
		return nil
	}
	return &StateError{Name: name, Op: op, State: state, Want: v1alpha1.VMStateStopped}
}

// RequireRunning refuses op unless the domain is Running.
func RequireRunning(name, op string, state v1alpha1.VMState) error {
	if state == v1alpha1.VMStateRunning {
		return nil
	}
	return &StateError{Name: name, Op: op, State: state, Want: v1alpha1.VMStateRunning}
}

// HasProcess reports whether a qemu process exists for the state.
func HasProcess(state v1alpha1.VMState) bool {
	switch state {
	case v1alpha1.VMStateRunning, v1alpha1.VMStatePaused, v1alpha1.VMStateShuttingDown:
		return true
	}
	return false
}

// IsTransitioning reports whether the domain is between stable states.
func IsTransitioning(state v1alpha1.VMState) bool {
	return state == v1alpha1.VMStateShuttingDown
}
