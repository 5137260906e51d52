package qmp

import (
	"errors"
	"fmt"

	"github.com/jbweber/vmtools/internal/fault"
)

// Protocol failures. They are always wrapped in a *ProtocolError.
var (
	ErrMalformedGreeting   = errors.New("malformed greeting")
	ErrNegotiationRejected = errors.New("capabilities negotiation rejected")
	ErrConnectionLost      = errors.New("connection lost")
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrNotReady            = errors.New("session not ready")
)

// ProtocolError reports a monitor failure. Op is the command or phase.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("qmp %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Boundary implements fault.Bounded.
func (e *ProtocolError) Boundary() fault.Boundary {
	return fault.BoundaryProtocol
}

// CommandError is an error reply from the hypervisor.
type CommandError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Desc, e.Class)
}
