// Package parser turns virsh and qemu-img output into typed records.
//
// All functions are pure. An empty listing is never an error. A *ParseError
// is returned only when the text does not match the tool's grammar, and it
// carries the offending text for diagnosis.
package parser

import (
	"fmt"

	"github.com/jbweber/vmtools/internal/fault"
)

// maxQuoted bounds how much offending input a ParseError message echoes.
const maxQuoted = 200

// ParseError reports tool output that does not match its grammar.
type ParseError struct {
	What   string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	in := e.Input
	if len(in) > maxQuoted {
		in = in[:maxQuoted] + "..."
	}
	return fmt.Sprintf("failed to parse %s: %s: %q", e.What, e.Reason, in)
}

// Boundary implements fault.Bounded.
func (e *ParseError) Boundary() fault.Boundary {
	return fault.BoundaryParse
}
