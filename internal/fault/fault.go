// Package fault defines the semantic error values shared across vmtools and
// classifies any error by the external boundary it came from.
//
// Boundary error types live in the packages that own the boundary
// (validate, invoke, parser, qmp). Each of them implements Boundary() so
// that BoundaryOf can find it anywhere in a wrapped chain without this
// package importing them.
package fault

import (
	"errors"
	"io/fs"
)

// Boundary names where an error originated.
type Boundary string

const (
	// BoundaryValidation is input rejected before reaching any external system.
	BoundaryValidation Boundary = "validation"
	// BoundaryInvocation is a failure running an external tool (virsh, qemu-img).
	BoundaryInvocation Boundary = "invocation"
	// BoundaryParse is external tool output that did not match its grammar.
	BoundaryParse Boundary = "parse"
	// BoundaryProtocol is a monitor protocol failure.
	BoundaryProtocol Boundary = "protocol"
	// BoundaryFilesystem is a local file operation failure.
	BoundaryFilesystem Boundary = "filesystem"
	// BoundaryCore is anything raised by vmtools itself.
	BoundaryCore Boundary = "core"
)

// Semantic errors. Callers branch on these with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInUse          = errors.New("in use")
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrInvalidState   = errors.New("invalid state")
)

// Bounded is implemented by errors that know their boundary.
type Bounded interface {
	error
	Boundary() Boundary
}

// BoundaryOf reports the boundary of the outermost bounded error in err's
// chain. Filesystem path errors map to BoundaryFilesystem and everything else
// to BoundaryCore.
func BoundaryOf(err error) Boundary {
	if err == nil {
		return ""
	}
	var b Bounded
	if errors.As(err, &b) {
		return b.Boundary()
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return BoundaryFilesystem
	}
	return BoundaryCore
}

// Kind returns the semantic sentinel err matches, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrAlreadyExists, ErrInUse, ErrAlreadyRunning, ErrNotRunning, ErrInvalidState} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
