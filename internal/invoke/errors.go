package invoke

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jbweber/vmtools/internal/fault"
)

// Sentinels matched by errors.Is against an *InvocationError.
var (
	ErrSpawn       = errors.New("failed to spawn process")
	ErrTimeout     = errors.New("process timed out")
	ErrNonZeroExit = errors.New("process exited with non-zero status")
)

// Kind classifies an invocation failure.
type Kind int

const (
	KindSpawn Kind = iota
	KindTimeout
	KindNonZeroExit
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindTimeout:
		return "timeout"
	case KindNonZeroExit:
		return "non-zero exit"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// InvocationError reports a failed external tool run.
type InvocationError struct {
	Command  Command
	Kind     Kind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Command.ToolName())
	if v := e.Command.Verb(); v != "" {
		b.WriteString(" " + v)
	}
	switch e.Kind {
	case KindNonZeroExit:
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	default:
		b.WriteString(": " + e.Kind.String())
		if e.Err != nil {
			b.WriteString(": " + e.Err.Error())
		}
	}
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		b.WriteString(": " + firstLine(msg))
	}
	return b.String()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind.
func (e *InvocationError) Is(target error) bool {
	switch target {
	case ErrSpawn:
		return e.Kind == KindSpawn
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrNonZeroExit:
		return e.Kind == KindNonZeroExit
	}
	return false
}

// Boundary implements fault.Bounded.
func (e *InvocationError) Boundary() fault.Boundary {
	return fault.BoundaryInvocation
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
