// Package invoke runs external tools without a shell.
//
// Arguments are built only from program literals and validated values (see
// Arg), each run has a bounded timeout, and stdout and stderr are captured
// separately. A run that times out or is cancelled has its whole process
// group killed. Nothing here retries.
package invoke

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/go-logr/logr"

	"github.com/jbweber/vmtools/internal/metrics"
)

// DefaultTimeout applies when Run is given a zero timeout.
const DefaultTimeout = 30 * time.Second

// waitDelay bounds how long Wait blocks on output pipes after the process
// has been killed.
const waitDelay = 2 * time.Second

// Output is what a successful run produced.
type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs one command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command, timeout time.Duration) (Output, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	log     logr.Logger
	metrics *metrics.Metrics
}

// Option configures an Exec.
type Option func(*Exec)

// WithLogger sets the logger. Invocations are logged at V(1).
func WithLogger(log logr.Logger) Option {
	return func(e *Exec) { e.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exec) { e.metrics = m }
}

// NewExec creates an Exec.
func NewExec(opts ...Option) *Exec {
	e := &Exec{log: logr.Discard()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes c and waits for it. A non-zero exit, a timeout, a cancelled
// ctx and a failure to start are all returned as *InvocationError.
func (e *Exec) Run(ctx context.Context, c Command, timeout time.Duration) (Output, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Tool, c.Argv()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	ownProcessGroup(cmd)

	log := e.log.WithValues("tool", c.ToolName(), "verb", c.Verb())
	log.V(1).Info("running command", "argv", c.Argv(), "timeout", timeout)

	start := time.Now()
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	if err == nil {
		log.V(1).Info("command finished", "duration", out.Duration)
		e.metrics.ObserveInvocation(c.ToolName(), c.Verb(), "ok", out.Duration)
		return out, nil
	}

	ierr := classify(runCtx, c, err, out.Stderr)
	log.V(1).Info("command failed", "duration", out.Duration, "kind", ierr.Kind.String(), "exitCode", ierr.ExitCode, "stderr", out.Stderr)
	e.metrics.ObserveInvocation(c.ToolName(), c.Verb(), outcome(ierr.Kind), out.Duration)
	return out, ierr
}

// Attach runs c with the caller's stdio and no timeout, for interactive
// sessions such as a serial console. The child stays in the caller's process
// group so terminal signals reach it.
func (e *Exec) Attach(ctx context.Context, c Command, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, c.Tool, c.Argv()...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	e.log.V(1).Info("attaching", "tool", c.ToolName(), "argv", c.Argv())
	start := time.Now()
	if err := cmd.Run(); err != nil {
		ierr := classify(ctx, c, err, "")
		e.metrics.ObserveInvocation(c.ToolName(), c.Verb(), outcome(ierr.Kind), time.Since(start))
		return ierr
	}
	e.metrics.ObserveInvocation(c.ToolName(), c.Verb(), "ok", time.Since(start))
	return nil
}

func classify(ctx context.Context, c Command, err error, stderr string) *InvocationError {
	ierr := &InvocationError{Command: c, Stderr: stderr, ExitCode: -1, Err: err}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		ierr.Kind = KindTimeout
		ierr.Err = ctxErr
		return ierr
	case ctxErr != nil:
		ierr.Kind = KindCanceled
		ierr.Err = ctxErr
		return ierr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ierr.Kind = KindNonZeroExit
		ierr.ExitCode = exitErr.ExitCode()
		return ierr
	}
	ierr.Kind = KindSpawn
	return ierr
}

func outcome(k Kind) string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNonZeroExit:
		return "error"
	case KindCanceled:
		return "canceled"
	}
	return "spawn_error"
}
