package vm

import (
	"context"
	"fmt"
	"io"

	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// Stdio is the terminal a console session is attached to.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Console attaches stdio to the VM's serial console until the user detaches
// or ctx is cancelled.
func (o *Orchestrator) Console(ctx context.Context, vmName string, stdio Stdio) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}

	state, err := o.domState(ctx, n)
	if err != nil {
		return err
	}
	if err := status.RequireRunning(vmName, "attach to", state); err != nil {
		return err
	}

	cmd := o.command(invoke.Literal("console"), invoke.NameArg(n))
	if err := o.runner.Attach(ctx, cmd, stdio.In, stdio.Out, stdio.Err); err != nil {
		return fmt.Errorf("console session for %s ended: %w", n, o.classifier.Classify(err))
	}
	return nil
}

// SendKeys presses keys together on the VM's keyboard through the monitor,
// as in {"ctrl", "alt", "delete"}. Keys are QEMU qcodes.
func (o *Orchestrator) SendKeys(ctx context.Context, vmName string, keys []string) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no keys to send")
	}
	codes := make([]string, len(keys))
	for i, k := range keys {
		if codes[i], err = validate.QCode(k); err != nil {
			return err
		}
	}

	state, err := o.domState(ctx, n)
	if err != nil {
		return err
	}
	if err := status.RequireRunning(vmName, "send keys to", state); err != nil {
		return err
	}
	socket := o.socketPath(n)
	if socket.IsZero() {
		return fmt.Errorf("cannot send keys to %s: monitor socket directory is not available", n)
	}

	mon, err := o.dialer.Dial(ctx, socket)
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()

	if err := mon.SendKey(ctx, codes, 0); err != nil {
		return fmt.Errorf("failed to send keys to %s: %w", n, err)
	}
	return nil
}
