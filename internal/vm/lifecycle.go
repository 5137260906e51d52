package vm

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/validate"
)

// Start boots a defined VM. Starting a running VM fails with
// fault.ErrAlreadyRunning. A VM whose disk is the backing file of an overlay
// clone is refused with fault.ErrInUse, since guest writes would show through
// in the clone.
func (o *Orchestrator) Start(ctx context.Context, vmName string) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}

	doc, err := o.dumpXML(ctx, n)
	if err != nil {
		return err
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return err
	}
	backs, err := o.backingDisks(o.ownedDisks(libvirt.DiskSources(dom)))
	if err != nil {
		return err
	}
	if len(backs) > 0 {
		var reasons []string
		for d, deps := range backs {
			reasons = append(reasons, fmt.Sprintf("%s backs %s", d, strings.Join(deps, ", ")))
		}
		slices.Sort(reasons)
		return fmt.Errorf("cannot start %s (%s): %w", n, strings.Join(reasons, "; "), fault.ErrInUse)
	}

	o.log.Info("Starting VM", "name", vmName)
	if _, err := o.virsh(ctx, invoke.Literal("start"), invoke.NameArg(n)); err != nil {
		return fmt.Errorf("failed to start %s: %w", n, err)
	}
	return nil
}

// Stop asks a VM to shut down, or powers it off when force is set. It does
// not wait; see WaitForState. Stopping a stopped VM is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, vmName string, force bool) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}

	state, err := o.domState(ctx, n)
	if err != nil {
		return err
	}
	if state == v1alpha1.VMStateStopped {
		o.log.Info("VM is already stopped", "name", vmName)
		return nil
	}

	verb := invoke.Literal("shutdown")
	if force {
		verb = invoke.Literal("destroy")
	}
	o.log.Info("Stopping VM", "name", vmName, "force", force)
	if _, err := o.virsh(ctx, verb, invoke.NameArg(n)); err != nil {
		return fmt.Errorf("failed to stop %s: %w", n, err)
	}
	return nil
}

// WaitForState polls domstate until the VM reaches want or ctx is done.
func (o *Orchestrator) WaitForState(ctx context.Context, vmName string, want v1alpha1.VMState, poll time.Duration) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}
	if poll <= 0 {
		poll = time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		state, err := o.domState(ctx, n)
		if err != nil {
			return err
		}
		if state == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s did not reach %s (last %s): %w", n, want, state, ctx.Err())
		case <-ticker.C:
		}
	}
}
