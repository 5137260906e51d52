package vm

import (
	"context"
	"fmt"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/validate"
)

// Networks lists every libvirt network. Active networks also report their
// bridge device.
func (o *Orchestrator) Networks(ctx context.Context) ([]v1alpha1.NetworkInfo, error) {
	nets, err := o.networkList(ctx)
	if err != nil {
		return nil, err
	}

	for i := range nets {
		if !nets[i].Active {
			continue
		}
		n, err := validate.Identifier(nets[i].Name)
		if err != nil {
			continue
		}
		out, err := o.query(ctx, invoke.Literal("net-info"), invoke.NameArg(n))
		if err != nil {
			return nil, fmt.Errorf("failed to get info for network %s: %w", n, err)
		}
		info, err := parser.ParseNetInfo(out.Stdout)
		if err != nil {
			return nil, err
		}
		nets[i].Bridge = info.Bridge
	}
	return nets, nil
}

// NetworkStart activates a network. Starting an active network fails with
// fault.ErrAlreadyRunning.
func (o *Orchestrator) NetworkStart(ctx context.Context, netName string) error {
	n, err := validate.Identifier(netName)
	if err != nil {
		return err
	}
	if _, err := o.virsh(ctx, invoke.Literal("net-start"), invoke.NameArg(n)); err != nil {
		return fmt.Errorf("failed to start network %s: %w", n, err)
	}
	return nil
}

// NetworkAutostart marks a network to start with the daemon, or clears the
// mark.
func (o *Orchestrator) NetworkAutostart(ctx context.Context, netName string, enable bool) error {
	n, err := validate.Identifier(netName)
	if err != nil {
		return err
	}
	args := []invoke.Arg{invoke.Literal("net-autostart"), invoke.NameArg(n)}
	if !enable {
		args = append(args, invoke.Literal("--disable"))
	}
	if _, err := o.virsh(ctx, args...); err != nil {
		return fmt.Errorf("failed to set autostart on network %s: %w", n, err)
	}
	return nil
}
