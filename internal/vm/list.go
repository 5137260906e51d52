package vm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/validate"
)

// ListFilter selects which domains List reports.
type ListFilter int

const (
	// All includes defined but inactive domains.
	All ListFilter = iota
	// RunningOnly reports active domains only.
	RunningOnly
)

// detailConcurrency bounds the dominfo fan-out of ListDetailed.
const detailConcurrency = 8

// List returns one brief record per domain, in the order virsh prints them.
func (o *Orchestrator) List(ctx context.Context, filter ListFilter) ([]v1alpha1.VirtualMachine, error) {
	args := []invoke.Arg{invoke.Literal("list")}
	if filter == All {
		args = append(args, invoke.Literal("--all"))
	}

	out, err := o.query(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return parser.ParseList(out.Stdout)
}

// ListDetailed is List with each record filled in from dominfo. Domains
// removed between the list and their dominfo are left out.
func (o *Orchestrator) ListDetailed(ctx context.Context, filter ListFilter) ([]v1alpha1.VirtualMachine, error) {
	vms, err := o.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	detailed := make([]*v1alpha1.VirtualMachine, len(vms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)

	for i := range vms {
		brief := vms[i]
		n, err := validate.Identifier(brief.Name)
		if err != nil {
			// virsh may list names vmtools would never create; keep them brief.
			o.log.V(1).Info("not querying domain with unsupported name", "name", brief.Name)
			detailed[i] = &brief
			continue
		}

		g.Go(func() error {
			vm, err := o.domInfo(gctx, n)
			switch {
			case errors.Is(err, fault.ErrNotFound):
				o.log.V(1).Info("domain vanished while listing", "name", brief.Name)
				return nil
			case err != nil:
				return err
			}
			detailed[i] = &vm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]v1alpha1.VirtualMachine, 0, len(detailed))
	for _, vm := range detailed {
		if vm != nil {
			result = append(result, *vm)
		}
	}
	return result, nil
}
