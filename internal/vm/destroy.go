package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/naming"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// Delete removes a VM and the files vmtools keeps for it.
//
// This orchestrates the removal:
//  1. Check the VM is stopped, or power it off when force is set
//  2. Find its disks, snapshots and images that use its disks as backing files
//  3. Refuse when snapshots or dependent images exist, unless force is set
//  4. Undefine the domain with its NVRAM and snapshot metadata
//  5. Remove its disks and seed ISO from the images directory
//
// Disks outside the images directory are never removed. Disks that back
// other images are kept even with force, so the dependents stay usable.
func (o *Orchestrator) Delete(ctx context.Context, vmName string, force bool) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}

	o.log.Info("Checking VM state", "name", vmName)
	state, err := o.domState(ctx, n)
	if err != nil {
		return err
	}
	if state != v1alpha1.VMStateStopped {
		if !force {
			return status.RequireStopped(vmName, "delete", state)
		}
		o.log.Info("Force stopping VM", "name", vmName, "state", string(state))
		if _, err := o.virsh(ctx, invoke.Literal("destroy"), invoke.NameArg(n)); err != nil && !errors.Is(err, fault.ErrNotRunning) {
			return fmt.Errorf("failed to stop %s: %w", n, err)
		}
	}

	doc, err := o.dumpXML(ctx, n)
	if err != nil {
		return err
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return err
	}

	snapshots, err := o.snapshots(ctx, n)
	if err != nil {
		return err
	}

	disks := o.ownedDisks(libvirt.DiskSources(dom))
	keep, err := o.backingDisks(disks)
	if err != nil {
		return err
	}

	if !force && (len(snapshots) > 0 || len(keep) > 0) {
		var reasons []string
		if len(snapshots) > 0 {
			reasons = append(reasons, fmt.Sprintf("snapshots %s", strings.Join(snapshots, ", ")))
		}
		for d, deps := range keep {
			reasons = append(reasons, fmt.Sprintf("%s backs %s", d, strings.Join(deps, ", ")))
		}
		return fmt.Errorf("cannot delete %s (%s): %w", n, strings.Join(reasons, "; "), fault.ErrInUse)
	}

	args := []invoke.Arg{invoke.Literal("undefine"), invoke.NameArg(n)}
	if libvirt.HasNVRAM(dom) {
		args = append(args, invoke.Literal("--nvram"))
	}
	if len(snapshots) > 0 {
		args = append(args, invoke.Literal("--snapshots-metadata"))
	}
	o.log.Info("Undefining domain", "name", vmName)
	if _, err := o.virsh(ctx, args...); err != nil {
		return fmt.Errorf("failed to undefine %s: %w", n, err)
	}

	var remove []validate.Path
	for _, d := range disks {
		if deps, ok := keep[d]; ok {
			o.log.Info("Warning: keeping disk that backs other images", "path", d.String(), "dependents", deps)
			continue
		}
		remove = append(remove, d)
	}
	if seed, err := naming.SeedISO(o.settings.ImagesDir, n); err == nil {
		if _, err := os.Stat(seed.String()); err == nil {
			remove = append(remove, seed)
		}
	}

	var errs []error
	for _, p := range remove {
		o.log.Info("Removing file", "path", p.String())
		if err := os.Remove(p.String()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("VM %s undefined but files remain: %w", n, err)
	}

	o.log.Info("VM deleted", "name", vmName)
	return nil
}

func (o *Orchestrator) snapshots(ctx context.Context, n validate.Name) ([]string, error) {
	out, err := o.query(ctx, invoke.Literal("snapshot-list"), invoke.NameArg(n), invoke.Literal("--name"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots of %s: %w", n, err)
	}
	return parser.ParseSnapshotNames(out.Stdout), nil
}

// backingDisks maps each of disks that is the backing file of another image
// in the images directory to those images.
func (o *Orchestrator) backingDisks(disks []validate.Path) (map[validate.Path][]string, error) {
	backs := make(map[validate.Path][]string)
	for _, d := range disks {
		deps, err := diskimg.Dependents(o.settings.ImagesDir, []string{d.String()})
		if err != nil {
			return nil, err
		}
		if len(deps) > 0 {
			backs[d] = deps
		}
	}
	return backs, nil
}

// ownedDisks keeps the disk sources that exist under the images directory.
func (o *Orchestrator) ownedDisks(sources []string) []validate.Path {
	var owned []validate.Path
	for _, s := range sources {
		p, err := validate.SystemPath(s, o.settings.ImagesDir.String())
		if err != nil {
			o.log.V(1).Info("leaving disk outside the images directory", "path", s)
			continue
		}
		owned = append(owned, p)
	}
	return owned
}
