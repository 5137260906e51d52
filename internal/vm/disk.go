package vm

import (
	"context"
	"fmt"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

const gib = 1 << 30

// primaryDisk returns the VM's first disk, validated against prefix.
func (o *Orchestrator) primaryDisk(ctx context.Context, n validate.Name, prefix string) (validate.Path, error) {
	doc, err := o.dumpXML(ctx, n)
	if err != nil {
		return validate.Path{}, err
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return validate.Path{}, err
	}
	disks := libvirt.DiskSources(dom)
	if len(disks) == 0 {
		return validate.Path{}, fmt.Errorf("VM %s has no disk: %w", n, fault.ErrNotFound)
	}
	return validate.SystemPath(disks[0], prefix)
}

// DiskInfo describes the VM's primary disk. The disk may live anywhere,
// since inspecting it changes nothing.
func (o *Orchestrator) DiskInfo(ctx context.Context, vmName string) (v1alpha1.ImageInfo, error) {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return v1alpha1.ImageInfo{}, err
	}
	disk, err := o.primaryDisk(ctx, n, "/")
	if err != nil {
		return v1alpha1.ImageInfo{}, err
	}
	return o.images.Info(ctx, disk)
}

// DiskResize grows the stopped VM's primary disk to sizeGB. The disk must
// be under the images directory; shrinking is refused.
func (o *Orchestrator) DiskResize(ctx context.Context, vmName string, sizeGB uint64) error {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return err
	}
	if err := validate.DiskSize(sizeGB); err != nil {
		return err
	}

	state, err := o.domState(ctx, n)
	if err != nil {
		return err
	}
	if err := status.RequireStopped(vmName, "resize the disk of", state); err != nil {
		return err
	}

	disk, err := o.primaryDisk(ctx, n, o.settings.ImagesDir.String())
	if err != nil {
		return err
	}
	info, err := o.images.Info(ctx, disk)
	if err != nil {
		return err
	}
	if sizeGB*gib < info.VirtualSize {
		return fmt.Errorf("cannot shrink %s from %d to %d GiB: %w", disk, info.VirtualSize/gib, sizeGB, fault.ErrInvalidState)
	}

	o.log.Info("Resizing disk", "path", disk.String(), "sizeGB", sizeGB)
	return o.images.Resize(ctx, disk, sizeGB)
}
