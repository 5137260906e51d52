package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/metadata"
	"github.com/jbweber/vmtools/internal/naming"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// Clone defines target as a copy of the stopped VM source.
//
// The target's disk is images_dir/<target>.qcow2. The default "auto" mode
// makes a full, independent copy. "overlay" makes a copy-on-write overlay
// backed by the source disk; the source can then no longer be started, see
// Start. The clone gets a new UUID and MAC addresses, drops the
// source's cloud-init seed and records where it came from in its metadata.
//
// If duplicating the disk fails nothing is defined. If define fails the new
// disk is removed.
func (o *Orchestrator) Clone(ctx context.Context, sourceName, targetName string) error {
	src, err := validate.Identifier(sourceName)
	if err != nil {
		return err
	}
	dst, err := validate.Identifier(targetName)
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("cannot clone %s onto itself: %w", src, fault.ErrAlreadyExists)
	}

	info, err := o.domInfo(ctx, src)
	if err != nil {
		return err
	}
	if err := o.requireAbsent(ctx, dst); err != nil {
		return err
	}
	if err := status.RequireStopped(src.String(), "clone", info.State); err != nil {
		return err
	}

	doc, err := o.dumpXML(ctx, src)
	if err != nil {
		return err
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return err
	}
	disks := libvirt.DiskSources(dom)
	if len(disks) == 0 {
		return fmt.Errorf("VM %s has no disk to clone", src)
	}
	srcDisk, err := validate.SystemPath(disks[0], o.settings.ImagesDir.String())
	if err != nil {
		return err
	}

	dstDisk, err := naming.Disk(o.settings.ImagesDir, dst, string(diskimg.FormatQCOW2))
	if err != nil {
		return err
	}
	if err := fileAbsent(dstDisk); err != nil {
		return err
	}

	if err := o.duplicate(ctx, srcDisk, dstDisk); err != nil {
		o.removeFiles([]validate.Path{dstDisk})
		return fmt.Errorf("failed to duplicate disk of %s: %w", src, err)
	}

	meta := &metadata.Info{
		CreatedAt:  o.now().UTC(),
		ClonedFrom: src.String(),
		Version:    o.settings.BuildVersion,
	}
	if prev, err := metadata.Extract(dom); err == nil {
		meta.Template = prev.Template
	}

	cloneDoc, err := libvirt.RewriteForClone(doc, &libvirt.CloneSpec{
		Name:       dst,
		DiskPath:   dstDisk,
		DiskFormat: string(diskimg.FormatQCOW2),
		QMPSocket:  o.socketPath(dst),
		Metadata:   meta,
	})
	if err == nil {
		o.log.Info("Defining clone", "source", src.String(), "target", dst.String())
		err = o.define(ctx, dst, cloneDoc)
	}
	if err != nil {
		o.removeFiles([]validate.Path{dstDisk})
		return err
	}

	o.log.Info("VM cloned", "source", src.String(), "target", dst.String(), "disk", dstDisk.String())
	return nil
}

// duplicate copies src to dst according to the configured clone mode.
func (o *Orchestrator) duplicate(ctx context.Context, src, dst validate.Path) error {
	format, err := diskimg.DetectFormat(src.String())
	if err != nil {
		return err
	}

	mode := o.settings.CloneMode
	if mode == CloneModeAuto {
		mode = CloneModeCopy
	}
	if mode == CloneModeOverlay && format != diskimg.FormatQCOW2 {
		return fmt.Errorf("overlay clones need a qcow2 base, %s is %s", src, format)
	}

	switch mode {
	case CloneModeOverlay:
		o.log.Info("Creating copy-on-write overlay", "base", src.String(), "path", dst.String())
		return o.images.Overlay(ctx, src, format, dst)
	case CloneModeCopy:
		o.log.Info("Copying disk", "source", src.String(), "path", dst.String())
		return o.images.Convert(ctx, src, dst)
	}
	return errors.New("unknown clone mode " + mode)
}
