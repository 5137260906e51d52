package vm

import (
	"context"
	"io"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/qmp"
	"github.com/jbweber/vmtools/internal/validate"
)

// CommandRunner runs virsh.
//
// In production, this is satisfied by *invoke.Exec.
// In tests, this is satisfied by mock implementations.
type CommandRunner interface {
	// Run executes a command to completion and captures its output.
	Run(ctx context.Context, cmd invoke.Command, timeout time.Duration) (invoke.Output, error)

	// Attach runs an interactive command on the given stdio.
	Attach(ctx context.Context, cmd invoke.Command, stdin io.Reader, stdout, stderr io.Writer) error
}

// ImageTool defines the disk image operations needed for VM management.
//
// In production, this is satisfied by *diskimg.Tool.
// In tests, this is satisfied by mock implementations.
type ImageTool interface {
	// Create makes a new empty image.
	Create(ctx context.Context, path validate.Path, format diskimg.Format, sizeGB uint64) error

	// Overlay makes a copy-on-write qcow2 image backed by base.
	Overlay(ctx context.Context, base validate.Path, baseFormat diskimg.Format, path validate.Path) error

	// Convert makes a full qcow2 copy of src.
	Convert(ctx context.Context, src, dst validate.Path) error

	// Resize grows an image.
	Resize(ctx context.Context, path validate.Path, sizeGB uint64) error

	// Info describes an image.
	Info(ctx context.Context, path validate.Path) (v1alpha1.ImageInfo, error)
}

// Monitor is a connected QMP session.
//
// In production, this is satisfied by *qmp.Client.
type Monitor interface {
	Sample(ctx context.Context) (v1alpha1.StatsSample, error)
	DrainEvents() []v1alpha1.MonitorEvent
	SendKey(ctx context.Context, keys []string, hold time.Duration) error
	Close() error
}

// MonitorDialer opens a monitor session on a VM's QMP socket.
type MonitorDialer interface {
	Dial(ctx context.Context, socket validate.Path) (Monitor, error)
}

// QMPDialer is the MonitorDialer backed by package qmp. Each Dial returns a
// fresh single-use session.
type QMPDialer struct {
	Options []qmp.Option
}

// Dial connects and completes the QMP handshake.
func (d QMPDialer) Dial(ctx context.Context, socket validate.Path) (Monitor, error) {
	c, err := qmp.Dial(ctx, socket.String(), d.Options...)
	if err != nil {
		return nil, err
	}
	return c, nil
}
