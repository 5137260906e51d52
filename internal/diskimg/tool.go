package diskimg

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/validate"
)

// Image conversions copy whole disks and get a longer budget than metadata
// operations.
const (
	defaultTimeout = 30 * time.Second
	copyTimeout    = 30 * time.Minute
)

// Tool runs qemu-img.
type Tool struct {
	runner  invoke.Runner
	path    string
	timeout time.Duration
}

// NewTool creates a Tool. path is the qemu-img executable.
func NewTool(runner invoke.Runner, path string, timeout time.Duration) *Tool {
	if path == "" {
		path = "qemu-img"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tool{runner: runner, path: path, timeout: timeout}
}

func (t *Tool) run(ctx context.Context, timeout time.Duration, args ...invoke.Arg) (invoke.Output, error) {
	return t.runner.Run(ctx, invoke.Command{Tool: t.path, Args: args}, timeout)
}

func formatArg(f Format) (invoke.Arg, error) {
	switch f {
	case FormatQCOW2:
		return invoke.Literal("qcow2"), nil
	case FormatRaw:
		return invoke.Literal("raw"), nil
	}
	return invoke.Arg{}, fmt.Errorf("unsupported disk format %q", f)
}

// Create makes an empty image of sizeGB gigabytes.
func (t *Tool) Create(ctx context.Context, path validate.Path, format Format, sizeGB uint64) error {
	f, err := formatArg(format)
	if err != nil {
		return err
	}
	if _, err := t.run(ctx, t.timeout, invoke.Literal("create"), invoke.Literal("-f"), f, invoke.PathArg(path), invoke.Size(sizeGB, "G")); err != nil {
		return fmt.Errorf("failed to create disk image: %w", err)
	}
	return nil
}

// Overlay makes a qcow2 image backed copy-on-write by base.
func (t *Tool) Overlay(ctx context.Context, base validate.Path, baseFormat Format, path validate.Path) error {
	bf, err := formatArg(baseFormat)
	if err != nil {
		return err
	}
	if _, err := t.run(ctx, t.timeout,
		invoke.Literal("create"), invoke.Literal("-f"), invoke.Literal("qcow2"),
		invoke.Literal("-b"), invoke.PathArg(base), invoke.Literal("-F"), bf,
		invoke.PathArg(path),
	); err != nil {
		return fmt.Errorf("failed to create overlay image: %w", err)
	}
	return nil
}

// Convert copies src into a new standalone qcow2 image at dst.
func (t *Tool) Convert(ctx context.Context, src, dst validate.Path) error {
	if _, err := t.run(ctx, copyTimeout,
		invoke.Literal("convert"), invoke.Literal("-O"), invoke.Literal("qcow2"),
		invoke.PathArg(src), invoke.PathArg(dst),
	); err != nil {
		return fmt.Errorf("failed to convert disk image: %w", err)
	}
	return nil
}

// Resize sets the virtual size to sizeGB gigabytes.
func (t *Tool) Resize(ctx context.Context, path validate.Path, sizeGB uint64) error {
	if _, err := t.run(ctx, t.timeout, invoke.Literal("resize"), invoke.PathArg(path), invoke.Size(sizeGB, "G")); err != nil {
		return fmt.Errorf("failed to resize disk image: %w", err)
	}
	return nil
}

// Info describes an image. --force-share lets it read disks of running VMs.
func (t *Tool) Info(ctx context.Context, path validate.Path) (v1alpha1.ImageInfo, error) {
	out, err := t.run(ctx, t.timeout, invoke.Literal("info"), invoke.Literal("--force-share"), invoke.Literal("--output=json"), invoke.PathArg(path))
	if err != nil {
		return v1alpha1.ImageInfo{}, fmt.Errorf("failed to inspect disk image: %w", err)
	}
	return parser.ParseImageInfo(out.Stdout)
}

// Version reports the qemu-img version.
func (t *Tool) Version(ctx context.Context) (*version.Version, error) {
	out, err := t.run(ctx, t.timeout, invoke.Literal("--version"))
	if err != nil {
		return nil, fmt.Errorf("failed to query qemu-img version: %w", err)
	}
	return parser.ParseVersion(out.Stdout)
}
