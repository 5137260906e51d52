package vm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/config"
	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/metrics"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/validate"
)

// Clone modes.
const (
	CloneModeAuto    = "auto"
	CloneModeOverlay = "overlay"
	CloneModeCopy    = "copy"
)

// Settings is the validated subset of the configuration the orchestrator
// works with. Optional directories are left zero when they do not exist on
// this host; the features that need them then degrade or refuse.
type Settings struct {
	URI       validate.URI
	VirshPath string
	Timeout   time.Duration

	ImagesDir validate.Path
	TempDir   validate.Path

	// +optional
	ISODir validate.Path
	// +optional
	SocketDir validate.Path
	// +optional
	RunDir validate.Path

	DiskFormat     diskimg.Format
	CloneMode      string
	DefaultNetwork string
	IPSource       string

	MonitorInterval time.Duration
	MonitorTimeout  time.Duration

	DefaultTemplate string
	Templates       map[string]v1alpha1.Template

	// BuildVersion is recorded in the metadata of domains vmtools defines.
	BuildVersion string
}

// NewSettings validates cfg against the local filesystem.
func NewSettings(cfg *config.Config) (Settings, error) {
	s := Settings{
		VirshPath:       cfg.Libvirt.VirshPath,
		Timeout:         cfg.Libvirt.Timeout.Duration,
		DiskFormat:      diskimg.Format(cfg.Storage.DiskFormat),
		CloneMode:       cfg.Storage.CloneMode,
		DefaultNetwork:  cfg.Network.DefaultNetwork,
		IPSource:        cfg.Network.IPSource,
		MonitorInterval: cfg.Monitor.Interval.Duration,
		MonitorTimeout:  cfg.Monitor.RequestTimeout.Duration,
		DefaultTemplate: cfg.Defaults.Template,
		Templates:       cfg.Templates,
	}

	var err error
	if s.URI, err = validate.ConnectionURI(cfg.Libvirt.URI); err != nil {
		return s, fmt.Errorf("libvirt.uri: %w", err)
	}
	if s.ImagesDir, err = validate.Dir(cfg.Storage.ImagesDir); err != nil {
		return s, fmt.Errorf("storage.images_dir: %w", err)
	}
	if s.TempDir, err = validate.Dir(cfg.Storage.TempDir); err != nil {
		return s, fmt.Errorf("storage.temp_dir: %w", err)
	}
	s.ISODir = optionalDir(cfg.Storage.ISODir)
	s.SocketDir = optionalDir(cfg.Monitor.SocketDir)
	s.RunDir = optionalDir(cfg.Libvirt.RunDir)
	return s, nil
}

func optionalDir(dir string) validate.Path {
	p, err := validate.Dir(dir)
	if err != nil {
		return validate.Path{}
	}
	return p
}

// Orchestrator runs VM operations. It is safe for concurrent use; nothing
// is shared between calls except its immutable dependencies.
type Orchestrator struct {
	runner     CommandRunner
	images     ImageTool
	dialer     MonitorDialer
	settings   Settings
	classifier *parser.Classifier
	log        logr.Logger
	metrics    *metrics.Metrics

	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Progress is logged at Info, commands at V(1).
func WithLogger(log logr.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithClassifier replaces the default stderr classifier.
func WithClassifier(c *parser.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithMetrics records live samples.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(runner CommandRunner, images ImageTool, dialer MonitorDialer, settings Settings, opts ...Option) *Orchestrator {
	if settings.VirshPath == "" {
		settings.VirshPath = "virsh"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = invoke.DefaultTimeout
	}
	if settings.DiskFormat == "" {
		settings.DiskFormat = diskimg.FormatQCOW2
	}
	if settings.CloneMode == "" {
		settings.CloneMode = CloneModeAuto
	}
	if settings.IPSource == "" {
		settings.IPSource = "lease"
	}
	if settings.MonitorInterval <= 0 {
		settings.MonitorInterval = 2 * time.Second
	}

	o := &Orchestrator{
		runner:     runner,
		images:     images,
		dialer:     dialer,
		settings:   settings,
		classifier: parser.NewClassifier(),
		log:        logr.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) command(args ...invoke.Arg) invoke.Command {
	all := make([]invoke.Arg, 0, len(args)+2)
	if !o.settings.URI.IsZero() {
		all = append(all, invoke.Literal("-c"), invoke.URIArg(o.settings.URI))
	}
	return invoke.Command{Tool: o.settings.VirshPath, Args: append(all, args...)}
}

// virsh runs a command that changes state. It is never retried.
func (o *Orchestrator) virsh(ctx context.Context, args ...invoke.Arg) (invoke.Output, error) {
	out, err := o.runner.Run(ctx, o.command(args...), o.settings.Timeout)
	return out, o.classifier.Classify(err)
}

// query runs a read-only command, retrying once after a timeout.
func (o *Orchestrator) query(ctx context.Context, args ...invoke.Arg) (invoke.Output, error) {
	cmd := o.command(args...)
	out, err := o.runner.Run(ctx, cmd, o.settings.Timeout)
	if errors.Is(err, invoke.ErrTimeout) && ctx.Err() == nil {
		o.log.V(1).Info("retrying after timeout", "verb", cmd.Verb())
		out, err = o.runner.Run(ctx, cmd, o.settings.Timeout)
	}
	return out, o.classifier.Classify(err)
}

// domInfo runs dominfo for one domain.
func (o *Orchestrator) domInfo(ctx context.Context, name validate.Name) (v1alpha1.VirtualMachine, error) {
	out, err := o.query(ctx, invoke.Literal("dominfo"), invoke.NameArg(name))
	if err != nil {
		return v1alpha1.VirtualMachine{}, fmt.Errorf("failed to get info for %s: %w", name, err)
	}
	return parser.ParseDomInfo(out.Stdout)
}

// domState runs domstate for one domain.
func (o *Orchestrator) domState(ctx context.Context, name validate.Name) (v1alpha1.VMState, error) {
	out, err := o.query(ctx, invoke.Literal("domstate"), invoke.NameArg(name))
	if err != nil {
		return v1alpha1.VMStateUnknown, fmt.Errorf("failed to get state of %s: %w", name, err)
	}
	return parser.ParseDomState(out.Stdout), nil
}

// dumpXML returns the domain's persistent definition.
func (o *Orchestrator) dumpXML(ctx context.Context, name validate.Name) (string, error) {
	out, err := o.query(ctx, invoke.Literal("dumpxml"), invoke.Literal("--inactive"), invoke.NameArg(name))
	if err != nil {
		return "", fmt.Errorf("failed to read definition of %s: %w", name, err)
	}
	return out.Stdout, nil
}

// requireAbsent fails with ErrAlreadyExists unless dominfo reports NotFound.
func (o *Orchestrator) requireAbsent(ctx context.Context, name validate.Name) error {
	_, err := o.domInfo(ctx, name)
	switch {
	case err == nil:
		return fmt.Errorf("VM %s: %w", name, fault.ErrAlreadyExists)
	case errors.Is(err, fault.ErrNotFound):
		return nil
	}
	return err
}

// fileAbsent fails with ErrAlreadyExists if path exists.
func fileAbsent(path validate.Path) error {
	_, err := os.Stat(path.String())
	switch {
	case err == nil:
		return fmt.Errorf("file %s: %w", path, fault.ErrAlreadyExists)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	}
	return err
}

// VirshVersion reports the installed virsh version.
func (o *Orchestrator) VirshVersion(ctx context.Context) (*version.Version, error) {
	cmd := invoke.Command{Tool: o.settings.VirshPath, Args: []invoke.Arg{invoke.Literal("--version")}}
	out, err := o.runner.Run(ctx, cmd, o.settings.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to query virsh version: %w", err)
	}
	return parser.ParseVersion(out.Stdout)
}
