package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-logr/logr"

	"github.com/jbweber/vmtools/internal/config"
	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/logging"
	"github.com/jbweber/vmtools/internal/metrics"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/qmp"
	"github.com/jbweber/vmtools/internal/vm"
)

// app is what a command run needs: the loaded configuration, the logger and
// the metrics sink shared by every component.
type app struct {
	cfg     *config.Config
	cfgPath string
	log     logr.Logger
	metrics *metrics.Metrics
}

// resolveConfigPath applies --config over the default location.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// loadApp reads the configuration and sets up logging.
func loadApp() (*app, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	format := cfg.Logging.Format
	if logFormat != "" {
		format = logFormat
	}
	f, err := logging.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		cfgPath: path,
		log:     logging.Setup(logging.Options{Level: level, Format: f, Output: os.Stderr}),
		metrics: metrics.New(),
	}, nil
}

func (a *app) runner() *invoke.Exec {
	return invoke.NewExec(invoke.WithLogger(a.log), invoke.WithMetrics(a.metrics))
}

func (a *app) imageTool(r invoke.Runner) *diskimg.Tool {
	return diskimg.NewTool(r, a.cfg.Storage.QemuImgPath, a.cfg.Libvirt.Timeout.Duration)
}

// orchestrator builds the orchestrator from the configuration. When an error
// pattern is limited to certain virsh versions, the installed version is
// queried once so those patterns can apply.
func (a *app) orchestrator(ctx context.Context) (*vm.Orchestrator, error) {
	settings, err := vm.NewSettings(a.cfg)
	if err != nil {
		return nil, err
	}
	settings.BuildVersion = version

	rules, err := a.cfg.Rules()
	if err != nil {
		return nil, err
	}
	classifier := parser.NewClassifier(rules...)

	runner := a.runner()
	images := a.imageTool(runner)
	dialer := vm.QMPDialer{Options: []qmp.Option{
		qmp.WithLogger(a.log),
		qmp.WithMetrics(a.metrics),
		qmp.WithRequestTimeout(a.cfg.Monitor.RequestTimeout.Duration),
	}}

	opts := []vm.Option{
		vm.WithLogger(a.log),
		vm.WithMetrics(a.metrics),
		vm.WithClassifier(classifier),
	}
	o := vm.New(runner, images, dialer, settings, opts...)

	if !hasVersionedPatterns(a.cfg) {
		return o, nil
	}
	v, err := o.VirshVersion(ctx)
	if err != nil {
		a.log.Info("Warning: version-limited error patterns disabled", "error", err.Error())
		return o, nil
	}
	return vm.New(runner, images, dialer, settings, append(opts, vm.WithClassifier(classifier.WithVersion(v)))...), nil
}

func hasVersionedPatterns(cfg *config.Config) bool {
	for _, p := range cfg.ErrorPatterns {
		if p.Versions != "" {
			return true
		}
	}
	return false
}

// withOrchestrator loads the app and runs fn with a ready orchestrator.
func withOrchestrator(ctx context.Context, fn func(*app, *vm.Orchestrator) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	o, err := a.orchestrator(ctx)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return fn(a, o)
}
