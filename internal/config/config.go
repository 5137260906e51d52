package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/parser"
)

// EnvPath overrides the default config file location.
const EnvPath = "VMTOOLS_CONFIG"

// Config represents the complete vmtools configuration.
type Config struct {
	Libvirt  LibvirtConfig  `toml:"libvirt"`
	Storage  StorageConfig  `toml:"storage"`
	Network  NetworkConfig  `toml:"network"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Defaults DefaultsConfig `toml:"defaults"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`

	Templates map[string]v1alpha1.Template `toml:"templates"`

	// ErrorPatterns extend the built-in virsh stderr classification.
	ErrorPatterns []ErrorPattern `toml:"error_patterns"`
}

// LibvirtConfig selects the daemon and the virsh binary.
type LibvirtConfig struct {
	URI        string   `toml:"uri"`
	SocketPath string   `toml:"socket_path"`
	VirshPath  string   `toml:"virsh_path"`
	Timeout    Duration `toml:"timeout"`

	// RunDir holds libvirt's per-domain pidfiles.
	RunDir string `toml:"run_dir"`
}

// StorageConfig locates disks, installer images and temporary files.
type StorageConfig struct {
	ImagesDir   string `toml:"images_dir"`
	ISODir      string `toml:"iso_dir"`
	TempDir     string `toml:"temp_dir"`
	DiskFormat  string `toml:"disk_format"`
	CloneMode   string `toml:"clone_mode"`
	QemuImgPath string `toml:"qemu_img_path"`
}

// NetworkConfig chooses the network for new VMs.
type NetworkConfig struct {
	DefaultNetwork string `toml:"default_network"`

	// IPSource is passed to domifaddr --source.
	IPSource string `toml:"ip_source"`
}

// MonitorConfig controls QMP sessions.
type MonitorConfig struct {
	SocketDir      string   `toml:"socket_dir"`
	Interval       Duration `toml:"interval"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// DefaultsConfig names the template used when create gets none.
type DefaultsConfig struct {
	Template string `toml:"template"`
}

// LoggingConfig sets the log level and handler.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig enables the Prometheus endpoint during monitor.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ErrorPattern is one [[error_patterns]] entry.
type ErrorPattern struct {
	Match string `toml:"match"`
	Kind  string `toml:"kind"`

	// Versions is a go-version constraint on the virsh version, such as
	// ">= 9.0".
	Versions string `toml:"versions"`
}

// Duration is a time.Duration that reads and writes as "30s" in TOML.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Libvirt: LibvirtConfig{
			URI:        "qemu:///system",
			SocketPath: "/var/run/libvirt/libvirt-sock",
			VirshPath:  "virsh",
			Timeout:    Duration{30 * time.Second},
			RunDir:     "/run/libvirt/qemu",
		},
		Storage: StorageConfig{
			ImagesDir:   "/var/lib/libvirt/images",
			ISODir:      "/var/lib/libvirt/images/iso",
			TempDir:     os.TempDir(),
			DiskFormat:  "qcow2",
			CloneMode:   "auto",
			QemuImgPath: "qemu-img",
		},
		Network: NetworkConfig{
			DefaultNetwork: "default",
			IPSource:       "lease",
		},
		Monitor: MonitorConfig{
			SocketDir:      "/var/lib/libvirt/qemu",
			Interval:       Duration{2 * time.Second},
			RequestTimeout: Duration{10 * time.Second},
		},
		Defaults: DefaultsConfig{
			Template: "ubuntu",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Templates: map[string]v1alpha1.Template{
			"ubuntu": {
				MemoryMB:     2048,
				VCPUs:        2,
				DiskSizeGB:   20,
				OSFamily:     v1alpha1.OSFamilyLinux,
				Architecture: "x86_64",
				MachineType:  "q35",
				BootOrder:    []v1alpha1.BootDevice{v1alpha1.BootDeviceHD, v1alpha1.BootDeviceCDROM},
				Features:     []string{"acpi", "apic", "pae"},
			},
			"windows": {
				MemoryMB:     4096,
				VCPUs:        2,
				DiskSizeGB:   40,
				OSFamily:     v1alpha1.OSFamilyWindows,
				Architecture: "x86_64",
				MachineType:  "q35",
				BootOrder:    []v1alpha1.BootDevice{v1alpha1.BootDeviceHD, v1alpha1.BootDeviceCDROM},
				Features:     []string{"acpi", "apic", "hyperv"},
			},
		},
	}
}

// DefaultPath returns $VMTOOLS_CONFIG, or config.toml under the user's
// config directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(dir, "vmtools", "config.toml"), nil
}

// Load reads path over the defaults and validates the result. A missing
// file yields the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// The file may predate this call with looser permissions.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# vmtools configuration file")
	fmt.Fprintln(file, "# Generated by vmtools config set - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return file.Close()
}

// Template returns the named template, or the default template when name
// is empty.
func (c *Config) Template(name string) (v1alpha1.Template, error) {
	if name == "" {
		name = c.Defaults.Template
	}
	t, ok := c.Templates[name]
	if !ok {
		return v1alpha1.Template{}, fmt.Errorf("unknown template %q (have %s)", name, strings.Join(c.TemplateNames(), ", "))
	}
	return t.Clone(), nil
}

// TemplateNames returns the template names in sorted order.
func (c *Config) TemplateNames() []string {
	names := make([]string, 0, len(c.Templates))
	for n := range c.Templates {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Rules converts the configured error patterns to classifier rules.
func (c *Config) Rules() ([]parser.Rule, error) {
	rules := make([]parser.Rule, 0, len(c.ErrorPatterns))
	for i, p := range c.ErrorPatterns {
		r, err := parser.NewRule(p.Match, p.Kind, p.Versions)
		if err != nil {
			return nil, fmt.Errorf("error_patterns[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
