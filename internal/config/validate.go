package config

import (
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/logging"
	"github.com/jbweber/vmtools/internal/validate"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	diskFormats = []string{"qcow2", "raw"}
	cloneModes  = []string{"auto", "overlay", "copy"}
	ipSources   = []string{"lease", "agent", "arp"}
	osFamilies  = []v1alpha1.OSFamily{v1alpha1.OSFamilyLinux, v1alpha1.OSFamilyWindows}
	bootDevices = []v1alpha1.BootDevice{v1alpha1.BootDeviceHD, v1alpha1.BootDeviceCDROM, v1alpha1.BootDeviceNetwork}
	features    = []string{"acpi", "apic", "pae", "hyperv"}
)

const minInterval = 100 * time.Millisecond

// Validate checks every setting and reports all problems at once.
// Directories are checked for form only; existence is checked when they
// are used.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := validate.ConnectionURI(c.Libvirt.URI); err != nil {
		add("libvirt.uri", "%v", err)
	}
	if c.Libvirt.VirshPath == "" {
		add("libvirt.virsh_path", "must not be empty")
	}
	if c.Libvirt.Timeout.Duration <= 0 {
		add("libvirt.timeout", "must be positive")
	}
	if c.Storage.QemuImgPath == "" {
		add("storage.qemu_img_path", "must not be empty")
	}

	dirs := []struct {
		field string
		value string
	}{
		{"libvirt.run_dir", c.Libvirt.RunDir},
		{"storage.images_dir", c.Storage.ImagesDir},
		{"storage.iso_dir", c.Storage.ISODir},
		{"storage.temp_dir", c.Storage.TempDir},
		{"monitor.socket_dir", c.Monitor.SocketDir},
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d.value) {
			add(d.field, "must be an absolute path, got %q", d.value)
		}
	}

	if !slices.Contains(diskFormats, c.Storage.DiskFormat) {
		add("storage.disk_format", "invalid format %q, must be one of: %s", c.Storage.DiskFormat, strings.Join(diskFormats, ", "))
	}
	if !slices.Contains(cloneModes, c.Storage.CloneMode) {
		add("storage.clone_mode", "invalid mode %q, must be one of: %s", c.Storage.CloneMode, strings.Join(cloneModes, ", "))
	}
	if _, err := validate.Identifier(c.Network.DefaultNetwork); err != nil {
		add("network.default_network", "%v", err)
	}
	if !slices.Contains(ipSources, c.Network.IPSource) {
		add("network.ip_source", "invalid source %q, must be one of: %s", c.Network.IPSource, strings.Join(ipSources, ", "))
	}

	if c.Monitor.Interval.Duration < minInterval {
		add("monitor.interval", "must be at least %s", minInterval)
	}
	if c.Monitor.RequestTimeout.Duration <= 0 {
		add("monitor.request_timeout", "must be positive")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		add("logging.format", "%v", err)
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen", "%v", err)
		}
	}

	if _, ok := c.Templates[c.Defaults.Template]; !ok {
		add("defaults.template", "unknown template %q", c.Defaults.Template)
	}
	for _, name := range c.TemplateNames() {
		for _, e := range validateTemplate(name, c.Templates[name]) {
			errs = append(errs, e)
		}
	}

	if _, err := c.Rules(); err != nil {
		add("error_patterns", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTemplate(name string, t v1alpha1.Template) []ValidationError {
	var errs []ValidationError
	field := "templates." + name
	add := func(sub string, err error) {
		errs = append(errs, ValidationError{Field: field + sub, Message: err.Error()})
	}

	if _, err := validate.Identifier(name); err != nil {
		add("", err)
	}
	if err := validate.Memory(t.MemoryMB); err != nil {
		add(".memory_mb", err)
	}
	if err := validate.CPUs(t.VCPUs); err != nil {
		add(".vcpus", err)
	}
	if err := validate.DiskSize(t.DiskSizeGB); err != nil {
		add(".disk_size_gb", err)
	}
	if t.Architecture != "" {
		if err := validate.Architecture(t.Architecture); err != nil {
			add(".architecture", err)
		}
	}
	if t.MachineType != "" {
		if err := validate.MachineType(t.MachineType); err != nil {
			add(".machine_type", err)
		}
	}
	if !slices.Contains(osFamilies, t.OSFamily) {
		add(".os_family", fmt.Errorf("invalid os family %q", t.OSFamily))
	}
	for _, d := range t.BootOrder {
		if !slices.Contains(bootDevices, d) {
			add(".boot_order", fmt.Errorf("invalid boot device %q", d))
		}
	}
	for _, f := range t.Features {
		if !slices.Contains(features, f) {
			add(".features", fmt.Errorf("unknown feature %q, must be one of: %s", f, strings.Join(features, ", ")))
		}
	}
	return errs
}
