// Package hostcheck verifies that the local host can run vmtools: the
// libvirt daemon answers, KVM is usable, and virsh and qemu-img are recent
// enough.
package hostcheck

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"golang.org/x/sys/unix"

	"github.com/jbweber/vmtools/internal/libvirt"
)

// Minimum tool versions. virsh 6.0 is the first release whose domifaddr
// accepts --source arp; qemu-img 4.2 the first with --force-share on info.
var (
	MinVirshVersion   = version.Must(version.NewVersion("6.0.0"))
	MinQemuImgVersion = version.Must(version.NewVersion("4.2.0"))
)

// MinMemoryMB is the host memory below which a warning is reported.
const MinMemoryMB = 2048

// Status is the outcome of a single check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Result is one check's outcome.
type Result struct {
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
	Detail string `json:"detail" yaml:"detail"`
}

// Report collects every result of a Run.
type Report struct {
	Results []Result `json:"results" yaml:"results"`
}

// Failed reports whether any check failed. Warnings do not count.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFail {
			return true
		}
	}
	return false
}

// VersionFunc reports an installed tool's version.
type VersionFunc func(ctx context.Context) (*version.Version, error)

// ProbeFunc contacts the libvirt daemon.
type ProbeFunc func(ctx context.Context, socketPath string, timeout time.Duration) (libvirt.DaemonInfo, error)

// Checker runs the host checks. Zero-valued paths fall back to the real
// system locations.
type Checker struct {
	SocketPath string
	Timeout    time.Duration

	ProcDir string
	KVMPath string

	Probe          ProbeFunc
	VirshVersion   VersionFunc
	QemuImgVersion VersionFunc

	// access is unix.Access outside tests.
	access func(path string, mode uint32) error
}

func (c *Checker) defaults() {
	if c.SocketPath == "" {
		c.SocketPath = libvirt.DefaultSocket
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ProcDir == "" {
		c.ProcDir = "/proc"
	}
	if c.KVMPath == "" {
		c.KVMPath = "/dev/kvm"
	}
	if c.Probe == nil {
		c.Probe = libvirt.Probe
	}
	if c.access == nil {
		c.access = unix.Access
	}
}

// Run executes every check in order and never stops early.
func (c *Checker) Run(ctx context.Context) Report {
	c.defaults()

	var r Report
	r.Results = append(r.Results,
		c.checkDaemon(ctx),
		c.checkKVM(),
		c.checkCPU(),
		c.checkMemory(),
		c.checkTool(ctx, "virsh", c.VirshVersion, MinVirshVersion),
		c.checkTool(ctx, "qemu-img", c.QemuImgVersion, MinQemuImgVersion),
	)
	return r
}

func (c *Checker) checkDaemon(ctx context.Context) Result {
	res := Result{Name: "libvirt daemon"}
	info, err := c.Probe(ctx, c.SocketPath, c.Timeout)
	if err != nil {
		res.Status = StatusFail
		res.Detail = err.Error()
		return res
	}

	res.Status = StatusOK
	parts := []string{"libvirt " + info.LibVersion.String()}
	if info.Hypervisor != "" {
		hv := info.Hypervisor
		if info.HypervisorVersion != nil {
			hv += " " + info.HypervisorVersion.String()
		}
		parts = append(parts, hv)
	}
	if info.Hostname != "" {
		parts = append(parts, "on "+info.Hostname)
	}
	res.Detail = strings.Join(parts, ", ")
	return res
}

func (c *Checker) checkKVM() Result {
	res := Result{Name: "kvm device"}
	if _, err := os.Stat(c.KVMPath); err != nil {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("%s not present; load the kvm module", c.KVMPath)
		return res
	}
	if err := c.access(c.KVMPath, unix.R_OK|unix.W_OK); err != nil {
		res.Status = StatusWarn
		res.Detail = fmt.Sprintf("%s not accessible to this user: %v", c.KVMPath, err)
		return res
	}
	res.Status = StatusOK
	res.Detail = c.KVMPath + " is read/write"
	return res
}

func (c *Checker) checkCPU() Result {
	res := Result{Name: "cpu virtualization"}
	f, err := os.Open(filepath.Join(c.ProcDir, "cpuinfo"))
	if err != nil {
		res.Status = StatusWarn
		res.Detail = err.Error()
		return res
	}
	defer func() { _ = f.Close() }()

	flag, err := virtFlag(f)
	if err != nil {
		res.Status = StatusWarn
		res.Detail = err.Error()
		return res
	}
	switch flag {
	case "vmx":
		res.Status, res.Detail = StatusOK, "Intel VT-x (vmx)"
	case "svm":
		res.Status, res.Detail = StatusOK, "AMD-V (svm)"
	default:
		res.Status, res.Detail = StatusFail, "no vmx or svm flag in cpuinfo"
	}
	return res
}

// virtFlag returns "vmx", "svm" or "" from the first flags line.
func virtFlag(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "flags") {
			continue
		}
		_, list, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		for _, f := range strings.Fields(list) {
			if f == "vmx" || f == "svm" {
				return f, nil
			}
		}
		return "", nil
	}
	return "", sc.Err()
}

func (c *Checker) checkMemory() Result {
	res := Result{Name: "host memory"}
	data, err := os.ReadFile(filepath.Join(c.ProcDir, "meminfo"))
	if err != nil {
		res.Status = StatusWarn
		res.Detail = err.Error()
		return res
	}

	total, avail, err := parseMeminfo(string(data))
	if err != nil {
		res.Status = StatusWarn
		res.Detail = err.Error()
		return res
	}
	res.Detail = fmt.Sprintf("%d MiB total, %d MiB available", total/1024, avail/1024)
	if total/1024 < MinMemoryMB {
		res.Status = StatusWarn
		return res
	}
	res.Status = StatusOK
	return res
}

// parseMeminfo returns MemTotal and MemAvailable in KiB.
func parseMeminfo(text string) (total, avail uint64, err error) {
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			_, err = fmt.Sscanf(line, "MemTotal: %d kB", &total)
		case strings.HasPrefix(line, "MemAvailable:"):
			_, err = fmt.Sscanf(line, "MemAvailable: %d kB", &avail)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("malformed meminfo line %q: %w", line, err)
		}
	}
	if total == 0 {
		return 0, 0, errors.New("MemTotal missing from meminfo")
	}
	return total, avail, nil
}

func (c *Checker) checkTool(ctx context.Context, name string, fn VersionFunc, min *version.Version) Result {
	res := Result{Name: name}
	if fn == nil {
		res.Status, res.Detail = StatusWarn, "not checked"
		return res
	}
	v, err := fn(ctx)
	if err != nil {
		res.Status, res.Detail = StatusFail, err.Error()
		return res
	}
	if v.LessThan(min) {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("version %s is older than the required %s", v, min)
		return res
	}
	res.Status, res.Detail = StatusOK, "version "+v.String()
	return res
}
