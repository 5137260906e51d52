package hostcheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/vmtools/internal/libvirt"
)

const cpuinfoVMX = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU
flags		: fpu vme de pse tsc msr pae mce cx8 apic sep vmx ssse3 sse4_1
`

const meminfo = `MemTotal:       16314060 kB
MemFree:         1023340 kB
MemAvailable:    9123456 kB
Buffers:          100000 kB
`

func fakeHost(t *testing.T, cpuinfo, mem string) (procDir, kvm string) {
	t.Helper()
	dir := t.TempDir()
	procDir = filepath.Join(dir, "proc")
	require.NoError(t, os.MkdirAll(procDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "cpuinfo"), []byte(cpuinfo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "meminfo"), []byte(mem), 0o644))

	kvm = filepath.Join(dir, "kvm")
	require.NoError(t, os.WriteFile(kvm, nil, 0o666))
	return procDir, kvm
}

func staticVersion(s string) VersionFunc {
	return func(context.Context) (*version.Version, error) {
		return version.NewVersion(s)
	}
}

func healthyProbe(context.Context, string, time.Duration) (libvirt.DaemonInfo, error) {
	return libvirt.DaemonInfo{
		Hostname:          "hv01",
		Hypervisor:        "QEMU",
		LibVersion:        libvirt.DecodeVersion(10000000),
		HypervisorVersion: libvirt.DecodeVersion(8002002),
	}, nil
}

func byName(r Report) map[string]Result {
	out := make(map[string]Result, len(r.Results))
	for _, res := range r.Results {
		out[res.Name] = res
	}
	return out
}

func TestRun_Healthy(t *testing.T) {
	proc, kvm := fakeHost(t, cpuinfoVMX, meminfo)
	c := &Checker{
		ProcDir:        proc,
		KVMPath:        kvm,
		Probe:          healthyProbe,
		VirshVersion:   staticVersion("10.0.0"),
		QemuImgVersion: staticVersion("8.2.2"),
		access:         func(string, uint32) error { return nil },
	}

	report := c.Run(context.Background())
	assert.False(t, report.Failed())
	require.Len(t, report.Results, 6)

	results := byName(report)
	for name, res := range results {
		assert.Equal(t, StatusOK, res.Status, "%s: %s", name, res.Detail)
	}
	assert.Equal(t, "libvirt 10.0.0, QEMU 8.2.2, on hv01", results["libvirt daemon"].Detail)
	assert.Equal(t, "Intel VT-x (vmx)", results["cpu virtualization"].Detail)
	assert.Equal(t, "15931 MiB total, 8909 MiB available", results["host memory"].Detail)
	assert.Equal(t, "version 8.2.2", results["qemu-img"].Detail)
}

func TestRun_Failures(t *testing.T) {
	proc, _ := fakeHost(t, "flags\t\t: fpu sse\n", "MemTotal: 1024000 kB\nMemAvailable: 512000 kB\n")
	c := &Checker{
		ProcDir: proc,
		KVMPath: filepath.Join(t.TempDir(), "missing-kvm"),
		Probe: func(context.Context, string, time.Duration) (libvirt.DaemonInfo, error) {
			return libvirt.DaemonInfo{}, errors.New("dial unix /var/run/libvirt/libvirt-sock: connect: no such file or directory")
		},
		VirshVersion:   staticVersion("5.6.0"),
		QemuImgVersion: func(context.Context) (*version.Version, error) { return nil, errors.New("executable file not found") },
	}

	report := c.Run(context.Background())
	assert.True(t, report.Failed())

	results := byName(report)
	assert.Equal(t, StatusFail, results["libvirt daemon"].Status)
	assert.Equal(t, StatusFail, results["kvm device"].Status)
	assert.Equal(t, StatusFail, results["cpu virtualization"].Status)
	assert.Equal(t, StatusWarn, results["host memory"].Status)
	assert.Equal(t, StatusFail, results["virsh"].Status)
	assert.Contains(t, results["virsh"].Detail, "older than the required 6.0.0")
	assert.Equal(t, StatusFail, results["qemu-img"].Status)
}

func TestCheckKVM_NoAccess(t *testing.T) {
	_, kvm := fakeHost(t, cpuinfoVMX, meminfo)
	c := &Checker{
		KVMPath: kvm,
		access:  func(string, uint32) error { return errors.New("permission denied") },
	}
	res := c.checkKVM()
	assert.Equal(t, StatusWarn, res.Status)
	assert.Contains(t, res.Detail, "permission denied")
}

func TestCheckTool_NotConfigured(t *testing.T) {
	res := (&Checker{}).checkTool(context.Background(), "virsh", nil, MinVirshVersion)
	assert.Equal(t, StatusWarn, res.Status)
}

func TestVirtFlag(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"intel", cpuinfoVMX, "vmx"},
		{"amd", "flags\t: fpu svm lm\n", "svm"},
		{"none", "flags\t: fpu lm\n", ""},
		{"no flags line", "processor\t: 0\n", ""},
		{"substring only", "flags\t: vmxnet svmx\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := virtFlag(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMeminfo(t *testing.T) {
	total, avail, err := parseMeminfo(meminfo)
	require.NoError(t, err)
	assert.Equal(t, uint64(16314060), total)
	assert.Equal(t, uint64(9123456), avail)

	_, _, err = parseMeminfo("MemFree: 10 kB\n")
	assert.Error(t, err)

	_, _, err = parseMeminfo("MemTotal: lots kB\n")
	assert.Error(t, err)
}
