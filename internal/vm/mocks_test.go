package vm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/config"
	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/validate"
)

// handlerFunc answers one virsh verb. argv excludes the tool name.
type handlerFunc func(argv []string) (invoke.Output, error)

// mockRunner is a mock implementation of CommandRunner for testing.
// Commands are dispatched on their verb; an unexpected verb fails.
type mockRunner struct {
	mu sync.Mutex

	// Configurable behavior
	handlers   map[string]handlerFunc
	attachFunc func(cmd invoke.Command, stdin io.Reader, stdout, stderr io.Writer) error

	// Call tracking
	calls       []invoke.Command
	attachCalls []invoke.Command
}

func newMockRunner() *mockRunner {
	return &mockRunner{handlers: make(map[string]handlerFunc)}
}

// on installs a handler for verb.
func (m *mockRunner) on(verb string, fn handlerFunc) *mockRunner {
	m.handlers[verb] = fn
	return m
}

// reply makes verb succeed with stdout.
func (m *mockRunner) reply(verb, stdout string) *mockRunner {
	return m.on(verb, func([]string) (invoke.Output, error) {
		return invoke.Output{Stdout: stdout}, nil
	})
}

// fail makes verb exit non-zero with stderr.
func (m *mockRunner) fail(verb, stderr string) *mockRunner {
	return m.on(verb, func(argv []string) (invoke.Output, error) {
		return invoke.Output{Stderr: stderr}, exitError(verb, stderr)
	})
}

func (m *mockRunner) Run(ctx context.Context, cmd invoke.Command, timeout time.Duration) (invoke.Output, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	fn, ok := m.handlers[cmd.Verb()]
	m.mu.Unlock()

	if !ok {
		return invoke.Output{}, fmt.Errorf("unexpected command: %s", cmd)
	}
	return fn(cmd.Argv())
}

func (m *mockRunner) Attach(ctx context.Context, cmd invoke.Command, stdin io.Reader, stdout, stderr io.Writer) error {
	m.mu.Lock()
	m.attachCalls = append(m.attachCalls, cmd)
	fn := m.attachFunc
	m.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(cmd, stdin, stdout, stderr)
}

// verbs returns the verbs run so far, in order.
func (m *mockRunner) verbs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Verb()
	}
	return out
}

// callsTo returns the argv of every run of verb.
func (m *mockRunner) callsTo(verb string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]string
	for _, c := range m.calls {
		if c.Verb() == verb {
			out = append(out, c.Argv())
		}
	}
	return out
}

func (m *mockRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// exitError is what invoke.Exec returns for a non-zero virsh exit.
func exitError(verb, stderr string) error {
	return &invoke.InvocationError{
		Command:  invoke.Command{Tool: "virsh"},
		Kind:     invoke.KindNonZeroExit,
		ExitCode: 1,
		Stderr:   stderr,
	}
}

// lastArg is the domain name for most verbs.
func lastArg(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[len(argv)-1]
}

// mockImageTool is a mock implementation of ImageTool for testing. The
// default Create, Overlay and Convert write a placeholder file so cleanup
// can be observed.
type mockImageTool struct {
	mu sync.Mutex

	// Configurable behavior
	createFunc  func(path validate.Path, format diskimg.Format, sizeGB uint64) error
	overlayFunc func(base validate.Path, baseFormat diskimg.Format, path validate.Path) error
	convertFunc func(src, dst validate.Path) error
	resizeFunc  func(path validate.Path, sizeGB uint64) error
	infoFunc    func(path validate.Path) (v1alpha1.ImageInfo, error)

	// Call tracking
	createCalls  []validate.Path
	overlayCalls []validate.Path
	convertCalls []validate.Path
	resizeCalls  []uint64
}

func newMockImageTool() *mockImageTool {
	return &mockImageTool{}
}

func touch(path validate.Path) error {
	return os.WriteFile(path.String(), []byte("disk"), 0o644)
}

func (m *mockImageTool) Create(ctx context.Context, path validate.Path, format diskimg.Format, sizeGB uint64) error {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, path)
	m.mu.Unlock()
	if m.createFunc != nil {
		return m.createFunc(path, format, sizeGB)
	}
	return touch(path)
}

func (m *mockImageTool) Overlay(ctx context.Context, base validate.Path, baseFormat diskimg.Format, path validate.Path) error {
	m.mu.Lock()
	m.overlayCalls = append(m.overlayCalls, path)
	m.mu.Unlock()
	if m.overlayFunc != nil {
		return m.overlayFunc(base, baseFormat, path)
	}
	return touch(path)
}

func (m *mockImageTool) Convert(ctx context.Context, src, dst validate.Path) error {
	m.mu.Lock()
	m.convertCalls = append(m.convertCalls, dst)
	m.mu.Unlock()
	if m.convertFunc != nil {
		return m.convertFunc(src, dst)
	}
	return touch(dst)
}

func (m *mockImageTool) Resize(ctx context.Context, path validate.Path, sizeGB uint64) error {
	m.mu.Lock()
	m.resizeCalls = append(m.resizeCalls, sizeGB)
	m.mu.Unlock()
	if m.resizeFunc != nil {
		return m.resizeFunc(path, sizeGB)
	}
	return nil
}

func (m *mockImageTool) Info(ctx context.Context, path validate.Path) (v1alpha1.ImageInfo, error) {
	if m.infoFunc != nil {
		return m.infoFunc(path)
	}
	return v1alpha1.ImageInfo{Filename: path.String(), Format: "qcow2"}, nil
}

// mockMonitor is a mock implementation of Monitor for testing.
type mockMonitor struct {
	mu sync.Mutex

	sampleFunc  func(ctx context.Context) (v1alpha1.StatsSample, error)
	sendKeyFunc func(keys []string) error
	events      []v1alpha1.MonitorEvent

	samples     int
	sendKeyArgs [][]string
	closed      int
}

func (m *mockMonitor) Sample(ctx context.Context) (v1alpha1.StatsSample, error) {
	m.mu.Lock()
	m.samples++
	n := m.samples
	m.mu.Unlock()
	if m.sampleFunc != nil {
		return m.sampleFunc(ctx)
	}
	return v1alpha1.StatsSample{
		Time:     v1alpha1.NewTime(time.Now()),
		RunState: "running",
		Metrics:  []v1alpha1.Metric{{Name: "vcpu_count", Value: float64(n), Unit: "count"}},
	}, nil
}

func (m *mockMonitor) DrainEvents() []v1alpha1.MonitorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.events
	m.events = nil
	return ev
}

func (m *mockMonitor) SendKey(ctx context.Context, keys []string, hold time.Duration) error {
	m.mu.Lock()
	m.sendKeyArgs = append(m.sendKeyArgs, keys)
	m.mu.Unlock()
	if m.sendKeyFunc != nil {
		return m.sendKeyFunc(keys)
	}
	return nil
}

func (m *mockMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// mockDialer hands out one monitor, or fails.
type mockDialer struct {
	mu sync.Mutex

	monitor *mockMonitor
	err     error

	dials []string
}

func (d *mockDialer) Dial(ctx context.Context, socket validate.Path) (Monitor, error) {
	d.mu.Lock()
	d.dials = append(d.dials, socket.String())
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.monitor, nil
}

// testSettings returns settings rooted in fresh temporary directories, with
// the default templates.
func testSettings(t *testing.T) Settings {
	t.Helper()
	cfg := config.Default()
	return Settings{
		VirshPath:       "virsh",
		Timeout:         time.Second,
		ImagesDir:       mustDir(t, t.TempDir()),
		TempDir:         mustDir(t, t.TempDir()),
		DiskFormat:      diskimg.FormatQCOW2,
		CloneMode:       CloneModeAuto,
		DefaultNetwork:  "default",
		IPSource:        "lease",
		MonitorInterval: time.Millisecond,
		MonitorTimeout:  time.Second,
		DefaultTemplate: cfg.Defaults.Template,
		Templates:       cfg.Templates,
		BuildVersion:    "test",
	}
}

func mustDir(t *testing.T, dir string) validate.Path {
	t.Helper()
	p, err := validate.Dir(dir)
	if err != nil {
		t.Fatalf("validate.Dir(%s): %v", dir, err)
	}
	return p
}

func mustName(t *testing.T, s string) validate.Name {
	t.Helper()
	n, err := validate.Identifier(s)
	if err != nil {
		t.Fatalf("validate.Identifier(%s): %v", s, err)
	}
	return n
}

// writeQCOW2 writes a minimal qcow2 header, optionally naming a backing
// file.
func writeQCOW2(t *testing.T, path, backing string) validate.Path {
	t.Helper()
	const nameAt = 64
	buf := make([]byte, nameAt+len(backing))
	copy(buf, []byte{0x51, 0x46, 0x49, 0xfb})
	binary.BigEndian.PutUint32(buf[4:], 3)
	if backing != "" {
		binary.BigEndian.PutUint64(buf[8:], nameAt)
		binary.BigEndian.PutUint32(buf[16:], uint32(len(backing)))
		copy(buf[nameAt:], backing)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	p, err := validate.SystemPath(path, filepath.Dir(path))
	if err != nil {
		t.Fatalf("validate.SystemPath(%s): %v", path, err)
	}
	return p
}

// domainXML generates a definition for name whose only disk is disk.
func domainXML(t *testing.T, name string, disk validate.Path) string {
	t.Helper()
	doc, err := libvirt.GenerateDomainXML(&libvirt.DomainSpec{
		Name:     mustName(t, name),
		Template: config.Default().Templates["ubuntu"],
		DiskPath: disk,
		Network:  mustName(t, "default"),
		MAC:      "52:54:00:00:00:01",
	})
	if err != nil {
		t.Fatalf("GenerateDomainXML: %v", err)
	}
	return doc
}

func domInfoText(name, state string) string {
	id := "-"
	if state == "running" {
		id = "3"
	}
	return strings.Join([]string{
		"Id:             " + id,
		"Name:           " + name,
		"UUID:           4b1c8b0e-9c57-4f57-8c63-0f1f6d5b1a10",
		"OS Type:        hvm",
		"State:          " + state,
		"CPU(s):         2",
		"Max memory:     2097152 KiB",
		"Used memory:    2097152 KiB",
		"Persistent:     yes",
		"Autostart:      disable",
		"",
	}, "\n")
}

const netListDefault = ` Name      State      Autostart   Persistent
----------------------------------------------
 default   active     yes         yes
 isolated  inactive   no          yes
`

const notFoundStderr = "error: failed to get domain '%s'\nerror: Domain not found"
