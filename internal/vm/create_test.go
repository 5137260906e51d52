package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/validate"
)

// defineRecorder captures the document passed to virsh define and the
// temporary path it was read from.
type defineRecorder struct {
	path string
	doc  string
}

func (d *defineRecorder) handler(argv []string) (invoke.Output, error) {
	d.path = lastArg(argv)
	b, err := os.ReadFile(d.path)
	if err != nil {
		return invoke.Output{}, err
	}
	d.doc = string(b)
	return invoke.Output{Stdout: "Domain defined"}, nil
}

func newCreateRunner(def *defineRecorder) *mockRunner {
	return newMockRunner().
		fail("dominfo", fmt.Sprintf(notFoundStderr, "demo")).
		reply("net-list", netListDefault).
		on("define", def.handler).
		reply("autostart", "Domain 'demo' marked as autostarted")
}

func TestCreate_Success(t *testing.T) {
	s := testSettings(t)
	def := &defineRecorder{}
	r := newCreateRunner(def)
	images := newMockImageTool()
	o := New(r, images, &mockDialer{}, s)

	err := o.Create(context.Background(), "demo", "ubuntu", Overrides{MemoryMB: 2048, VCPUs: 2})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if diff := cmp.Diff([]string{"dominfo", "net-list", "define"}, r.verbs()); diff != "" {
		t.Errorf("unexpected commands (-want +got):\n%s", diff)
	}
	if !strings.Contains(def.doc, `<memory unit="MiB">2048</memory>`) {
		t.Errorf("definition does not carry 2048 MiB:\n%s", def.doc)
	}
	if !strings.Contains(def.doc, `>2</vcpu>`) {
		t.Errorf("definition does not carry 2 vcpus:\n%s", def.doc)
	}
	if !strings.Contains(def.doc, `network="default"`) {
		t.Errorf("definition not attached to the default network:\n%s", def.doc)
	}

	if filepath.Dir(def.path) != s.TempDir.String() {
		t.Errorf("definition written to %s, want under %s", def.path, s.TempDir)
	}
	if _, err := os.Stat(def.path); !os.IsNotExist(err) {
		t.Errorf("temporary definition %s still exists", def.path)
	}

	disk := filepath.Join(s.ImagesDir.String(), "demo.qcow2")
	if len(images.createCalls) != 1 || images.createCalls[0].String() != disk {
		t.Errorf("createCalls = %v, want [%s]", images.createCalls, disk)
	}
	if _, err := os.Stat(disk); err != nil {
		t.Errorf("disk not kept after success: %v", err)
	}
}

func TestCreate_Autostart(t *testing.T) {
	def := &defineRecorder{}
	r := newCreateRunner(def)
	o := New(r, newMockImageTool(), &mockDialer{}, testSettings(t))

	if err := o.Create(context.Background(), "demo", "", Overrides{Autostart: true}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := r.callsTo("autostart"); len(got) != 1 || lastArg(got[0]) != "demo" {
		t.Errorf("autostart calls = %v", got)
	}
}

func TestCreate_InvalidInputRunsNothing(t *testing.T) {
	tests := []struct {
		name     string
		vmName   string
		template string
		ov       Overrides
	}{
		{name: "path traversal", vmName: "../etc"},
		{name: "shell metacharacters", vmName: "demo;rm -rf /"},
		{name: "empty name", vmName: ""},
		{name: "unknown template", vmName: "demo", template: "nope"},
		{name: "memory too small", vmName: "demo", ov: Overrides{MemoryMB: 64}},
		{name: "too many cpus", vmName: "demo", ov: Overrides{VCPUs: 1000}},
		{name: "bad network name", vmName: "demo", ov: Overrides{Network: "net/../x"}},
		{name: "iso without iso dir", vmName: "demo", ov: Overrides{ISOPath: "/tmp/x.iso"}},
		{name: "disk outside images", vmName: "demo", ov: Overrides{DiskPath: "/etc/passwd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newMockRunner()
			images := newMockImageTool()
			o := New(r, images, &mockDialer{}, testSettings(t))

			if err := o.Create(context.Background(), tt.vmName, tt.template, tt.ov); err == nil {
				t.Fatal("Create() error = nil, want error")
			}
			if n := r.callCount(); n != 0 {
				t.Errorf("ran %d commands, want 0: %v", n, r.verbs())
			}
			if len(images.createCalls) != 0 {
				t.Errorf("created disks %v", images.createCalls)
			}
		})
	}
}

func TestCreate_RangeErrorFields(t *testing.T) {
	o := New(newMockRunner(), newMockImageTool(), &mockDialer{}, testSettings(t))

	err := o.Create(context.Background(), "demo", "", Overrides{MemoryMB: 64})
	var rangeErr *validate.RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("error = %v, want *validate.RangeError", err)
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	r := newMockRunner().reply("dominfo", domInfoText("demo", "shut off"))
	images := newMockImageTool()
	o := New(r, images, &mockDialer{}, testSettings(t))

	err := o.Create(context.Background(), "demo", "", Overrides{})
	if !errors.Is(err, fault.ErrAlreadyExists) {
		t.Fatalf("error = %v, want ErrAlreadyExists", err)
	}
	if slices.Contains(r.verbs(), "define") || len(images.createCalls) != 0 {
		t.Errorf("did work after finding an existing domain: %v", r.verbs())
	}
}

func TestCreate_DiskAlreadyExists(t *testing.T) {
	s := testSettings(t)
	disk := filepath.Join(s.ImagesDir.String(), "demo.qcow2")
	if err := os.WriteFile(disk, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	images := newMockImageTool()
	o := New(newCreateRunner(&defineRecorder{}), images, &mockDialer{}, s)

	err := o.Create(context.Background(), "demo", "", Overrides{})
	if !errors.Is(err, fault.ErrAlreadyExists) {
		t.Fatalf("error = %v, want ErrAlreadyExists", err)
	}
	b, _ := os.ReadFile(disk)
	if string(b) != "keep me" {
		t.Error("existing disk was touched")
	}
}

func TestCreate_DefineFailureCleansUp(t *testing.T) {
	s := testSettings(t)
	r := newCreateRunner(&defineRecorder{}).fail("define", "error: XML error: bad domain")
	o := New(r, newMockImageTool(), &mockDialer{}, s)

	err := o.Create(context.Background(), "demo", "", Overrides{})
	if err == nil {
		t.Fatal("Create() error = nil, want define failure")
	}
	if !errors.Is(err, invoke.ErrNonZeroExit) {
		t.Errorf("error = %v, want the invocation failure wrapped", err)
	}

	if _, err := os.Stat(filepath.Join(s.ImagesDir.String(), "demo.qcow2")); !os.IsNotExist(err) {
		t.Error("disk not removed after define failure")
	}
	entries, _ := os.ReadDir(s.TempDir.String())
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %v", entries)
	}
	if n := len(r.callsTo("define")); n != 1 {
		t.Errorf("define ran %d times, want 1", n)
	}
}

func TestCreate_DiskCreateFailure(t *testing.T) {
	s := testSettings(t)
	images := newMockImageTool()
	images.createFunc = func(path validate.Path, _ diskimg.Format, _ uint64) error {
		_ = touch(path)
		return errors.New("qemu-img: no space left on device")
	}
	r := newCreateRunner(&defineRecorder{})
	o := New(r, images, &mockDialer{}, s)

	if err := o.Create(context.Background(), "demo", "", Overrides{}); err == nil {
		t.Fatal("Create() error = nil")
	}
	if slices.Contains(r.verbs(), "define") {
		t.Error("define ran after disk creation failed")
	}
	if _, err := os.Stat(filepath.Join(s.ImagesDir.String(), "demo.qcow2")); !os.IsNotExist(err) {
		t.Error("partial disk not removed")
	}
}

func TestCreate_NetworkSelection(t *testing.T) {
	tests := []struct {
		name      string
		netList   string
		requested string
		want      string
		wantErr   error
	}{
		{
			name:    "default when active",
			netList: netListDefault,
			want:    "default",
		},
		{
			name: "first active when default is down",
			netList: ` Name      State      Autostart   Persistent
----------------------------------------------
 default   inactive   no          yes
 lab       active     yes         yes
`,
			want: "lab",
		},
		{
			name:      "requested inactive network is used",
			netList:   netListDefault,
			requested: "isolated",
			want:      "isolated",
		},
		{
			name:      "requested network missing",
			netList:   netListDefault,
			requested: "missing",
			wantErr:   fault.ErrNotFound,
		},
		{
			name: "nothing active",
			netList: ` Name      State      Autostart   Persistent
----------------------------------------------
 default   inactive   no          yes
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &defineRecorder{}
			r := newCreateRunner(def).reply("net-list", tt.netList)
			o := New(r, newMockImageTool(), &mockDialer{}, testSettings(t))

			err := o.Create(context.Background(), "demo", "", Overrides{Network: tt.requested})
			if tt.want == "" {
				if err == nil {
					t.Fatal("Create() error = nil")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				if slices.Contains(r.verbs(), "define") {
					t.Error("define ran without a network")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if !strings.Contains(def.doc, `network="`+tt.want+`"`) {
				t.Errorf("definition not attached to %s:\n%s", tt.want, def.doc)
			}
		})
	}
}

func TestCreate_CustomDisk(t *testing.T) {
	s := testSettings(t)
	disk := writeQCOW2(t, filepath.Join(s.ImagesDir.String(), "golden.qcow2"), "")
	def := &defineRecorder{}
	images := newMockImageTool()
	o := New(newCreateRunner(def), images, &mockDialer{}, s)

	if err := o.Create(context.Background(), "demo", "", Overrides{DiskPath: disk.String()}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(images.createCalls) != 0 {
		t.Errorf("created a disk although one was given: %v", images.createCalls)
	}
	if !strings.Contains(def.doc, disk.String()) {
		t.Errorf("definition does not use %s", disk)
	}
}
