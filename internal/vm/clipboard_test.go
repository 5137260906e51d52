package vm

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/jbweber/vmtools/internal/libvirt"
)

func TestFixClipboard(t *testing.T) {
	s := testSettings(t)
	def := &defineRecorder{}
	r := domainRunner("running", map[string]string{
		"demo": nicDomainXML(t, s, "demo", "52:54:00:00:00:01", "default"),
	}).on("define", def.handler)
	o := New(r, newMockImageTool(), &mockDialer{}, s)

	report, err := o.FixClipboard(context.Background(), "demo", true)
	if err != nil {
		t.Fatalf("FixClipboard() error = %v", err)
	}
	if len(report.Changes) != 3 {
		t.Errorf("changes = %v, want clipboard, vdagent and guest agent", report.Changes)
	}
	if !report.RestartRequired {
		t.Error("RestartRequired = false for a running VM")
	}

	dom, err := libvirt.ParseDomainXML(def.doc)
	if err != nil {
		t.Fatalf("redefined XML does not parse: %v", err)
	}
	for _, ch := range []string{libvirt.SpiceAgentChannel, libvirt.GuestAgentChannel} {
		if !libvirt.HasChannel(dom, ch) {
			t.Errorf("redefined VM lacks channel %s", ch)
		}
	}
	if !strings.Contains(def.doc, `copypaste="yes"`) {
		t.Errorf("clipboard sharing not enabled:\n%s", def.doc)
	}
}

func TestFixClipboard_AlreadyConfigured(t *testing.T) {
	s := testSettings(t)
	dom, err := libvirt.ParseDomainXML(nicDomainXML(t, s, "demo", "52:54:00:00:00:01", "default"))
	if err != nil {
		t.Fatal(err)
	}
	libvirt.EnsureSpiceClipboard(dom)
	doc, err := dom.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	r := domainRunner("shut off", map[string]string{"demo": doc})
	o := New(r, newMockImageTool(), &mockDialer{}, s)

	report, err := o.FixClipboard(context.Background(), "demo", false)
	if err != nil {
		t.Fatalf("FixClipboard() error = %v", err)
	}
	if len(report.Changes) != 0 || report.RestartRequired {
		t.Errorf("report = %+v, want no changes", report)
	}
	if slices.Contains(r.verbs(), "define") {
		t.Error("configured VM was redefined")
	}
}

func TestFixClipboard_InvalidName(t *testing.T) {
	r := newMockRunner()
	o := New(r, newMockImageTool(), &mockDialer{}, testSettings(t))

	if _, err := o.FixClipboard(context.Background(), "../etc", false); err == nil {
		t.Fatal("FixClipboard() accepted an invalid name")
	}
	if r.callCount() != 0 {
		t.Errorf("virsh ran %d times for an invalid name", r.callCount())
	}
}
