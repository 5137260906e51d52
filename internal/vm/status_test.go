package vm

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/qmp"
	"github.com/jbweber/vmtools/internal/status"
)

const domIfAddr = ` Name       MAC address          Protocol     Address
-------------------------------------------------------------------------------
 vnet0      52:54:00:8a:3b:11    ipv6         fe80::5054:ff:fe8a:3b11/64
 -          -                    ipv4         192.168.122.45/24
`

func runningStatusRunner() *mockRunner {
	return newMockRunner().
		reply("dominfo", domInfoText("demo", "running")).
		reply("domifaddr", domIfAddr)
}

func TestStatus_Stopped(t *testing.T) {
	r := newMockRunner().reply("dominfo", domInfoText("demo", "shut off"))
	dialer := &mockDialer{monitor: &mockMonitor{}}
	s := testSettings(t)
	s.SocketDir = mustDir(t, t.TempDir())
	o := New(r, newMockImageTool(), dialer, s)

	st, err := o.Status(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.VM.State != v1alpha1.VMStateStopped || st.Partial || st.Sample != nil {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Kind != v1alpha1.VMStatusKind || st.APIVersion != v1alpha1.APIVersion() {
		t.Errorf("TypeMeta not set: %+v", st.TypeMeta)
	}
	if len(dialer.dials) != 0 || slices.Contains(r.verbs(), "domifaddr") {
		t.Error("queried live data for a stopped VM")
	}
	if status.IsConditionTrue(st, status.ConditionReady) {
		t.Error("stopped VM reported Ready")
	}
}

func TestStatus_RunningWithSample(t *testing.T) {
	mon := &mockMonitor{events: []v1alpha1.MonitorEvent{{Name: "RESUME"}}}
	dialer := &mockDialer{monitor: mon}
	s := testSettings(t)
	s.SocketDir = mustDir(t, t.TempDir())
	o := New(runningStatusRunner(), newMockImageTool(), dialer, s)

	st, err := o.Status(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Partial {
		t.Error("Partial = true with a working monitor")
	}
	if st.Sample == nil || len(st.Sample.Events) != 1 {
		t.Fatalf("sample = %+v, want one with the pending event", st.Sample)
	}
	if st.VM.IPAddress != "192.168.122.45" {
		t.Errorf("IPAddress = %q", st.VM.IPAddress)
	}
	if want := filepath.Join(s.SocketDir.String(), "demo.qmp"); len(dialer.dials) != 1 || dialer.dials[0] != want {
		t.Errorf("dials = %v, want [%s]", dialer.dials, want)
	}
	if mon.closed != 1 {
		t.Errorf("monitor closed %d times, want 1", mon.closed)
	}
}

// A monitor that answers with a malformed greeting leaves the coarse status
// intact and marks it Partial.
func TestStatus_MalformedGreeting(t *testing.T) {
	s := testSettings(t)
	s.SocketDir = mustDir(t, t.TempDir())

	ln, err := net.Listen("unix", filepath.Join(s.SocketDir.String(), "demo.qmp"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _ = conn.Write([]byte(`{"hello": "not a monitor"}` + "\n"))
	}()

	dialer := QMPDialer{Options: []qmp.Option{qmp.WithRequestTimeout(2 * time.Second)}}
	o := New(runningStatusRunner(), newMockImageTool(), dialer, s)

	st, err := o.Status(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.VM.State != v1alpha1.VMStateRunning {
		t.Errorf("State = %s, want Running", st.VM.State)
	}
	if !st.Partial || st.Sample != nil {
		t.Errorf("Partial = %v, Sample = %v; want partial without sample", st.Partial, st.Sample)
	}
	cond := status.GetCondition(st, status.ConditionLiveStats)
	if cond == nil || cond.Reason != "MonitorUnavailable" {
		t.Errorf("LiveStats condition = %+v", cond)
	}
}

func TestStatus_SampleFailure(t *testing.T) {
	mon := &mockMonitor{sampleFunc: func(context.Context) (v1alpha1.StatsSample, error) {
		return v1alpha1.StatsSample{}, &qmp.ProtocolError{Op: "query-status", Err: qmp.ErrConnectionLost}
	}}
	s := testSettings(t)
	s.SocketDir = mustDir(t, t.TempDir())
	o := New(runningStatusRunner(), newMockImageTool(), &mockDialer{monitor: mon}, s)

	st, err := o.Status(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Partial {
		t.Error("Partial = false after a failed sample")
	}
	if mon.closed != 1 {
		t.Errorf("monitor closed %d times, want 1", mon.closed)
	}
}

func TestStatus_NoSocketDir(t *testing.T) {
	dialer := &mockDialer{monitor: &mockMonitor{}}
	o := New(runningStatusRunner(), newMockImageTool(), dialer, testSettings(t))

	st, err := o.Status(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Partial || len(dialer.dials) != 0 {
		t.Errorf("Partial = %v after %d dials, want partial without dialing", st.Partial, len(dialer.dials))
	}
}

func TestStatus_AddressQueryFailureIsNotFatal(t *testing.T) {
	r := runningStatusRunner().fail("domifaddr", "error: Guest agent is not responding")
	s := testSettings(t)
	s.SocketDir = mustDir(t, t.TempDir())
	o := New(r, newMockImageTool(), &mockDialer{monitor: &mockMonitor{}}, s)

	st, err := o.Status(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.VM.IPAddress != "" {
		t.Errorf("IPAddress = %q, want empty", st.VM.IPAddress)
	}
	cond := status.GetCondition(st, status.ConditionGuestAddress)
	if cond == nil || cond.Status != v1alpha1.ConditionUnknown {
		t.Errorf("GuestAddress condition = %+v", cond)
	}
}

func TestStatus_NotFound(t *testing.T) {
	r := newMockRunner().fail("dominfo", "error: failed to get domain 'ghost'")
	o := New(r, newMockImageTool(), &mockDialer{}, testSettings(t))

	if _, err := o.Status(context.Background(), "ghost"); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
