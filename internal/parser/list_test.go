package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
)

var ignoreTypeMeta = cmpopts.IgnoreFields(v1alpha1.VirtualMachine{}, "TypeMeta")

func TestParseList(t *testing.T) {
	text := ` Id   Name    State
-----------------------
 1    demo1   running
 -    demo2   shut off   
 7    demo3   in shutdown

`
	got, err := ParseList(text)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}

	want := []v1alpha1.VirtualMachine{
		{Name: "demo1", State: v1alpha1.VMStateRunning, ID: 1},
		{Name: "demo2", State: v1alpha1.VMStateStopped},
		{Name: "demo3", State: v1alpha1.VMStateShuttingDown, ID: 7},
	}
	if diff := cmp.Diff(want, got, ignoreTypeMeta); diff != "" {
		t.Fatalf("unexpected list diff (-want +got):\n%s", diff)
	}
	if got[0].Kind != v1alpha1.VirtualMachineKind {
		t.Fatalf("kind not set: %q", got[0].Kind)
	}
}

func TestParseList_WideColumns(t *testing.T) {
	text := " Id    Name                           State\n" +
		"------------------------------------------------------\n" +
		" 12    a-very-long-domain-name-here   paused\n"

	got, err := ParseList(text)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(got) != 1 || got[0].Name != "a-very-long-domain-name-here" || got[0].State != v1alpha1.VMStatePaused {
		t.Fatalf("unexpected: %#v", got)
	}
}

func TestParseList_Empty(t *testing.T) {
	for _, text := range []string{"", "\n\n", " Id   Name   State\n--------------------\n\n"} {
		got, err := ParseList(text)
		if err != nil {
			t.Fatalf("ParseList(%q): %v", text, err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("ParseList(%q) = %#v, want empty slice", text, got)
		}
	}
}

func TestParseList_Malformed(t *testing.T) {
	tests := map[string]string{
		"too few fields": " Id Name State\n----------\n 1 demo\n",
		"bad id":         " Id Name State\n----------\n x demo running\n",
		"garbage":        "error: failed to connect to the hypervisor\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseList(text)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if fault.BoundaryOf(err) != fault.BoundaryParse {
				t.Fatalf("boundary = %s", fault.BoundaryOf(err))
			}
		})
	}
}

func TestParseNetworkList(t *testing.T) {
	text := ` Name      State      Autostart   Persistent
----------------------------------------------
 default   active     yes         yes
 isolated  inactive   no          yes
`
	got, err := ParseNetworkList(text)
	if err != nil {
		t.Fatalf("ParseNetworkList: %v", err)
	}
	want := []v1alpha1.NetworkInfo{
		{Name: "default", Active: true, Autostart: true, Persistent: true},
		{Name: "isolated", Active: false, Autostart: false, Persistent: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected network diff (-want +got):\n%s", diff)
	}

	if _, err := ParseNetworkList(" Name State Autostart\n---------\n default running yes\n"); err == nil {
		t.Fatal("expected error for unknown state")
	}

	empty, err := ParseNetworkList("")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty: %v %v", empty, err)
	}
}

func TestParseDomIfAddr(t *testing.T) {
	text := ` Name       MAC address          Protocol     Address
-------------------------------------------------------------------------------
 vnet0      52:54:00:aa:bb:cc    ipv6         fe80::5054:ff:feaa:bbcc/64
 -          -                    ipv4         192.168.122.10/24
`
	got, err := ParseDomIfAddr(text)
	if err != nil {
		t.Fatalf("ParseDomIfAddr: %v", err)
	}
	want := []v1alpha1.InterfaceAddress{
		{Interface: "vnet0", MAC: "52:54:00:aa:bb:cc", Protocol: "ipv6", Address: "fe80::5054:ff:feaa:bbcc", Prefix: 64},
		{Interface: "vnet0", MAC: "52:54:00:aa:bb:cc", Protocol: "ipv4", Address: "192.168.122.10", Prefix: 24},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected address diff (-want +got):\n%s", diff)
	}
	if ip := FirstIPv4(got); ip != "192.168.122.10" {
		t.Fatalf("FirstIPv4 = %q", ip)
	}
}

func TestParseSnapshotNames(t *testing.T) {
	got := ParseSnapshotNames("before-upgrade\n\nclean-install\n")
	if diff := cmp.Diff([]string{"before-upgrade", "clean-install"}, got); diff != "" {
		t.Fatalf("unexpected snapshot diff: %s", diff)
	}
	if got := ParseSnapshotNames("\n"); len(got) != 0 {
		t.Fatalf("expected no snapshots, got %v", got)
	}
}
