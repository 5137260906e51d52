package parser

import (
	"strconv"
	"strings"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// ParseList parses "virsh list [--all]" output. Rows are "Id Name State";
// the id is "-" for inactive domains and the state may span several words.
func ParseList(text string) ([]v1alpha1.VirtualMachine, error) {
	vms := []v1alpha1.VirtualMachine{}
	for _, row := range tableRows(text, "Id") {
		fields := strings.Fields(row)
		if len(fields) < 3 {
			return nil, &ParseError{What: "domain list", Input: row, Reason: "expected id, name and state"}
		}

		vm := v1alpha1.VirtualMachine{
			Name:  fields[1],
			State: ParseState(strings.Join(fields[2:], " ")),
		}
		if fields[0] != "-" {
			id, err := strconv.Atoi(fields[0])
			if err != nil || id < 0 {
				return nil, &ParseError{What: "domain list", Input: row, Reason: "id is neither a number nor '-'"}
			}
			vm.ID = id
		}
		v1alpha1.SetDefaultAPIVersion(&vm)
		vms = append(vms, vm)
	}
	return vms, nil
}

// ParseNetworkList parses "virsh net-list --all" output. The Persistent
// column is absent on old releases.
func ParseNetworkList(text string) ([]v1alpha1.NetworkInfo, error) {
	nets := []v1alpha1.NetworkInfo{}
	for _, row := range tableRows(text, "Name") {
		fields := strings.Fields(row)
		if len(fields) < 3 || len(fields) > 4 {
			return nil, &ParseError{What: "network list", Input: row, Reason: "expected name, state, autostart and optional persistent"}
		}

		n := v1alpha1.NetworkInfo{Name: fields[0], Persistent: true}
		var ok bool
		if n.Active, ok = yesNo(fields[1]); !ok {
			return nil, &ParseError{What: "network list", Input: row, Reason: "unknown state " + strconv.Quote(fields[1])}
		}
		if n.Autostart, ok = yesNo(fields[2]); !ok {
			return nil, &ParseError{What: "network list", Input: row, Reason: "unknown autostart value " + strconv.Quote(fields[2])}
		}
		if len(fields) == 4 {
			if n.Persistent, ok = yesNo(fields[3]); !ok {
				return nil, &ParseError{What: "network list", Input: row, Reason: "unknown persistent value " + strconv.Quote(fields[3])}
			}
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// ParseDomIfAddr parses "virsh domifaddr" output. Continuation rows, where
// the name and MAC are "-", belong to the previous interface.
func ParseDomIfAddr(text string) ([]v1alpha1.InterfaceAddress, error) {
	addrs := []v1alpha1.InterfaceAddress{}
	var prev v1alpha1.InterfaceAddress
	for _, row := range tableRows(text, "Name") {
		fields := strings.Fields(row)
		if len(fields) != 4 {
			return nil, &ParseError{What: "interface addresses", Input: row, Reason: "expected name, MAC, protocol and address"}
		}

		a := v1alpha1.InterfaceAddress{Interface: fields[0], MAC: fields[1], Protocol: fields[2]}
		if a.Interface == "-" {
			a.Interface = prev.Interface
			a.MAC = prev.MAC
		}

		addr, prefix, hasPrefix := strings.Cut(fields[3], "/")
		a.Address = addr
		if hasPrefix {
			p, err := strconv.Atoi(prefix)
			if err != nil {
				return nil, &ParseError{What: "interface addresses", Input: row, Reason: "prefix length is not a number"}
			}
			a.Prefix = p
		}
		addrs = append(addrs, a)
		prev = a
	}
	return addrs, nil
}

// FirstIPv4 returns the first IPv4 address, or "".
func FirstIPv4(addrs []v1alpha1.InterfaceAddress) string {
	for _, a := range addrs {
		if a.Protocol == "ipv4" {
			return a.Address
		}
	}
	return ""
}

// ParseSnapshotNames parses "virsh snapshot-list --name" output, one name per
// line.
func ParseSnapshotNames(text string) []string {
	names := []string{}
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			names = append(names, s)
		}
	}
	return names
}
