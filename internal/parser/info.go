package parser

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

var (
	errEmptyValue  = errors.New("value is empty")
	errNotANumber  = errors.New("value is not a number")
	errUnknownUnit = errors.New("unit is not KiB")
)

// ParseDomInfo parses "virsh dominfo" output.
func ParseDomInfo(text string) (v1alpha1.VirtualMachine, error) {
	var vm v1alpha1.VirtualMachine

	kv, bad := keyValues(text)
	if bad != "" {
		return vm, &ParseError{What: "domain info", Input: bad, Reason: "line is not 'key: value'"}
	}

	name, ok := kv["Name"]
	if !ok || name == "" {
		return vm, &ParseError{What: "domain info", Input: text, Reason: "missing Name"}
	}
	state, ok := kv["State"]
	if !ok {
		return vm, &ParseError{What: "domain info", Input: text, Reason: "missing State"}
	}
	vm.Name = name
	vm.State = ParseState(state)
	vm.UUID = kv["UUID"]

	if id := kv["Id"]; id != "" && id != "-" {
		n, err := strconv.Atoi(id)
		if err != nil {
			return vm, &ParseError{What: "domain info", Input: "Id: " + id, Reason: "id is not a number"}
		}
		vm.ID = n
	}

	if s := kv["CPU(s)"]; s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return vm, &ParseError{What: "domain info", Input: "CPU(s): " + s, Reason: "cpu count is not a number"}
		}
		vm.VCPUs = uint(n)
	}

	if s := kv["Max memory"]; s != "" {
		kib, err := parseKiB(s)
		if err != nil {
			return vm, &ParseError{What: "domain info", Input: "Max memory: " + s, Reason: err.Error()}
		}
		vm.MemoryMB = kib / 1024
	}

	if s := kv["CPU time"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return vm, &ParseError{What: "domain info", Input: "CPU time: " + s, Reason: "cpu time is not a duration"}
		}
		vm.CPUTime = v1alpha1.NewDuration(d)
	}

	vm.Persistent, _ = yesNo(kv["Persistent"])
	vm.Autostart, _ = yesNo(kv["Autostart"])

	v1alpha1.SetDefaultAPIVersion(&vm)
	return vm, nil
}

func parseKiB(s string) (uint64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, errEmptyValue
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, errNotANumber
	}
	if len(fields) > 1 && !strings.EqualFold(fields[1], "KiB") {
		return 0, errUnknownUnit
	}
	return n, nil
}

// ParseNetInfo parses "virsh net-info" output.
func ParseNetInfo(text string) (v1alpha1.NetworkInfo, error) {
	var n v1alpha1.NetworkInfo

	kv, bad := keyValues(text)
	if bad != "" {
		return n, &ParseError{What: "network info", Input: bad, Reason: "line is not 'key: value'"}
	}
	name, ok := kv["Name"]
	if !ok || name == "" {
		return n, &ParseError{What: "network info", Input: text, Reason: "missing Name"}
	}
	n.Name = name
	n.Active, _ = yesNo(kv["Active"])
	n.Persistent, _ = yesNo(kv["Persistent"])
	n.Autostart, _ = yesNo(kv["Autostart"])
	n.Bridge = kv["Bridge"]
	return n, nil
}
