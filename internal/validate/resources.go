package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jbweber/vmtools/internal/fault"
)

// Resource limits accepted for new domains.
const (
	MinMemoryMB   = 128
	MaxMemoryMB   = 1024 * 1024
	MinCPUs       = 1
	MaxCPUs       = 256
	MinDiskSizeGB = 1
	MaxDiskSizeGB = 10240
)

// RangeError reports a numeric setting outside its accepted range.
type RangeError struct {
	Field string
	Value uint64
	Min   uint64
	Max   uint64
	Unit  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %d%s out of range [%d%s, %d%s]", e.Field, e.Value, e.Unit, e.Min, e.Unit, e.Max, e.Unit)
}

// Boundary implements fault.Bounded.
func (e *RangeError) Boundary() fault.Boundary {
	return fault.BoundaryValidation
}

func checkRange(field string, v, lo, hi uint64, unit string) error {
	if v < lo || v > hi {
		return &RangeError{Field: field, Value: v, Min: lo, Max: hi, Unit: unit}
	}
	return nil
}

// Memory checks a memory size in MiB.
func Memory(mb uint64) error {
	return checkRange("memory", mb, MinMemoryMB, MaxMemoryMB, "MB")
}

// CPUs checks a vCPU count.
func CPUs(n uint) error {
	return checkRange("cpus", uint64(n), MinCPUs, MaxCPUs, "")
}

// DiskSize checks a disk size in GiB.
func DiskSize(gb uint64) error {
	return checkRange("disk size", gb, MinDiskSizeGB, MaxDiskSizeGB, "GB")
}

var architectures = []string{"x86_64", "i686", "aarch64", "armv7l", "ppc64le", "s390x", "riscv64"}

// Architecture checks a guest architecture name.
func Architecture(arch string) error {
	if !slices.Contains(architectures, arch) {
		return &SecurityViolation{Input: arch, Reason: fmt.Sprintf("unsupported architecture, must be one of: %s", strings.Join(architectures, ", "))}
	}
	return nil
}

// MaxMachineTypeLength bounds a machine type such as "pc-q35-8.2".
const MaxMachineTypeLength = 64

// MachineType checks a qemu machine type. It must be a single token of
// letters, digits, '.', '_' and '-' that does not start with '-'.
func MachineType(machine string) error {
	if machine == "" || len(machine) > MaxMachineTypeLength {
		return &SecurityViolation{Input: machine, Reason: "machine type is empty or too long"}
	}
	if machine[0] == '-' || machine[0] == '.' {
		return &SecurityViolation{Input: machine, Reason: "machine type starts with '-' or '.'"}
	}
	for _, r := range machine {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '.' && r != '_' && r != '-' {
			return &SecurityViolation{Input: machine, Reason: fmt.Sprintf("machine type contains invalid character %q", r)}
		}
	}
	return nil
}
