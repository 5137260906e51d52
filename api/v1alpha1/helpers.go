package v1alpha1

import (
	"slices"
	"time"
)

const (
	// GroupName is the API group for vmtools records.
	GroupName = "vmtools.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// VirtualMachineKind is the kind string for VirtualMachine records.
	VirtualMachineKind = "VirtualMachine"

	// VMStatusKind is the kind string for VMStatus records.
	VMStatusKind = "VMStatus"
)

// APIVersion returns the group/version string stamped on records.
func APIVersion() string {
	return GroupName + "/" + Version
}

// SetDefaultAPIVersion ensures the VM has the correct apiVersion and kind.
func SetDefaultAPIVersion(vm *VirtualMachine) {
	if vm.APIVersion == "" {
		vm.APIVersion = APIVersion()
	}
	if vm.Kind == "" {
		vm.Kind = VirtualMachineKind
	}
}

// NewVMStatus wraps vm in a VMStatus with TypeMeta set.
func NewVMStatus(vm VirtualMachine) *VMStatus {
	SetDefaultAPIVersion(&vm)
	return &VMStatus{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       VMStatusKind,
		},
		VM: vm,
	}
}

// SetUptime records how long the VM has been running.
func (vm *VirtualMachine) SetUptime(d time.Duration) {
	vm.Uptime = NewDuration(d.Truncate(time.Second))
}

// ApplyOverrides returns a copy of t with every non-zero override applied.
func (t Template) ApplyOverrides(memoryMB uint64, vcpus uint, diskSizeGB uint64) Template {
	out := t.Clone()
	if memoryMB != 0 {
		out.MemoryMB = memoryMB
	}
	if vcpus != 0 {
		out.VCPUs = vcpus
	}
	if diskSizeGB != 0 {
		out.DiskSizeGB = diskSizeGB
	}
	return out
}

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	out := t
	out.BootOrder = slices.Clone(t.BootOrder)
	out.Features = slices.Clone(t.Features)
	return out
}

// HasFeature reports whether the template enables the named domain feature.
func (t Template) HasFeature(name string) bool {
	return slices.Contains(t.Features, name)
}

// BootOrderOrDefault returns the template boot order, or hd alone.
func (t Template) BootOrderOrDefault() []BootDevice {
	if len(t.BootOrder) == 0 {
		return []BootDevice{BootDeviceHD}
	}
	return t.BootOrder
}

// GetArchitecture returns the architecture with default fallback.
func (t Template) GetArchitecture() string {
	if t.Architecture == "" {
		return "x86_64"
	}
	return t.Architecture
}

// GetMachineType returns the machine type with default fallback.
func (t Template) GetMachineType() string {
	if t.MachineType == "" {
		return "q35"
	}
	return t.MachineType
}
