package v1alpha1

// VMState is the coarse lifecycle state reported by the virtualization daemon.
// The set is closed. Anything the daemon reports that is not recognized maps
// to VMStateUnknown rather than failing.
type VMState string

const (
	VMStateRunning      VMState = "Running"
	VMStateStopped      VMState = "Stopped"
	VMStatePaused       VMState = "Paused"
	VMStateShuttingDown VMState = "ShuttingDown"
	VMStateCrashed      VMState = "Crashed"
	VMStateUnknown      VMState = "Unknown"
)

// VirtualMachine is a snapshot of one libvirt domain as observed by a single
// query. It is never cached.
type VirtualMachine struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// Name is the domain name.
	Name string `json:"name" yaml:"name"`

	// State is the coarse lifecycle state.
	State VMState `json:"state" yaml:"state"`

	// ID is the hypervisor's runtime domain id. Zero when the domain is not running.
	// +optional
	ID int `json:"id,omitempty" yaml:"id,omitempty"`

	// UUID is the domain UUID.
	// +optional
	UUID string `json:"uuid,omitempty" yaml:"uuid,omitempty"`

	// MemoryMB is the maximum memory in MiB.
	// +optional
	MemoryMB uint64 `json:"memoryMB,omitempty" yaml:"memoryMB,omitempty"`

	// VCPUs is the number of virtual CPUs.
	// +optional
	VCPUs uint `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`

	// CPUTime is the cumulative CPU time consumed by the domain.
	// +optional
	CPUTime *Duration `json:"cpuTime,omitempty" yaml:"cpuTime,omitempty"`

	// Uptime is set only when the domain is Running.
	// +optional
	Uptime *Duration `json:"uptime,omitempty" yaml:"uptime,omitempty"`

	// IPAddress is set only when the guest reported one.
	// +optional
	IPAddress string `json:"ipAddress,omitempty" yaml:"ipAddress,omitempty"`

	// +optional
	Persistent bool `json:"persistent,omitempty" yaml:"persistent,omitempty"`

	// +optional
	Autostart bool `json:"autostart,omitempty" yaml:"autostart,omitempty"`
}

// IsRunning reports whether the domain is Running.
func (vm *VirtualMachine) IsRunning() bool {
	return vm.State == VMStateRunning
}

// VMStatus is the result of a status query: the coarse record plus an
// optional live sample from the monitor.
type VMStatus struct {
	TypeMeta `json:",inline" yaml:",inline"`

	VM VirtualMachine `json:"vm" yaml:"vm"`

	// Sample is the latest live sample. Nil when the VM is not running or the
	// monitor could not be reached.
	// +optional
	Sample *StatsSample `json:"sample,omitempty" yaml:"sample,omitempty"`

	// Partial is true when live data was requested but could not be collected.
	Partial bool `json:"partial" yaml:"partial"`

	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// OSFamily selects guest-specific domain features.
type OSFamily string

const (
	OSFamilyLinux   OSFamily = "linux"
	OSFamilyWindows OSFamily = "windows"
)

// BootDevice is one entry in the boot order.
type BootDevice string

const (
	BootDeviceHD      BootDevice = "hd"
	BootDeviceCDROM   BootDevice = "cdrom"
	BootDeviceNetwork BootDevice = "network"
)

// Template is a named set of creation defaults loaded from configuration.
type Template struct {
	MemoryMB     uint64       `json:"memoryMB" yaml:"memoryMB" toml:"memory_mb"`
	VCPUs        uint         `json:"vcpus" yaml:"vcpus" toml:"vcpus"`
	DiskSizeGB   uint64       `json:"diskSizeGB" yaml:"diskSizeGB" toml:"disk_size_gb"`
	OSFamily     OSFamily     `json:"osFamily" yaml:"osFamily" toml:"os_family"`
	Architecture string       `json:"architecture,omitempty" yaml:"architecture,omitempty" toml:"architecture"`
	MachineType  string       `json:"machineType,omitempty" yaml:"machineType,omitempty" toml:"machine_type"`
	BootOrder    []BootDevice `json:"bootOrder,omitempty" yaml:"bootOrder,omitempty" toml:"boot_order"`
	Features     []string     `json:"features,omitempty" yaml:"features,omitempty" toml:"features"`
}

// NetworkInfo describes one libvirt virtual network.
type NetworkInfo struct {
	Name       string `json:"name" yaml:"name"`
	Active     bool   `json:"active" yaml:"active"`
	Autostart  bool   `json:"autostart" yaml:"autostart"`
	Persistent bool   `json:"persistent" yaml:"persistent"`
	// +optional
	Bridge string `json:"bridge,omitempty" yaml:"bridge,omitempty"`
}

// InterfaceAddress is one row of a domain's interface address report.
type InterfaceAddress struct {
	Interface string `json:"interface" yaml:"interface"`
	MAC       string `json:"mac" yaml:"mac"`
	Protocol  string `json:"protocol" yaml:"protocol"`
	Address   string `json:"address" yaml:"address"`
	Prefix    int    `json:"prefix" yaml:"prefix"`
}

// ImageInfo describes a disk image as reported by qemu-img.
type ImageInfo struct {
	Filename    string `json:"filename" yaml:"filename"`
	Format      string `json:"format" yaml:"format"`
	VirtualSize uint64 `json:"virtualSize" yaml:"virtualSize"`
	ActualSize  uint64 `json:"actualSize,omitempty" yaml:"actualSize,omitempty"`
	// +optional
	BackingFile string `json:"backingFile,omitempty" yaml:"backingFile,omitempty"`
}

// Metric is one named measurement. Units are carried verbatim from the
// hypervisor ("bytes", "count", "nanoseconds").
//
// Value is a float for gauges and rounds above 2^53. Readings the hypervisor
// reports as integers also keep their exact value in Int.
type Metric struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
	// +optional
	Int  *int64 `json:"int,omitempty" yaml:"int,omitempty"`
	Unit string `json:"unit" yaml:"unit"`
}

// IntMetric returns a Metric for an integer reading.
func IntMetric(name string, v int64, unit string) Metric {
	return Metric{Name: name, Value: float64(v), Int: &v, Unit: unit}
}

// MonitorEvent is an asynchronous notification received from the monitor.
type MonitorEvent struct {
	Name string `json:"name" yaml:"name"`
	Time Time   `json:"time" yaml:"time"`
	// +optional
	Data map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// StatsSample is one live reading of a running VM.
type StatsSample struct {
	Time     Time           `json:"time" yaml:"time"`
	RunState string         `json:"runState" yaml:"runState"`
	Metrics  []Metric       `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Events   []MonitorEvent `json:"events,omitempty" yaml:"events,omitempty"`
}

// Metric returns the named metric and whether it was present.
func (s *StatsSample) Metric(name string) (Metric, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// ConfigIssueKind classifies a problem found in a domain definition.
type ConfigIssueKind string

const (
	// ConfigIssueDuplicateMAC is an interface whose MAC address another
	// domain also uses.
	ConfigIssueDuplicateMAC ConfigIssueKind = "DuplicateMAC"
	// ConfigIssueInactiveNetwork is an interface on a network that is
	// defined but not started.
	ConfigIssueInactiveNetwork ConfigIssueKind = "InactiveNetwork"
	// ConfigIssueUnknownNetwork is an interface on a network libvirt does
	// not know.
	ConfigIssueUnknownNetwork ConfigIssueKind = "UnknownNetwork"
)

// ConfigIssue is one finding about a domain's definition.
type ConfigIssue struct {
	Kind ConfigIssueKind `json:"kind" yaml:"kind"`
	// Interface is the position of the affected NIC in the definition.
	Interface int    `json:"interface" yaml:"interface"`
	MAC       string `json:"mac,omitempty" yaml:"mac,omitempty"`
	Network   string `json:"network,omitempty" yaml:"network,omitempty"`
	Detail    string `json:"detail" yaml:"detail"`
	// +optional
	Fixed bool `json:"fixed,omitempty" yaml:"fixed,omitempty"`
}

// ConfigReport is the outcome of checking or repairing a domain's
// definition.
type ConfigReport struct {
	VM     string        `json:"vm" yaml:"vm"`
	Issues []ConfigIssue `json:"issues,omitempty" yaml:"issues,omitempty"`
	// Changes lists what was rewritten in the definition.
	Changes     []string `json:"changes,omitempty" yaml:"changes,omitempty"`
	Suggestions []string `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
	// RestartRequired is set when a running VM picks the changes up only
	// after a full stop and start.
	RestartRequired bool `json:"restartRequired,omitempty" yaml:"restartRequired,omitempty"`
}

// Unresolved returns the issues that were not fixed.
func (r *ConfigReport) Unresolved() []ConfigIssue {
	var out []ConfigIssue
	for _, i := range r.Issues {
		if !i.Fixed {
			out = append(out, i)
		}
	}
	return out
}
