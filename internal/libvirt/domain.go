package libvirt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/metadata"
	"github.com/jbweber/vmtools/internal/naming"
	"github.com/jbweber/vmtools/internal/validate"
)

// qmpFlag introduces the extra monitor added through <qemu:commandline>.
const qmpFlag = "-qmp"

// DomainSpec is everything needed to synthesize a domain definition. Every
// string that reaches the document has already been validated.
type DomainSpec struct {
	Name     validate.Name
	Template v1alpha1.Template

	// UUID is generated when empty.
	UUID string

	DiskPath   validate.Path
	DiskFormat string

	// ISOPath is an installer image attached as a cdrom.
	// +optional
	ISOPath validate.Path

	// SeedPath is a cloud-init NoCloud image.
	// +optional
	SeedPath validate.Path

	Network validate.Name
	MAC     string

	// QMPSocket adds a second QMP monitor for live introspection.
	// +optional
	QMPSocket validate.Path

	Metadata *metadata.Info
}

// GenerateDomainXML renders spec as libvirt domain XML.
func GenerateDomainXML(spec *DomainSpec) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("domain spec cannot be nil")
	}
	if spec.Name.IsZero() || spec.DiskPath.IsZero() || spec.Network.IsZero() {
		return "", fmt.Errorf("domain spec requires a validated name, disk and network")
	}
	if err := validate.Memory(spec.Template.MemoryMB); err != nil {
		return "", err
	}
	if err := validate.CPUs(spec.Template.VCPUs); err != nil {
		return "", err
	}
	if err := validate.Architecture(spec.Template.GetArchitecture()); err != nil {
		return "", err
	}
	if err := validate.MachineType(spec.Template.GetMachineType()); err != nil {
		return "", err
	}

	id := spec.UUID
	if id == "" {
		id = uuid.NewString()
	}
	diskFormat := spec.DiskFormat
	if diskFormat == "" {
		diskFormat = "qcow2"
	}
	windows := spec.Template.OSFamily == v1alpha1.OSFamilyWindows

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name.String(),
		UUID: id,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.Template.MemoryMB),
			Unit:  "MiB",
		},
		CurrentMemory: &libvirtxml.DomainCurrentMemory{
			Value: uint(spec.Template.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     spec.Template.VCPUs,
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    spec.Template.GetArchitecture(),
				Machine: spec.Template.GetMachineType(),
				Type:    "hvm",
			},
		},
		Features: features(spec.Template),
		CPU: &libvirtxml.DomainCPU{
			Mode:  "host-passthrough",
			Check: "none",
		},
		Clock:      clock(windows),
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices: &libvirtxml.DomainDeviceList{
			Controllers: []libvirtxml.DomainController{
				{Type: "usb", Index: uintPtr(0), Model: "qemu-xhci"},
				{Type: "sata", Index: uintPtr(0)},
			},
			Inputs: []libvirtxml.DomainInput{
				{Type: "tablet", Bus: "usb"},
			},
			Graphics: []libvirtxml.DomainGraphic{
				{Spice: &libvirtxml.DomainGraphicSpice{AutoPort: "yes"}},
			},
			Videos: []libvirtxml.DomainVideo{
				{Model: libvirtxml.DomainVideoModel{Type: "virtio", Heads: 1, Primary: "yes"}},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	for _, dev := range spec.Template.BootOrderOrDefault() {
		domain.OS.BootDevices = append(domain.OS.BootDevices, libvirtxml.DomainBootDevice{Dev: string(dev)})
	}

	// Windows guests lack virtio drivers until they are installed.
	diskBus, diskDev, nicModel := "virtio", "vda", "virtio"
	if windows {
		diskBus, diskDev, nicModel = "sata", "sda", "e1000e"
	}

	domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: diskFormat,
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: spec.DiskPath.String()},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: diskDev,
			Bus: diskBus,
		},
	})

	cdroms := []validate.Path{spec.ISOPath, spec.SeedPath}
	letter := 'a'
	if windows {
		letter = 'b'
	}
	for _, iso := range cdroms {
		if iso.IsZero() {
			continue
		}
		domain.Devices.Disks = append(domain.Devices.Disks, cdrom(iso.String(), fmt.Sprintf("sd%c", letter)))
		letter++
	}

	domain.Devices.Interfaces = []libvirtxml.DomainInterface{
		{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: spec.MAC,
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{
					Network: spec.Network.String(),
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: nicModel,
			},
		},
	}
	if spec.MAC == "" {
		domain.Devices.Interfaces[0].MAC = nil
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Type: "isa-serial",
				Port: uintPtr(0),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: uintPtr(0),
			},
		},
	}

	if !spec.QMPSocket.IsZero() {
		setQMPSocket(domain, spec.QMPSocket.String())
	}

	if spec.Metadata != nil {
		if err := metadata.Embed(domain, *spec.Metadata); err != nil {
			return "", err
		}
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func features(t v1alpha1.Template) *libvirtxml.DomainFeatureList {
	names := t.Features
	if len(names) == 0 {
		names = []string{"acpi", "apic"}
	}

	f := &libvirtxml.DomainFeatureList{}
	for _, name := range names {
		switch name {
		case "acpi":
			f.ACPI = &libvirtxml.DomainFeature{}
		case "apic":
			f.APIC = &libvirtxml.DomainFeatureAPIC{}
		case "pae":
			f.PAE = &libvirtxml.DomainFeature{}
		case "hyperv":
			f.HyperV = &libvirtxml.DomainFeatureHyperV{
				Relaxed: &libvirtxml.DomainFeatureState{State: "on"},
				VAPIC:   &libvirtxml.DomainFeatureState{State: "on"},
				Spinlocks: &libvirtxml.DomainFeatureHyperVSpinlocks{
					DomainFeatureState: libvirtxml.DomainFeatureState{State: "on"},
					Retries:            8191,
				},
			}
		}
	}
	return f
}

func clock(windows bool) *libvirtxml.DomainClock {
	c := &libvirtxml.DomainClock{
		Offset: "utc",
		Timer: []libvirtxml.DomainTimer{
			{Name: "rtc", TickPolicy: "catchup"},
			{Name: "pit", TickPolicy: "delay"},
			{Name: "hpet", Present: "no"},
		},
	}
	if windows {
		c.Offset = "localtime"
		c.Timer = append(c.Timer, libvirtxml.DomainTimer{Name: "hypervclock", Present: "yes"})
	}
	return c
}

func cdrom(path, dev string) libvirtxml.DomainDisk {
	return libvirtxml.DomainDisk{
		Device: "cdrom",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: "raw",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: path},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: dev,
			Bus: "sata",
		},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	}
}

// qmpArg is the qemu -qmp value. wait=off keeps qemu from blocking on
// startup until a client connects.
func qmpArg(socket string) string {
	return "unix:" + socket + ",server=on,wait=off"
}

// setQMPSocket points the -qmp argument at socket, adding it when absent.
func setQMPSocket(dom *libvirtxml.Domain, socket string) {
	if dom.QEMUCommandline == nil {
		dom.QEMUCommandline = &libvirtxml.DomainQEMUCommandline{}
	}
	args := dom.QEMUCommandline.Args
	for i := 0; i+1 < len(args); i++ {
		if args[i].Value == qmpFlag {
			args[i+1].Value = qmpArg(socket)
			return
		}
	}
	dom.QEMUCommandline.Args = append(args,
		libvirtxml.DomainQEMUCommandlineArg{Value: qmpFlag},
		libvirtxml.DomainQEMUCommandlineArg{Value: qmpArg(socket)},
	)
}

// QMPSocket returns the socket path of the extra QMP monitor, or "".
func QMPSocket(dom *libvirtxml.Domain) string {
	if dom.QEMUCommandline == nil {
		return ""
	}
	args := dom.QEMUCommandline.Args
	for i := 0; i+1 < len(args); i++ {
		if args[i].Value != qmpFlag {
			continue
		}
		v := strings.TrimPrefix(args[i+1].Value, "unix:")
		v, _, _ = strings.Cut(v, ",")
		return v
	}
	return ""
}

// ParseDomainXML parses a dumpxml document.
func ParseDomainXML(doc string) (*libvirtxml.Domain, error) {
	dom := &libvirtxml.Domain{}
	if err := dom.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	return dom, nil
}

// DiskSources returns the file paths of the domain's disks in document
// order. The first entry is the primary disk.
func DiskSources(dom *libvirtxml.Domain) []string {
	return sources(dom, "disk")
}

// CDROMSources returns the file paths of attached cdrom images.
func CDROMSources(dom *libvirtxml.Domain) []string {
	return sources(dom, "cdrom")
}

func sources(dom *libvirtxml.Domain, device string) []string {
	if dom.Devices == nil {
		return nil
	}
	var out []string
	for _, d := range dom.Devices.Disks {
		dev := d.Device
		if dev == "" {
			dev = "disk"
		}
		if dev != device || d.Source == nil || d.Source.File == nil || d.Source.File.File == "" {
			continue
		}
		out = append(out, d.Source.File.File)
	}
	return out
}

// HasNVRAM reports whether the domain uses UEFI variable storage, which
// undefine must be told to remove.
func HasNVRAM(dom *libvirtxml.Domain) bool {
	return dom.OS != nil && dom.OS.NVRam != nil
}

// CloneSpec describes how a source definition is rewritten for a clone.
type CloneSpec struct {
	Name       validate.Name
	DiskPath   validate.Path
	DiskFormat string

	// +optional
	QMPSocket validate.Path

	Metadata *metadata.Info
}

// RewriteForClone turns the source domain's XML into a definition for a
// clone. The clone gets a fresh UUID and libvirt-assigned MAC addresses,
// its primary disk is repointed, the cloud-init seed is dropped and the QMP
// socket is retargeted.
func RewriteForClone(doc string, spec *CloneSpec) (string, error) {
	if spec == nil || spec.Name.IsZero() || spec.DiskPath.IsZero() {
		return "", fmt.Errorf("clone spec requires a validated name and disk")
	}
	dom, err := ParseDomainXML(doc)
	if err != nil {
		return "", err
	}

	dom.Name = spec.Name.String()
	dom.UUID = uuid.NewString()
	dom.ID = nil

	if dom.OS != nil && dom.OS.NVRam != nil {
		// libvirt creates a fresh variable store at its default path.
		dom.OS.NVRam.NVRam = ""
	}

	if dom.Devices == nil {
		return "", fmt.Errorf("source domain has no devices")
	}

	repointed := false
	disks := dom.Devices.Disks[:0]
	for _, d := range dom.Devices.Disks {
		dev := d.Device
		if dev == "" {
			dev = "disk"
		}
		if dev == "cdrom" && d.Source != nil && d.Source.File != nil &&
			strings.HasSuffix(d.Source.File.File, naming.SeedSuffix) {
			continue
		}
		if dev == "disk" && !repointed && d.Source != nil && d.Source.File != nil {
			d.Source.File.File = spec.DiskPath.String()
			if d.Driver == nil {
				d.Driver = &libvirtxml.DomainDiskDriver{Name: "qemu"}
			}
			if spec.DiskFormat != "" {
				d.Driver.Type = spec.DiskFormat
			}
			repointed = true
		}
		disks = append(disks, d)
	}
	if !repointed {
		return "", fmt.Errorf("source domain has no file-backed disk")
	}
	dom.Devices.Disks = disks

	for i := range dom.Devices.Interfaces {
		dom.Devices.Interfaces[i].MAC = nil
		if dom.Devices.Interfaces[i].Target != nil {
			dom.Devices.Interfaces[i].Target = nil
		}
	}

	if !spec.QMPSocket.IsZero() {
		setQMPSocket(dom, spec.QMPSocket.String())
	} else if dom.QEMUCommandline != nil {
		dom.QEMUCommandline = dropQMP(dom.QEMUCommandline)
	}

	if spec.Metadata != nil {
		if err := metadata.Embed(dom, *spec.Metadata); err != nil {
			return "", err
		}
	}

	xml, err := dom.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func dropQMP(cl *libvirtxml.DomainQEMUCommandline) *libvirtxml.DomainQEMUCommandline {
	var kept []libvirtxml.DomainQEMUCommandlineArg
	for i := 0; i < len(cl.Args); i++ {
		if cl.Args[i].Value == qmpFlag && i+1 < len(cl.Args) {
			i++
			continue
		}
		kept = append(kept, cl.Args[i])
	}
	if len(kept) == 0 && len(cl.Envs) == 0 {
		return nil
	}
	cl.Args = kept
	return cl
}

func uintPtr(v uint) *uint {
	return &v
}
