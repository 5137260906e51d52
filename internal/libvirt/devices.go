package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// Channel names the guest sees under /dev/virtio-ports.
const (
	SpiceAgentChannel = "com.redhat.spice.0"
	GuestAgentChannel = "org.qemu.guest_agent.0"
)

// NIC is the part of a domain interface that network repair looks at.
type NIC struct {
	Index   int
	MAC     string
	Network string
	Bridge  string
}

// Interfaces lists the domain's network interfaces in definition order.
func Interfaces(dom *libvirtxml.Domain) []NIC {
	if dom.Devices == nil {
		return nil
	}
	nics := make([]NIC, 0, len(dom.Devices.Interfaces))
	for i, iface := range dom.Devices.Interfaces {
		nic := NIC{Index: i}
		if iface.MAC != nil {
			nic.MAC = iface.MAC.Address
		}
		if src := iface.Source; src != nil {
			switch {
			case src.Network != nil:
				nic.Network = src.Network.Network
			case src.Bridge != nil:
				nic.Bridge = src.Bridge.Bridge
			}
		}
		nics = append(nics, nic)
	}
	return nics
}

func iface(dom *libvirtxml.Domain, index int) (*libvirtxml.DomainInterface, error) {
	if dom.Devices == nil || index < 0 || index >= len(dom.Devices.Interfaces) {
		return nil, fmt.Errorf("domain has no interface %d", index)
	}
	return &dom.Devices.Interfaces[index], nil
}

// SetInterfaceMAC replaces the address of interface index.
func SetInterfaceMAC(dom *libvirtxml.Domain, index int, mac string) error {
	i, err := iface(dom, index)
	if err != nil {
		return err
	}
	i.MAC = &libvirtxml.DomainInterfaceMAC{Address: mac}
	return nil
}

// SetInterfaceNetwork attaches interface index to a libvirt network. Any
// target device name is dropped so libvirt picks a fresh one.
func SetInterfaceNetwork(dom *libvirtxml.Domain, index int, network string) error {
	i, err := iface(dom, index)
	if err != nil {
		return err
	}
	i.Source = &libvirtxml.DomainInterfaceSource{
		Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: network},
	}
	i.Target = nil
	return nil
}

// EnsureSpiceClipboard makes host/guest copy and paste possible: a SPICE
// display with clipboard sharing on and the vdagent channel. It returns a
// description of every change; nil means the domain was already set up.
func EnsureSpiceClipboard(dom *libvirtxml.Domain) []string {
	if dom.Devices == nil {
		dom.Devices = &libvirtxml.DomainDeviceList{}
	}
	var changes []string

	var spice *libvirtxml.DomainGraphicSpice
	for i := range dom.Devices.Graphics {
		if dom.Devices.Graphics[i].Spice != nil {
			spice = dom.Devices.Graphics[i].Spice
			break
		}
	}
	if spice == nil {
		dom.Devices.Graphics = append(dom.Devices.Graphics, libvirtxml.DomainGraphic{
			Spice: &libvirtxml.DomainGraphicSpice{AutoPort: "yes"},
		})
		spice = dom.Devices.Graphics[len(dom.Devices.Graphics)-1].Spice
		changes = append(changes, "added SPICE graphics")
	}
	if spice.ClipBoard == nil || spice.ClipBoard.CopyPaste != "yes" {
		spice.ClipBoard = &libvirtxml.DomainGraphicSpiceClipBoard{CopyPaste: "yes"}
		changes = append(changes, "enabled SPICE clipboard sharing")
	}

	if !HasChannel(dom, SpiceAgentChannel) {
		dom.Devices.Channels = append(dom.Devices.Channels, libvirtxml.DomainChannel{
			Source: &libvirtxml.DomainChardevSource{
				SpiceVMC: &libvirtxml.DomainChardevSourceSpiceVMC{},
			},
			Target: &libvirtxml.DomainChannelTarget{
				VirtIO: &libvirtxml.DomainChannelTargetVirtIO{Name: SpiceAgentChannel},
			},
		})
		changes = append(changes, "added spice-vdagent channel "+SpiceAgentChannel)
	}
	return changes
}

// EnsureGuestAgentChannel adds the qemu-guest-agent channel when it is
// missing. libvirt chooses the host socket path. It reports whether the
// domain changed.
func EnsureGuestAgentChannel(dom *libvirtxml.Domain) bool {
	if HasChannel(dom, GuestAgentChannel) {
		return false
	}
	if dom.Devices == nil {
		dom.Devices = &libvirtxml.DomainDeviceList{}
	}
	dom.Devices.Channels = append(dom.Devices.Channels, libvirtxml.DomainChannel{
		Source: &libvirtxml.DomainChardevSource{
			UNIX: &libvirtxml.DomainChardevSourceUNIX{Mode: "bind"},
		},
		Target: &libvirtxml.DomainChannelTarget{
			VirtIO: &libvirtxml.DomainChannelTargetVirtIO{Name: GuestAgentChannel},
		},
	})
	return true
}

// HasChannel reports whether the domain has a virtio channel called name.
func HasChannel(dom *libvirtxml.Domain, name string) bool {
	if dom.Devices == nil {
		return false
	}
	for _, ch := range dom.Devices.Channels {
		if ch.Target != nil && ch.Target.VirtIO != nil && ch.Target.VirtIO.Name == name {
			return true
		}
	}
	return false
}
