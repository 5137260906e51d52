// Package libvirt holds everything vmtools knows about libvirt's own data
// formats, as opposed to the virsh text it parses elsewhere.
//
// Domain XML:
//
// GenerateDomainXML renders a DomainSpec with libvirt.org/go/libvirtxml.
// Specs carry only validated names and paths, so no user string reaches the
// document unchecked. Every generated domain gets a second QMP monitor on a
// unix socket through <qemu:commandline>:
//
//	-qmp unix:/run/vmtools/web.qmp,server=on,wait=off
//
// libvirt keeps its own monitor. The extra socket is what internal/qmp
// talks to for status and monitor.
//
// ParseDomainXML, DiskSources and HasNVRAM read dumpxml output for clone and
// delete. RewriteForClone turns a stopped source definition into the
// clone's.
//
// Daemon connection:
//
// Connect and Probe open a direct RPC connection with
// github.com/digitalocean/go-libvirt. It is used by host checks only:
//
//	info, err := libvirt.Probe(ctx, "", 0)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(info.LibVersion)
package libvirt
