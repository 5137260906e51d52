// Package naming holds the file and device naming conventions for the
// resources vmtools creates next to a domain: disks, cloud-init seed ISOs,
// monitor sockets, pidfiles and temporary definition files.
//
// Every path is derived through validate.Child, so a name that reaches this
// package has already been checked and cannot escape its directory.
package naming

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/jbweber/vmtools/internal/validate"
)

const (
	// SeedSuffix marks a cloud-init NoCloud seed ISO.
	SeedSuffix = "-seed.iso"
	// SocketSuffix marks a QMP monitor socket.
	SocketSuffix = ".qmp"
	// PidSuffix is libvirt's pidfile suffix under its run directory.
	PidSuffix = ".pid"
)

// Disk returns the primary disk path for a VM.
// Format: {dir}/{name}.{format} (e.g., "/var/lib/libvirt/images/web.qcow2")
func Disk(dir validate.Path, name validate.Name, format string) (validate.Path, error) {
	return validate.Child(dir, name, "."+format)
}

// SeedISO returns the cloud-init seed ISO path for a VM.
// Format: {dir}/{name}-seed.iso
func SeedISO(dir validate.Path, name validate.Name) (validate.Path, error) {
	return validate.Child(dir, name, SeedSuffix)
}

// Socket returns the QMP socket path for a VM.
// Format: {dir}/{name}.qmp
func Socket(dir validate.Path, name validate.Name) (validate.Path, error) {
	return validate.Child(dir, name, SocketSuffix)
}

// PidFile returns the pidfile libvirt keeps for a running VM.
// Format: {runDir}/{name}.pid
func PidFile(runDir validate.Path, name validate.Name) (validate.Path, error) {
	return validate.Child(runDir, name, PidSuffix)
}

// TempPattern is the os.CreateTemp pattern for a domain definition. The pid
// keeps concurrent vmtools processes apart; CreateTemp adds a random suffix.
// Format: vmtools-{pid}-{name}-*.xml
func TempPattern(name validate.Name) string {
	return fmt.Sprintf("vmtools-%d-%s-*.xml", os.Getpid(), name)
}

// RandomMAC returns a random address in the 52:54:00 prefix QEMU uses for
// guest NICs.
func RandomMAC() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate MAC address: %w", err)
	}
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", b[0], b[1], b[2]), nil
}
