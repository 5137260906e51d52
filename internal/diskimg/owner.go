package diskimg

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
)

// qemuConfPath is where libvirt configures the QEMU process user.
var qemuConfPath = "/etc/libvirt/qemu.conf"

var (
	qemuOnce sync.Once
	qemuUID  int
	qemuGID  int
	qemuErr  error
)

// QEMUOwner returns the uid and gid QEMU runs as. It tries, in order:
//  1. the user and group configured in /etc/libvirt/qemu.conf
//  2. the common user names (qemu, libvirt-qemu)
//
// The result is cached after the first call.
func QEMUOwner() (uid, gid int, err error) {
	qemuOnce.Do(func() {
		qemuUID, qemuGID, qemuErr = lookupQEMUOwner(qemuConfPath)
	})
	return qemuUID, qemuGID, qemuErr
}

func lookupQEMUOwner(confPath string) (int, int, error) {
	username, groupname := configuredUser(confPath)

	candidates := []string{"qemu", "libvirt-qemu"}
	if username != "" {
		candidates = append([]string{username}, candidates...)
	}

	for _, name := range candidates {
		u, err := user.Lookup(name)
		if err != nil {
			continue
		}
		gidStr := u.Gid
		if name == username && groupname != "" {
			if g, err := user.LookupGroup(groupname); err == nil {
				gidStr = g.Gid
			}
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid uid %q for %s: %w", u.Uid, name, err)
		}
		gid, err := strconv.Atoi(gidStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid gid %q for %s: %w", gidStr, name, err)
		}
		return uid, gid, nil
	}
	return 0, 0, fmt.Errorf("could not determine QEMU user (tried %s)", strings.Join(candidates, ", "))
}

// configuredUser reads the user and group settings from a qemu.conf file.
// Returns empty strings if the file doesn't exist or the settings aren't set.
func configuredUser(path string) (username, groupname string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}
	return username, groupname
}

// HandToQEMU gives a file vmtools wrote to the QEMU user so the hypervisor
// can open it. It does nothing unless vmtools runs as root.
func HandToQEMU(path string) error {
	if os.Geteuid() != 0 {
		return nil
	}
	uid, gid, err := QEMUOwner()
	if err != nil {
		return err
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("failed to chown %s to QEMU user: %w", path, err)
	}
	return nil
}
