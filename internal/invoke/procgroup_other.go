//go:build !unix

package invoke

import "os/exec"

func ownProcessGroup(cmd *exec.Cmd) {}
