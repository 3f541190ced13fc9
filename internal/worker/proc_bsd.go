//go:build unix && !linux

package worker

import (
	"os/exec"
	"syscall"
)

// configureCommand puts the worker in its own process group.
// There is no parent-death signal outside Linux.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
