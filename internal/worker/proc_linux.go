//go:build linux

package worker

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCommand puts the worker in its own process group and asks the
// kernel to kill it if we die first.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
}
