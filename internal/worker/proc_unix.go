//go:build unix

package worker

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// killProcessTree kills the worker's whole process group, then the worker itself.
func killProcessTree(p *os.Process) error {
	if p == nil {
		return nil
	}
	if pgid, err := unix.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	return p.Kill()
}

// killProcessGroup kills what is left of the group led by pid once the
// worker itself is gone. The group id stays reserved while members remain,
// so it cannot name an unrelated process.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// trackProcess is a no-op; the process group set in configureCommand
// already ties the worker to us.
func trackProcess(*os.Process) error {
	return nil
}

// canHideBorder reports whether the capture API can drop its yellow border.
// Only Windows capture has one.
func canHideBorder() bool {
	return false
}
