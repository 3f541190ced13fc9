//go:build windows

package worker

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// minBorderlessBuild is the first Windows build exposing
// GraphicsCaptureSession.IsBorderRequired.
const minBorderlessBuild = 20348

var (
	jobOnce   sync.Once
	jobHandle windows.Handle
	jobErr    error
)

// childJob returns the process-wide job object. It is never closed, so the
// OS terminates every assigned worker when this process exits.
func childJob() (windows.Handle, error) {
	jobOnce.Do(func() {
		h, err := windows.CreateJobObject(nil, nil)
		if err != nil {
			jobErr = fmt.Errorf("failed to create job object: %w", err)
			return
		}
		info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
			BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
				LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
			},
		}
		if _, err := windows.SetInformationJobObject(
			h,
			windows.JobObjectExtendedLimitInformation,
			uintptr(unsafe.Pointer(&info)),
			uint32(unsafe.Sizeof(info)),
		); err != nil {
			windows.CloseHandle(h)
			jobErr = fmt.Errorf("failed to configure job object: %w", err)
			return
		}
		jobHandle = h
	})
	return jobHandle, jobErr
}

func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// trackProcess assigns the worker to the kill-on-close job object.
func trackProcess(p *os.Process) error {
	job, err := childJob()
	if err != nil {
		return err
	}
	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(p.Pid))
	if err != nil {
		return fmt.Errorf("failed to open worker process: %w", err)
	}
	defer windows.CloseHandle(h)
	if err := windows.AssignProcessToJobObject(job, h); err != nil {
		return fmt.Errorf("failed to assign worker to job: %w", err)
	}
	return nil
}

func killProcessTree(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

// killProcessGroup is a no-op: Windows has no process group to signal, and
// leftover children stay in the job object until this process exits.
func killProcessGroup(int) error {
	return nil
}

func canHideBorder() bool {
	return windows.RtlGetVersion().BuildNumber >= minBorderlessBuild
}
