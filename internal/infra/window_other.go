//go:build !windows

package infra

import (
	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// ProcessWindowSystem stands in for a window manager on hosts without one
// the locator understands. Every running process owns exactly one visible
// window whose handle is its PID, and that window is always foreground.
type ProcessWindowSystem struct {
	processManager domain.ProcessManager
}

// NewWindowSystem returns the window system for this platform.
func NewWindowSystem() domain.WindowSystem {
	return &ProcessWindowSystem{processManager: NewProcessManager()}
}

// WindowsByPID returns the pseudo-window of pid, or nothing if it is gone.
func (ws *ProcessWindowSystem) WindowsByPID(pid int) ([]domain.WindowHandle, error) {
	if !ws.processManager.IsRunning(pid) {
		return nil, nil
	}
	return []domain.WindowHandle{{HWND: int64(pid), PID: pid}}, nil
}

// Foreground reports the sentinel that matches any pseudo-window.
func (ws *ProcessWindowSystem) Foreground() int64 {
	return AnyForeground
}

var _ domain.WindowSystem = (*ProcessWindowSystem)(nil)
