//go:build windows

package infra

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW     = user32.NewProc("GetWindowTextLengthW")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
)

// Win32WindowSystem enumerates top-level windows through user32.
type Win32WindowSystem struct {
	// EnumWindows callbacks are created once; the runtime caps their number.
	mu       sync.Mutex
	callback uintptr
	pending  *enumState
}

type enumState struct {
	pid     uint32
	handles []domain.WindowHandle
}

// NewWindowSystem returns the window system for this platform.
func NewWindowSystem() domain.WindowSystem {
	ws := &Win32WindowSystem{}
	ws.callback = windows.NewCallback(ws.enumProc)
	return ws
}

func (ws *Win32WindowSystem) enumProc(hwnd uintptr, _ uintptr) uintptr {
	state := ws.pending
	var pid uint32
	_, _, _ = procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid != state.pid {
		return 1
	}
	visible, _, _ := procIsWindowVisible.Call(hwnd)
	if visible == 0 {
		return 1
	}
	state.handles = append(state.handles, domain.WindowHandle{
		HWND:  int64(hwnd),
		Title: windowText(hwnd),
		PID:   int(pid),
	})
	return 1
}

// WindowsByPID returns visible top-level windows owned by pid in Z order.
func (ws *Win32WindowSystem) WindowsByPID(pid int) ([]domain.WindowHandle, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.pending = &enumState{pid: uint32(pid)}
	defer func() { ws.pending = nil }()

	r, _, err := procEnumWindows.Call(ws.callback, 0)
	if r == 0 && err != windows.ERROR_SUCCESS {
		return nil, fmt.Errorf("failed to enumerate windows: %w", err)
	}
	return ws.pending.handles, nil
}

// Foreground returns the current foreground window handle.
func (ws *Win32WindowSystem) Foreground() int64 {
	hwnd, _, _ := procGetForegroundWindow.Call()
	return int64(hwnd)
}

func windowText(hwnd uintptr) string {
	n, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	_, _, _ = procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

var _ domain.WindowSystem = (*Win32WindowSystem)(nil)
