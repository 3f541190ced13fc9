// Package domain contains core entities and interfaces.
// This is the innermost layer - no dependencies on other internal packages.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClientType identifies which game client build is being watched.
type ClientType string

const (
	ClientYuanShen ClientType = "YuanShen"
	ClientGlobal   ClientType = "Global"
	ClientCloud    ClientType = "Cloud"
)

// CaptureType selects the frame capture backend used by the worker.
type CaptureType string

const (
	CaptureBitBlt         CaptureType = "BitBlt"
	CaptureWindowsCapture CaptureType = "WindowsCapture"
)

// WindowHandle is an OS window identifier plus its title.
// Only valid for the poll cycle that produced it.
type WindowHandle struct {
	HWND  int64
	Title string
	PID   int
}

// IsZero reports whether the handle refers to no window.
func (h WindowHandle) IsZero() bool {
	return h.HWND == 0
}

// LocateStatus is the reason a locate attempt produced (or did not produce) a window.
type LocateStatus int

const (
	LocateNoProcess LocateStatus = iota
	LocateNoWindow
	LocateNotForeground
	LocateUsable
)

func (s LocateStatus) String() string {
	switch s {
	case LocateNoProcess:
		return "no_process"
	case LocateNoWindow:
		return "no_window"
	case LocateNotForeground:
		return "not_foreground"
	case LocateUsable:
		return "usable"
	default:
		return "unknown"
	}
}

// LocateResult is the detailed outcome of a window lookup.
type LocateResult struct {
	Status LocateStatus
	Handle WindowHandle
}

// WatcherState is the supervisor's position in its polling state machine.
type WatcherState int32

const (
	StateSearching WatcherState = iota
	StateFoundNotForeground
	StateActive
	StateExited
)

func (s WatcherState) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateFoundNotForeground:
		return "found_not_foreground"
	case StateActive:
		return "active"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// MarshalText lets the state be rendered by name in JSON payloads.
func (s WatcherState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Target is what the facade should be watching.
type Target struct {
	ProcessName string      `json:"process_name" yaml:"process_name"`
	ClientType  ClientType  `json:"client_type" yaml:"client_type"`
	CaptureType CaptureType `json:"capture_type" yaml:"capture_type"`
}

// Flag is a boolean serialized as 0 or 1, the form the worker expects.
type Flag bool

// MarshalJSON encodes the flag as 0 or 1.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// UnmarshalJSON accepts 0/1 as well as JSON booleans.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "1", "true":
		*f = true
	case "0", "false", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %s", data)
	}
	return nil
}

// InitHandshake is the one-shot startup record written for the worker.
// The worker reads it once, then listens on Port.
type InitHandshake struct {
	HWND          int64  `json:"hwnd"`
	ClientType    string `json:"client_type"`
	CaptureType   string `json:"capture_type"`
	CanHideBorder Flag   `json:"can_hide_border"`
	Port          int    `json:"port"`
	LogDir        string `json:"log_dir"`
	TestOnResize  Flag   `json:"test_on_resize"`
}

// CaptureParams are the inputs a worker channel needs to build its handshake.
type CaptureParams struct {
	Window       WindowHandle
	ClientType   ClientType
	CaptureType  CaptureType
	LogDir       string
	TestOnResize bool
}

// Inbound is one line read from the worker's stderr stream.
// Exactly one of Payload or Err is set.
type Inbound struct {
	Line    string
	Payload map[string]any
	Err     error
}

// DecodeError reports a stderr line that was not valid JSON.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode worker line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WorkerSession is one worker process instance, from spawn to exit.
type WorkerSession struct {
	ID          int64
	PID         int
	HWND        int64
	ProcessName string
	ClientType  ClientType
	CaptureType CaptureType
	Port        int
	StartedAt   time.Time
	EndedAt     time.Time // zero while running
	ExitCode    int
	Reason      string // "exited", "cancelled" or "connect_failed" (spawned, never connected)
}

// compile-time check that Flag round-trips through encoding/json.
var _ json.Marshaler = Flag(false)
