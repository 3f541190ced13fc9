package domain

import "context"

// ProcessInfo is a running OS process as seen by the process manager.
type ProcessInfo struct {
	PID  int
	Name string
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns processes whose name matches, case-insensitively
	// and ignoring the file extension, ordered by PID.
	FindByName(name string) ([]ProcessInfo, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// WindowSystem exposes the OS window manager queries the locator needs.
type WindowSystem interface {
	// WindowsByPID returns the visible top-level windows owned by pid.
	WindowsByPID(pid int) ([]WindowHandle, error)

	// Foreground returns the handle of the current foreground window (0 if none).
	Foreground() int64
}

// WindowLocator finds the usable main window of a process.
type WindowLocator interface {
	// Locate returns the window only when it exists and is the foreground window.
	Locate(processName string) (WindowHandle, bool)

	// Inspect performs the same lookup and reports why it failed.
	Inspect(processName string) LocateResult
}

// WorkerChannel owns one worker process and its two transport legs.
type WorkerChannel interface {
	// Init reserves a port and writes the handshake file.
	Init(params CaptureParams) error

	// Start spawns the worker and connects to its socket.
	Start(ctx context.Context) error

	// Send writes payload as one compact JSON line to the worker socket.
	Send(ctx context.Context, payload any) error

	// Messages streams decoded stderr lines; closed at EOF.
	Messages() <-chan Inbound

	// Kill closes the socket and force-kills the process. Idempotent.
	Kill()

	// HasExited reports whether the worker process is gone (true before Start).
	HasExited() bool

	// ExitCode is the process exit code, valid once HasExited is true.
	ExitCode() int

	// PID of the worker process, 0 before Start.
	PID() int

	// Handshake returns the record written by Init.
	Handshake() InitHandshake
}

// WorkerChannelFactory creates a fresh channel for each worker instance.
type WorkerChannelFactory func() WorkerChannel

// SessionStore records worker process lifetimes.
// Implementation: SQLCipher encrypted database.
type SessionStore interface {
	// Begin records a started worker and returns the session id.
	Begin(session WorkerSession) (int64, error)

	// End marks a session finished.
	End(id int64, exitCode int, reason string) error

	// Recent returns the latest sessions, newest first.
	Recent(limit int) ([]WorkerSession, error)

	// Close releases resources.
	Close() error
}

// SessionKeyStore holds the key of the encrypted session database.
// Replacing the key makes the recorded history unreadable, so a key is
// created once and never overwritten.
type SessionKeyStore interface {
	// Load returns the stored key; the error wraps fs.ErrNotExist if there is none.
	Load() ([]byte, error)

	// Create generates and persists a key. Fails if one already exists.
	Create() ([]byte, error)
}

// IdentityProvider returns the persistent id this installation uses
// when it connects to a spectator server.
type IdentityProvider interface {
	// ClientID returns the stored id, creating one on first use.
	// created is true when a new id was generated.
	ClientID() (id string, created bool, err error)
}
