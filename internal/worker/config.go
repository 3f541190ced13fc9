// Package worker runs the capture worker process and owns both transport
// legs to it: a loopback TCP socket for commands and the worker's stderr
// for events.
package worker

import (
	"path/filepath"
	"time"
)

// Config controls how the worker process is launched and reached.
type Config struct {
	// Executable is the worker binary. Relative paths resolve against Dir.
	Executable string
	// Args precede the handshake path on the command line.
	Args []string
	// Dir is the working directory of the worker (the application directory).
	Dir string
	// Env is appended to the parent's environment.
	Env []string
	// HandshakePath is where Init writes the startup record.
	HandshakePath string

	// ConnectAttempts bounds how often Start dials the worker socket.
	// 1 means a single attempt.
	ConnectAttempts   int
	ConnectRetryDelay time.Duration
	ConnectTimeout    time.Duration

	// StderrGrace is how long stderr may stay open after the worker exits
	// before Messages is closed regardless.
	StderrGrace time.Duration

	// SendTimeout bounds one socket write when the caller's context has no deadline.
	SendTimeout time.Duration

	// TestOnResize asks the worker to dump a capture whenever the window resizes.
	TestOnResize bool
}

// DefaultConfig returns settings for the bundled Python worker under appDir.
func DefaultConfig(appDir, handshakePath string) Config {
	return Config{
		Executable:        filepath.Join(appDir, "python", "python.exe"),
		Args:              []string{"-E", "-m", "watcher.window_watcher"},
		Dir:               appDir,
		HandshakePath:     handshakePath,
		ConnectAttempts:   10,
		ConnectRetryDelay: 200 * time.Millisecond,
		ConnectTimeout:    time.Second,
		SendTimeout:       5 * time.Second,
		StderrGrace:       2 * time.Second,
	}
}

func (c Config) executablePath() string {
	if c.Executable == "" || filepath.IsAbs(c.Executable) || c.Dir == "" {
		return c.Executable
	}
	if filepath.Base(c.Executable) == c.Executable {
		// Bare command names are looked up on PATH.
		return c.Executable
	}
	return filepath.Join(c.Dir, c.Executable)
}

func (c Config) attempts() int {
	if c.ConnectAttempts < 1 {
		return 1
	}
	return c.ConnectAttempts
}

func (c Config) stderrGrace() time.Duration {
	if c.StderrGrace <= 0 {
		return 2 * time.Second
	}
	return c.StderrGrace
}
