package supervisor

import (
	"time"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/profile"
)

// Config holds supervisor tuning.
type Config struct {
	// PollInterval paces window lookups and worker liveness checks. It is
	// also the upper bound on how long Stop takes to be noticed.
	PollInterval time.Duration
	// LogDir is handed to the worker through the handshake.
	LogDir string
	// TestOnResize asks the worker to dump a capture on every resize.
	TestOnResize bool
	// OnStateChange, if set, observes every state transition.
	OnStateChange func(from, to domain.WatcherState)
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
	}
}

// Deps are the collaborators a supervisor drives.
type Deps struct {
	Locator    domain.WindowLocator
	NewChannel domain.WorkerChannelFactory
	// Sessions may be nil; lifetimes are then only logged.
	Sessions domain.SessionStore
	// Profiles may be nil; the target's capture type is then used as is.
	Profiles *profile.Registry
}
