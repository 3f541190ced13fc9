// Package supervisor keeps one capture worker alive for as long as the
// target window is usable.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
	"github.com/LumiOwO/LumiTracker-sub000/internal/syncbox"
)

// Session end reasons.
const (
	ReasonExited    = "exited"
	ReasonCancelled = "cancelled"

	// ReasonConnectFailed marks a worker that was spawned but never connected.
	ReasonConnectFailed = "connect_failed"
)

// Supervisor polls for the target window and runs at most one worker for it.
//
// States: Searching -> FoundNotForeground -> Active -> Exited -> Searching.
// Stop is cooperative: the flag is read once per poll interval, and a
// running worker is force-killed rather than asked to quit.
type Supervisor struct {
	target domain.Target
	deps   Deps
	cfg    Config
	bus    *hook.EventBus
	logger *zap.Logger

	state    atomic.Int32
	stopping atomic.Bool
	running  atomic.Bool
	current  *syncbox.Box[domain.WorkerChannel]
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a supervisor for target. It does nothing until Start or Run.
func New(target domain.Target, deps Deps, cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Supervisor{
		target:  target,
		deps:    deps,
		cfg:     cfg,
		bus:     hook.New(logger),
		logger:  logger.Named("supervisor").With(zap.String("process", target.ProcessName)),
		current: syncbox.New[domain.WorkerChannel](nil),
		done:    make(chan struct{}),
	}
}

// Bus carries this supervisor's notifications and decoded worker events.
func (s *Supervisor) Bus() *hook.EventBus {
	return s.bus
}

// Target returns what this supervisor watches.
func (s *Supervisor) Target() domain.Target {
	return s.target
}

// State returns the current state.
func (s *Supervisor) State() domain.WatcherState {
	return domain.WatcherState(s.state.Load())
}

// Done is closed when the loop has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Start runs the loop in a new goroutine. Later calls do nothing.
func (s *Supervisor) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go s.loop(ctx)
}

// Stop requests termination. It returns immediately.
func (s *Supervisor) Stop() {
	s.stopping.Store(true)
}

// Close stops the loop and waits for it, including any worker teardown.
func (s *Supervisor) Close(ctx context.Context) error {
	s.Stop()
	if !s.running.Load() {
		// Never started: nothing to wait for, and Run will exit immediately.
		s.doneOnce.Do(func() { close(s.done) })
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send forwards payload to the live worker. Without one it does nothing.
func (s *Supervisor) Send(ctx context.Context, payload any) error {
	ch := s.current.Get()
	if ch == nil {
		return nil
	}
	return ch.Send(ctx, payload)
}

// Run blocks until Stop is called or ctx is done (both polled).
func (s *Supervisor) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.loop(ctx)
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.doneOnce.Do(func() { close(s.done) })
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("supervisor loop crashed",
				zap.Any("panic", r),
				zap.Stack("stack"))
			if ch := s.current.Swap(nil); ch != nil {
				ch.Kill()
			}
			s.setState(domain.StateExited)
		}
	}()

	s.logger.Info("supervisor started", zap.Duration("interval", s.cfg.PollInterval))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.cancelled(ctx) {
			s.setState(domain.StateExited)
			s.logger.Info("supervisor stopped")
			return
		}
		if s.poll(ctx) {
			s.logger.Info("supervisor stopped")
			return
		}
		<-ticker.C
	}
}

func (s *Supervisor) cancelled(ctx context.Context) bool {
	return s.stopping.Load() || ctx.Err() != nil
}

// poll runs one iteration and reports whether the loop must end.
func (s *Supervisor) poll(ctx context.Context) bool {
	var result domain.LocateResult
	if s.deps.Locator != nil {
		result = s.deps.Locator.Inspect(s.target.ProcessName)
	}

	switch result.Status {
	case domain.LocateNotForeground:
		if s.setState(domain.StateFoundNotForeground) != domain.StateFoundNotForeground {
			s.bus.EmitWindowFound()
		}
		return false

	case domain.LocateUsable:
		cancelled := s.runWorker(ctx, result.Handle)
		if !cancelled {
			s.setState(domain.StateSearching)
		}
		return cancelled

	default:
		s.setState(domain.StateSearching)
		return false
	}
}

// runWorker launches a worker for win and supervises it until it exits or
// the supervisor is cancelled. Returns true on cancellation.
func (s *Supervisor) runWorker(ctx context.Context, win domain.WindowHandle) bool {
	s.setState(domain.StateActive)

	capture := s.captureType()
	params := domain.CaptureParams{
		Window:       win,
		ClientType:   s.target.ClientType,
		CaptureType:  capture,
		LogDir:       s.cfg.LogDir,
		TestOnResize: s.cfg.TestOnResize,
	}

	ch := s.deps.NewChannel()
	if err := ch.Init(params); err != nil {
		s.logger.Error("failed to prepare worker", zap.Error(err))
		return false
	}
	if err := ch.Start(ctx); err != nil {
		s.logger.Error("failed to start worker", zap.Int64("hwnd", win.HWND), zap.Error(err))
		if ch.PID() != 0 {
			id := s.beginSession(ch, win, capture)
			s.endSession(id, ch.ExitCode(), ReasonConnectFailed)
		}
		return false
	}

	s.current.Set(ch)
	s.bus.EmitWorkerStarted(win.HWND)
	sessionID := s.beginSession(ch, win, capture)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for in := range ch.Messages() {
			s.bus.HandleInbound(in)
		}
	}()

	watchDone := make(chan bool, 1)
	go func() {
		watchDone <- s.watchWorker(ctx, ch)
	}()

	cancelled := <-watchDone
	<-pumpDone
	s.current.Set(nil)

	reason := ReasonExited
	if cancelled {
		reason = ReasonCancelled
	}
	s.endSession(sessionID, ch.ExitCode(), reason)

	s.setState(domain.StateExited)
	s.bus.EmitWorkerExited()
	return cancelled
}

// watchWorker polls the stop flag and worker liveness. Returns true if it
// killed the worker because of a stop request.
func (s *Supervisor) watchWorker(ctx context.Context, ch domain.WorkerChannel) bool {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.cancelled(ctx) {
			s.logger.Info("stop requested, killing worker", zap.Int("pid", ch.PID()))
			ch.Kill()
			return true
		}
		if ch.HasExited() {
			s.logger.Info("worker exited",
				zap.Int("pid", ch.PID()),
				zap.Int("exit_code", ch.ExitCode()))
			return false
		}
		<-ticker.C
	}
}

func (s *Supervisor) captureType() domain.CaptureType {
	if s.deps.Profiles == nil {
		return s.target.CaptureType
	}
	p, err := s.deps.Profiles.Get(s.target.ClientType)
	if err != nil {
		s.logger.Warn("unknown client type, using requested capture", zap.Error(err))
		return s.target.CaptureType
	}
	return p.ResolveCaptureType(s.target.CaptureType)
}

func (s *Supervisor) beginSession(ch domain.WorkerChannel, win domain.WindowHandle, capture domain.CaptureType) int64 {
	if s.deps.Sessions == nil {
		return 0
	}
	id, err := s.deps.Sessions.Begin(domain.WorkerSession{
		PID:         ch.PID(),
		HWND:        win.HWND,
		ProcessName: s.target.ProcessName,
		ClientType:  s.target.ClientType,
		CaptureType: capture,
		Port:        ch.Handshake().Port,
		StartedAt:   time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to record worker session", zap.Error(err))
		return 0
	}
	return id
}

func (s *Supervisor) endSession(id int64, exitCode int, reason string) {
	if s.deps.Sessions == nil || id == 0 {
		return
	}
	if err := s.deps.Sessions.End(id, exitCode, reason); err != nil {
		s.logger.Warn("failed to close worker session", zap.Int64("session", id), zap.Error(err))
	}
}

// setState stores to and returns the previous state.
func (s *Supervisor) setState(to domain.WatcherState) domain.WatcherState {
	from := domain.WatcherState(s.state.Swap(int32(to)))
	if from != to {
		s.logger.Debug("state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if s.cfg.OnStateChange != nil {
			s.cfg.OnStateChange(from, to)
		}
	}
	return from
}
