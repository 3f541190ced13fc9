// Package watcher is the facade the rest of the application talks to. It
// owns the current supervisor, restarts one whenever none is running, and
// republishes its events on a stable bus.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
	"github.com/LumiOwO/LumiTracker-sub000/internal/relay"
	"github.com/LumiOwO/LumiTracker-sub000/internal/supervisor"
	"github.com/LumiOwO/LumiTracker-sub000/internal/syncbox"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("watcher already started")

// Supervisor is what the facade needs from a supervisor.
type Supervisor interface {
	Bus() *hook.EventBus
	State() domain.WatcherState
	Target() domain.Target
	Start(ctx context.Context)
	Send(ctx context.Context, payload any) error
	Close(ctx context.Context) error
	Done() <-chan struct{}
}

// SupervisorFactory builds a supervisor for target.
type SupervisorFactory func(target domain.Target) Supervisor

// NewSupervisorFactory returns a factory producing real supervisors.
func NewSupervisorFactory(deps supervisor.Deps, cfg supervisor.Config, logger *zap.Logger) SupervisorFactory {
	return func(target domain.Target) Supervisor {
		return supervisor.New(target, deps, cfg, logger)
	}
}

// Config holds facade settings.
type Config struct {
	// EnsureInterval paces the check for a missing supervisor.
	EnsureInterval time.Duration
	Relay          relay.ClientConfig
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		EnsureInterval: time.Second,
		Relay:          relay.DefaultClientConfig(),
	}
}

type relayLink struct {
	client *relay.Client
	sub    *hook.Subscription
}

func (l *relayLink) close() {
	l.sub.Unsubscribe()
	_ = l.client.Close()
}

// GameWatcher keeps a supervisor running for the desired target.
type GameWatcher struct {
	*hook.EventBus

	newSupervisor SupervisorFactory
	identity      domain.IdentityProvider
	cfg           Config
	logger        *zap.Logger

	current  *syncbox.Box[Supervisor]
	stopping *syncbox.Box[chan struct{}]
	target   *syncbox.Box[domain.Target]
	link     *syncbox.Box[*relayLink]

	stopFlag atomic.Bool
	started  atomic.Bool
	loopDone chan struct{}
	loopOnce sync.Once
}

// New creates a watcher. identity may be nil, in which case relay
// connections use a fresh id each time.
func New(newSupervisor SupervisorFactory, identity domain.IdentityProvider, cfg Config, logger *zap.Logger) *GameWatcher {
	if cfg.EnsureInterval <= 0 {
		cfg.EnsureInterval = DefaultConfig().EnsureInterval
	}
	return &GameWatcher{
		EventBus:      hook.New(logger),
		newSupervisor: newSupervisor,
		identity:      identity,
		cfg:           cfg,
		logger:        logger.Named("watcher"),
		current:       syncbox.New[Supervisor](nil),
		stopping:      syncbox.New[chan struct{}](nil),
		target:        syncbox.New(domain.Target{}),
		link:          syncbox.New[*relayLink](nil),
		loopDone:      make(chan struct{}),
	}
}

// Start records target and launches the loop that keeps a supervisor alive.
func (w *GameWatcher) Start(ctx context.Context, target domain.Target) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.target.Set(target)
	w.logger.Info("watcher started",
		zap.String("process", target.ProcessName),
		zap.String("client_type", string(target.ClientType)),
		zap.String("capture_type", string(target.CaptureType)))
	go w.ensureLoop(ctx)
	return nil
}

// Target returns the desired target.
func (w *GameWatcher) Target() domain.Target {
	return w.target.Get()
}

// State returns the current supervisor's state, Searching when there is none.
func (w *GameWatcher) State() domain.WatcherState {
	if sup := w.current.Get(); sup != nil {
		return sup.State()
	}
	return domain.StateSearching
}

// ChangeTarget switches to target. The current supervisor is torn down in
// the background and the loop starts a new one for the new target. While a
// teardown is already in flight no second one is created; the call then
// only updates the target. Reports whether a teardown was created.
func (w *GameWatcher) ChangeTarget(target domain.Target) bool {
	w.target.Set(target)
	created := w.requestStop()
	w.logger.Info("target changed",
		zap.String("process", target.ProcessName),
		zap.String("client_type", string(target.ClientType)),
		zap.Bool("teardown", created))
	return created
}

// Send forwards payload to the live worker, if any.
func (w *GameWatcher) Send(ctx context.Context, payload any) error {
	sup := w.current.Get()
	if sup == nil {
		return nil
	}
	return sup.Send(ctx, payload)
}

// ConnectRelay connects to a spectator server and forwards every duel
// event to it. A previous relay connection is closed.
func (w *GameWatcher) ConnectRelay(ctx context.Context, addr string) error {
	id, err := w.clientID()
	if err != nil {
		return err
	}
	client, err := relay.Dial(ctx, addr, id, w.cfg.Relay, w.logger)
	if err != nil {
		return err
	}

	link := &relayLink{client: client}
	link.sub = w.OnGameEventMessage(func(msg hook.Message) {
		sendCtx, cancel := context.WithTimeout(context.Background(), w.cfg.Relay.WriteTimeout)
		defer cancel()
		if err := client.Send(sendCtx, msg); err != nil {
			w.logger.Warn("failed to relay message", zap.Stringer("kind", msg.Kind), zap.Error(err))
		}
	})
	client.OnDisconnected(func() {
		link.sub.Unsubscribe()
		w.link.SetIf(func(cur *relayLink) bool { return cur == link }, nil)
		w.logger.Info("relay disconnected", zap.String("addr", addr))
	})

	if old := w.link.Swap(link); old != nil {
		old.close()
	}
	return nil
}

// RelayConnected reports whether a relay connection is live.
func (w *GameWatcher) RelayConnected() bool {
	l := w.link.Get()
	return l != nil && l.client.Connected()
}

// DisconnectRelay closes the relay connection, if any.
func (w *GameWatcher) DisconnectRelay() {
	if l := w.link.Swap(nil); l != nil {
		l.close()
	}
}

// Close tears down the current supervisor, stops the loop and closes the
// relay connection. It waits for all of them unless ctx ends first.
func (w *GameWatcher) Close(ctx context.Context) error {
	w.stopFlag.Store(true)

	if err := w.teardown(ctx); err != nil {
		return err
	}
	if w.started.Load() {
		select {
		case <-w.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// The loop may have created one last supervisor while we were stopping.
	if err := w.teardown(ctx); err != nil {
		return err
	}

	w.DisconnectRelay()
	w.logger.Info("watcher closed")
	return nil
}

func (w *GameWatcher) clientID() (string, error) {
	if w.identity == nil {
		return uuid.NewString(), nil
	}
	id, created, err := w.identity.ClientID()
	if err != nil {
		return "", fmt.Errorf("failed to get client id: %w", err)
	}
	if created {
		w.logger.Info("created client id", zap.String("client_id", id))
	}
	return id, nil
}

func (w *GameWatcher) ensureLoop(ctx context.Context) {
	defer w.loopOnce.Do(func() { close(w.loopDone) })

	ticker := time.NewTicker(w.cfg.EnsureInterval)
	defer ticker.Stop()

	for {
		if w.stopFlag.Load() || ctx.Err() != nil {
			return
		}
		w.ensure(ctx)
		<-ticker.C
	}
}

// ensure starts a supervisor when none is current and no teardown is pending.
func (w *GameWatcher) ensure(ctx context.Context) {
	if w.stopping.Get() != nil {
		return
	}
	if sup := w.current.Get(); sup != nil {
		select {
		case <-sup.Done():
			w.logger.Warn("supervisor ended on its own, replacing it")
			w.requestStop()
		default:
		}
		return
	}

	target := w.target.Get()
	sup := w.newSupervisor(target)
	w.HookTo(sup.Bus())
	w.current.Set(sup)
	sup.Start(ctx)
	w.logger.Info("supervisor created", zap.String("process", target.ProcessName))

	// A ChangeTarget that raced with creation found nothing to stop.
	if w.target.Get() != target {
		w.requestStop()
	}
}

// requestStop starts a background teardown of the current supervisor
// unless one is already running. Reports whether it started one.
func (w *GameWatcher) requestStop() bool {
	done := make(chan struct{})
	if !w.stopping.SetIf(func(cur chan struct{}) bool { return cur == nil }, done) {
		return false
	}

	go func() {
		defer func() {
			w.stopping.Set(nil)
			close(done)
		}()
		sup := w.current.Get()
		if sup == nil {
			return
		}
		if err := sup.Close(context.Background()); err != nil {
			w.logger.Warn("failed to stop supervisor", zap.Error(err))
		}
		w.UnhookFrom(sup.Bus())
		w.current.Set(nil)
		w.logger.Info("supervisor stopped", zap.String("process", sup.Target().ProcessName))
	}()
	return true
}

// teardown stops the current supervisor and waits for it.
func (w *GameWatcher) teardown(ctx context.Context) error {
	w.requestStop()
	done := w.stopping.Get()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Supervisor = (*supervisor.Supervisor)(nil)
