package watcher

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
)

type fakeSupervisor struct {
	bus    *hook.EventBus
	target domain.Target
	gate   chan struct{}

	starts atomic.Int32
	closes atomic.Int32

	mu   sync.Mutex
	sent []any

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeSupervisor(target domain.Target, gate chan struct{}) *fakeSupervisor {
	return &fakeSupervisor{
		bus:    hook.New(zap.NewNop()),
		target: target,
		gate:   gate,
		done:   make(chan struct{}),
	}
}

func (f *fakeSupervisor) Bus() *hook.EventBus { return f.bus }
func (f *fakeSupervisor) Target() domain.Target { return f.target }
func (f *fakeSupervisor) Start(context.Context) { f.starts.Add(1) }
func (f *fakeSupervisor) Done() <-chan struct{} { return f.done }
func (f *fakeSupervisor) State() domain.WatcherState {
	select {
	case <-f.done:
		return domain.StateExited
	default:
		return domain.StateActive
	}
}

func (f *fakeSupervisor) Send(_ context.Context, payload any) error {
	f.mu.Lock()
	f.sent = append(f.sent, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakeSupervisor) Close(context.Context) error {
	f.closes.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.crash()
	return nil
}

// crash ends the supervisor loop without a Close.
func (f *fakeSupervisor) crash() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeSupervisor) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// supervisorRecorder builds fake supervisors; the first one blocks in Close
// until firstGate is closed, when firstGate is set.
type supervisorRecorder struct {
	firstGate chan struct{}

	mu   sync.Mutex
	sups []*fakeSupervisor
}

func (r *supervisorRecorder) factory() SupervisorFactory {
	return func(target domain.Target) Supervisor {
		r.mu.Lock()
		defer r.mu.Unlock()
		var gate chan struct{}
		if len(r.sups) == 0 {
			gate = r.firstGate
		}
		sup := newFakeSupervisor(target, gate)
		r.sups = append(r.sups, sup)
		return sup
	}
}

func (r *supervisorRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sups)
}

func (r *supervisorRecorder) get(i int) *fakeSupervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.sups) {
		return nil
	}
	return r.sups[i]
}

type staticIdentity struct{ id string }

func (s staticIdentity) ClientID() (string, bool, error) { return s.id, false, nil }
