package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

type mockLocator struct {
	mu     sync.Mutex
	result domain.LocateResult
	calls  int
}

func (m *mockLocator) set(status domain.LocateStatus, hwnd int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = domain.LocateResult{Status: status}
	if status >= domain.LocateNotForeground {
		m.result.Handle = domain.WindowHandle{HWND: hwnd, Title: "Genshin Impact", PID: 4242}
	}
}

func (m *mockLocator) Locate(name string) (domain.WindowHandle, bool) {
	r := m.Inspect(name)
	return r.Handle, r.Status == domain.LocateUsable
}

func (m *mockLocator) Inspect(string) domain.LocateResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result
}

type mockChannel struct {
	initErr  error
	startErr error

	// spawnOnFail makes a failing Start look like a worker that was
	// launched but never connected.
	spawnOnFail bool

	mu       sync.Mutex
	params   domain.CaptureParams
	sent     []any
	exitCode int

	messages  chan domain.Inbound
	exited    atomic.Bool
	started   atomic.Bool
	kills     atomic.Int32
	pid       atomic.Int64
	closeOnce sync.Once
}

func newMockChannel() *mockChannel {
	return &mockChannel{messages: make(chan domain.Inbound, 16)}
}

func (m *mockChannel) Init(params domain.CaptureParams) error {
	m.mu.Lock()
	m.params = params
	m.mu.Unlock()
	return m.initErr
}

func (m *mockChannel) Start(context.Context) error {
	if m.startErr != nil {
		if m.spawnOnFail {
			m.pid.Store(9001)
		}
		m.finish(-1)
		return m.startErr
	}
	m.pid.Store(9001)
	m.started.Store(true)
	return nil
}

func (m *mockChannel) Send(_ context.Context, payload any) error {
	if m.exited.Load() {
		return errors.New("exited")
	}
	m.mu.Lock()
	m.sent = append(m.sent, payload)
	m.mu.Unlock()
	return nil
}

func (m *mockChannel) Messages() <-chan domain.Inbound { return m.messages }

func (m *mockChannel) Kill() {
	m.kills.Add(1)
	m.finish(-1)
}

// finish simulates process exit.
func (m *mockChannel) finish(code int) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.exitCode = code
		m.mu.Unlock()
		m.exited.Store(true)
		close(m.messages)
	})
}

func (m *mockChannel) HasExited() bool { return !m.started.Load() || m.exited.Load() }

func (m *mockChannel) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

func (m *mockChannel) PID() int { return int(m.pid.Load()) }

func (m *mockChannel) Handshake() domain.InitHandshake {
	return domain.InitHandshake{Port: 50123}
}

func (m *mockChannel) captureParams() domain.CaptureParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

func (m *mockChannel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// channelRecorder hands out mock channels and remembers them.
type channelRecorder struct {
	mu       sync.Mutex
	channels    []*mockChannel
	startErr    error
	spawnOnFail bool
}

func (r *channelRecorder) factory() domain.WorkerChannelFactory {
	return func() domain.WorkerChannel {
		ch := newMockChannel()
		r.mu.Lock()
		ch.startErr = r.startErr
		ch.spawnOnFail = r.spawnOnFail
		r.channels = append(r.channels, ch)
		r.mu.Unlock()
		return ch
	}
}

func (r *channelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *channelRecorder) last() *mockChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 {
		return nil
	}
	return r.channels[len(r.channels)-1]
}

type endCall struct {
	id       int64
	exitCode int
	reason   string
}

type mockSessionStore struct {
	mu     sync.Mutex
	begun  []domain.WorkerSession
	ended  []endCall
	nextID int64
}

func (m *mockSessionStore) Begin(s domain.WorkerSession) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.begun = append(m.begun, s)
	return s.ID, nil
}

func (m *mockSessionStore) End(id int64, exitCode int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, endCall{id: id, exitCode: exitCode, reason: reason})
	return nil
}

func (m *mockSessionStore) Recent(int) ([]domain.WorkerSession, error) { return nil, nil }

func (m *mockSessionStore) Close() error { return nil }

func (m *mockSessionStore) endCalls() []endCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]endCall(nil), m.ended...)
}

// stateLog records transitions reported through Config.OnStateChange.
type stateLog struct {
	mu          sync.Mutex
	transitions [][2]domain.WatcherState
}

func (l *stateLog) record(from, to domain.WatcherState) {
	l.mu.Lock()
	l.transitions = append(l.transitions, [2]domain.WatcherState{from, to})
	l.mu.Unlock()
}

func (l *stateLog) contains(from, to domain.WatcherState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.transitions {
		if t[0] == from && t[1] == to {
			return true
		}
	}
	return false
}
