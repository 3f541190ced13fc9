package infra

import (
	"sync"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// mockProcessManager is a test double for domain.ProcessManager.
type mockProcessManager struct {
	mu        sync.Mutex
	processes []domain.ProcessInfo
	findErr   error
}

func newMockProcessManager(procs ...domain.ProcessInfo) *mockProcessManager {
	return &mockProcessManager{processes: procs}
}

func (m *mockProcessManager) FindByName(name string) ([]domain.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var found []domain.ProcessInfo
	want := NormalizeProcessName(name)
	for _, p := range m.processes {
		if NormalizeProcessName(p.Name) == want {
			found = append(found, p)
		}
	}
	return found, nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.processes {
		if p.PID == pid {
			return true
		}
	}
	return false
}

// mockWindowSystem is a test double for domain.WindowSystem.
type mockWindowSystem struct {
	windows    map[int][]domain.WindowHandle
	foreground int64
	err        error
}

func newMockWindowSystem() *mockWindowSystem {
	return &mockWindowSystem{windows: make(map[int][]domain.WindowHandle)}
}

func (m *mockWindowSystem) WindowsByPID(pid int) ([]domain.WindowHandle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.windows[pid], nil
}

func (m *mockWindowSystem) Foreground() int64 {
	return m.foreground
}

var (
	_ domain.ProcessManager = (*mockProcessManager)(nil)
	_ domain.WindowSystem   = (*mockWindowSystem)(nil)
)
