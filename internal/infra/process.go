// Package infra implements infrastructure concerns (processes, windows, files, storage).
package infra

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// NormalizeProcessName lowercases name and strips its extension, so that
// "YuanShen.exe" and "yuanshen" compare equal.
func NormalizeProcessName(name string) string {
	name = strings.TrimSpace(name)
	if ext := filepath.Ext(name); ext != "" && !strings.Contains(ext, " ") {
		name = strings.TrimSuffix(name, ext)
	}
	return strings.ToLower(name)
}

// FindByName returns processes whose normalized name equals the normalized
// pattern, ordered by PID.
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]domain.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	want := NormalizeProcessName(pattern)
	var found []domain.ProcessInfo

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if NormalizeProcessName(name) == want {
			found = append(found, domain.ProcessInfo{PID: int(p.Pid), Name: name})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].PID < found[j].PID })
	return found, nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	running, err := process.PidExists(int32(pid))
	if err != nil || !running {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	// Reaped-but-unwaited children linger as zombies on Unix.
	if status, err := p.Status(); err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return false
			}
		}
	}
	return true
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
