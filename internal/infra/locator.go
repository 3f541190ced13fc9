package infra

import (
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// AnyForeground is returned by window systems that have no focus concept;
// every window counts as foreground.
const AnyForeground int64 = -1

// WindowLocatorImpl finds the main window of a named process.
type WindowLocatorImpl struct {
	processManager domain.ProcessManager
	windows        domain.WindowSystem
	logger         *zap.Logger
}

// NewWindowLocator creates a locator over the given process and window sources.
func NewWindowLocator(pm domain.ProcessManager, ws domain.WindowSystem, logger *zap.Logger) *WindowLocatorImpl {
	return &WindowLocatorImpl{
		processManager: pm,
		windows:        ws,
		logger:         logger.Named("locator"),
	}
}

// Locate returns the process's main window only if it is usable (foreground).
func (l *WindowLocatorImpl) Locate(processName string) (domain.WindowHandle, bool) {
	result := l.Inspect(processName)
	if result.Status != domain.LocateUsable {
		return domain.WindowHandle{}, false
	}
	return result.Handle, true
}

// Inspect looks up the main window of processName and reports how far the
// lookup got. Handle is set for NotForeground and Usable.
func (l *WindowLocatorImpl) Inspect(processName string) domain.LocateResult {
	procs, err := l.processManager.FindByName(processName)
	if err != nil {
		l.logger.Warn("failed to enumerate processes",
			zap.String("process", processName),
			zap.Error(err))
		return domain.LocateResult{Status: domain.LocateNoProcess}
	}
	if len(procs) == 0 {
		l.logger.Info("no process found", zap.String("process", processName))
		return domain.LocateResult{Status: domain.LocateNoProcess}
	}
	if len(procs) > 1 {
		l.logger.Warn("multiple processes match, using the first one",
			zap.String("process", processName),
			zap.Int("count", len(procs)),
			zap.Int("pid", procs[0].PID))
	}
	pid := procs[0].PID

	handles, err := l.windows.WindowsByPID(pid)
	if err != nil {
		l.logger.Warn("failed to enumerate windows",
			zap.String("process", processName),
			zap.Int("pid", pid),
			zap.Error(err))
		return domain.LocateResult{Status: domain.LocateNoWindow}
	}
	if len(handles) == 0 {
		l.logger.Info("no windows found for process",
			zap.String("process", processName),
			zap.Int("pid", pid))
		return domain.LocateResult{Status: domain.LocateNoWindow}
	}

	main := handles[0]
	if main.PID == 0 {
		main.PID = pid
	}

	fg := l.windows.Foreground()
	if fg != AnyForeground && fg != main.HWND {
		l.logger.Info("window is not foreground",
			zap.String("process", processName),
			zap.Int("pid", pid),
			zap.Int64("hwnd", main.HWND))
		return domain.LocateResult{Status: domain.LocateNotForeground, Handle: main}
	}

	titles := make([]string, 0, len(handles))
	for _, h := range handles {
		titles = append(titles, h.Title)
	}
	l.logger.Info("window found",
		zap.String("process", processName),
		zap.Int("pid", pid),
		zap.Int64("hwnd", main.HWND),
		zap.Strings("titles", titles))

	return domain.LocateResult{Status: domain.LocateUsable, Handle: main}
}

var _ domain.WindowLocator = (*WindowLocatorImpl)(nil)
