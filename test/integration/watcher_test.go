//go:build integration && !windows

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
	"github.com/LumiOwO/LumiTracker-sub000/internal/infra"
	"github.com/LumiOwO/LumiTracker-sub000/internal/profile"
	"github.com/LumiOwO/LumiTracker-sub000/internal/supervisor"
	"github.com/LumiOwO/LumiTracker-sub000/internal/watcher"
	"github.com/LumiOwO/LumiTracker-sub000/internal/worker"
	"github.com/LumiOwO/LumiTracker-sub000/test/fixtures"
)

const (
	poll    = 50 * time.Millisecond
	timeout = 10 * time.Second
)

// recorder collects facade events by name.
type recorder struct {
	mu     sync.Mutex
	events map[string][]map[string]any
}

func newRecorder(bus *hook.EventBus) *recorder {
	r := &recorder{events: make(map[string][]map[string]any)}
	hook.Observe(bus, func(event string, data map[string]any) {
		r.mu.Lock()
		r.events[event] = append(r.events[event], data)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[event])
}

func (r *recorder) first(event string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events[event]) == 0 {
		return nil
	}
	return r.events[event][0]
}

type harness struct {
	gw       *watcher.GameWatcher
	events   *recorder
	sessions *infra.EncryptedSessionStore
	pm       domain.ProcessManager
	self     domain.Target
}

func newHarness(mode fixtures.FakeWorkerMode, exitCode int, delay time.Duration) *harness {
	home, err := os.MkdirTemp("", "lumitracker-it-*")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, home)

	paths := infra.PathsWithHome(home, filepath.Dir(workerBinary))
	Expect(paths.Ensure()).To(Succeed())

	key, err := infra.OpenSessionKey(infra.NewFileSessionKey(paths.DataDir))
	Expect(err).NotTo(HaveOccurred())
	sessions, err := infra.NewEncryptedSessionStore(paths.DataDir, key)
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	pm := infra.NewProcessManager()

	wc := worker.DefaultConfig(paths.AppDir, paths.HandshakePath)
	wc.Executable = workerBinary
	wc.Args = nil
	wc.Env = fixtures.FakeWorkerEnvFor(mode, exitCode, delay)
	wc.ConnectAttempts = 50
	wc.ConnectRetryDelay = 50 * time.Millisecond

	deps := supervisor.Deps{
		Locator:    infra.NewWindowLocator(pm, infra.NewWindowSystem(), logger),
		NewChannel: worker.NewFactory(wc, logger),
		Sessions:   sessions,
		Profiles:   profile.NewRegistry(),
	}
	supCfg := supervisor.Config{PollInterval: poll, LogDir: paths.LogDir}

	wcfg := watcher.DefaultConfig()
	wcfg.EnsureInterval = poll
	gw := watcher.New(watcher.NewSupervisorFactory(deps, supCfg, logger),
		infra.NewFileIdentityProvider(paths.DataDir), wcfg, logger)

	exe, err := os.Executable()
	Expect(err).NotTo(HaveOccurred())

	h := &harness{
		gw:       gw,
		events:   newRecorder(gw.EventBus),
		sessions: sessions,
		pm:       pm,
		self: domain.Target{
			ProcessName: filepath.Base(exe),
			ClientType:  domain.ClientYuanShen,
			CaptureType: domain.CaptureBitBlt,
		},
	}
	DeferCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		Expect(gw.Close(ctx)).To(Succeed())
		Expect(sessions.Close()).To(Succeed())
	})
	return h
}

func (h *harness) latestSession() domain.WorkerSession {
	recent, err := h.sessions.Recent(1)
	Expect(err).NotTo(HaveOccurred())
	Expect(recent).To(HaveLen(1))
	return recent[0]
}

var _ = Describe("GameWatcher", func() {
	Context("with a well-behaved worker", func() {
		var h *harness

		BeforeEach(func() {
			h = newHarness(fixtures.ModeEcho, 0, 0)
			Expect(h.gw.Start(context.Background(), h.self)).To(Succeed())
		})

		It("starts the worker for the watched window and republishes its events", func() {
			Eventually(func() int { return h.events.count(hook.EventWorkerStarted) }, timeout, poll).Should(Equal(1))
			Expect(h.events.first(hook.EventWorkerStarted)["hwnd"]).To(BeEquivalentTo(os.Getpid()))

			Eventually(func() int { return h.events.count(hook.EventGameStarted) }, timeout, poll).Should(Equal(1))
			Eventually(func() int { return h.events.count(hook.EventRoundDetected) }, timeout, poll).Should(Equal(1))
			Expect(h.events.first(hook.EventRoundDetected)["round"]).To(Equal(2))

			By("reporting the unparseable line without stopping the stream")
			Expect(h.events.count(hook.EventError)).To(Equal(1))
			Expect(h.gw.State()).To(Equal(domain.StateActive))
		})

		It("delivers commands to the worker", func() {
			Eventually(h.gw.State, timeout, poll).Should(Equal(domain.StateActive))
			Eventually(func() int { return h.events.count(hook.EventGameStarted) }, timeout, poll).Should(Equal(1))

			Expect(h.gw.Send(context.Background(), map[string]any{"type": "MY_PLAYED", "card_id": 212})).To(Succeed())

			Eventually(func() int { return h.events.count(hook.EventMyActionCardPlayed) }, timeout, poll).Should(Equal(1))
			Expect(h.events.first(hook.EventMyActionCardPlayed)["card_id"]).To(Equal(212))
		})

		It("records the worker session and kills the worker on close", func() {
			Eventually(func() int { return h.events.count(hook.EventWorkerStarted) }, timeout, poll).Should(Equal(1))
			session := h.latestSession()
			Expect(session.ProcessName).To(Equal(h.self.ProcessName))
			Expect(h.pm.IsRunning(session.PID)).To(BeTrue())

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			Expect(h.gw.Close(ctx)).To(Succeed())

			Expect(h.events.count(hook.EventWorkerExited)).To(Equal(1))
			Eventually(func() bool { return h.pm.IsRunning(session.PID) }, timeout, poll).Should(BeFalse())

			ended := h.latestSession()
			Expect(ended.EndedAt.IsZero()).To(BeFalse())
			Expect(ended.Reason).To(Equal(supervisor.ReasonCancelled))
		})

		It("stops the worker when the target changes to a missing process", func() {
			Eventually(func() int { return h.events.count(hook.EventWorkerStarted) }, timeout, poll).Should(Equal(1))

			missing := h.self
			missing.ProcessName = "no-such-game-client"
			Expect(h.gw.ChangeTarget(missing)).To(BeTrue())

			Eventually(func() int { return h.events.count(hook.EventWorkerExited) }, timeout, poll).Should(Equal(1))
			Eventually(h.gw.State, timeout, poll).Should(Equal(domain.StateSearching))
			Expect(h.gw.Target().ProcessName).To(Equal("no-such-game-client"))

			Consistently(func() int { return h.events.count(hook.EventWorkerStarted) }, 5*poll, poll).Should(Equal(1))
		})
	})

	Context("with a worker that leaves a child process behind", func() {
		It("still reports the exit and starts a new worker", func() {
			h := newHarness(fixtures.ModeOrphan, 1, 300*time.Millisecond)
			Expect(h.gw.Start(context.Background(), h.self)).To(Succeed())

			Eventually(func() int { return h.events.count(hook.EventWorkerExited) }, timeout, poll).Should(BeNumerically(">=", 1))
			Eventually(func() int { return h.events.count(hook.EventWorkerStarted) }, timeout, poll).Should(BeNumerically(">=", 2))
		})
	})

	Context("with a worker that keeps crashing", func() {
		It("reports every exit once and restarts the worker", func() {
			h := newHarness(fixtures.ModeExit, 1, 300*time.Millisecond)
			Expect(h.gw.Start(context.Background(), h.self)).To(Succeed())

			Eventually(func() int { return h.events.count(hook.EventWorkerExited) }, timeout, poll).Should(BeNumerically(">=", 1))
			Eventually(func() int { return h.events.count(hook.EventWorkerStarted) }, timeout, poll).Should(BeNumerically(">=", 2))

			recent, err := h.sessions.Recent(10)
			Expect(err).NotTo(HaveOccurred())
			var exited []domain.WorkerSession
			for _, s := range recent {
				if !s.EndedAt.IsZero() {
					exited = append(exited, s)
				}
			}
			Expect(exited).NotTo(BeEmpty())
			Expect(exited[0].ExitCode).To(Equal(1))
			Expect(exited[0].Reason).To(Equal(supervisor.ReasonExited))
		})
	})
})
