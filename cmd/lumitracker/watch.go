package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/config"
	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/infra"
	"github.com/LumiOwO/LumiTracker-sub000/internal/overlay"
	"github.com/LumiOwO/LumiTracker-sub000/internal/profile"
	"github.com/LumiOwO/LumiTracker-sub000/internal/supervisor"
	"github.com/LumiOwO/LumiTracker-sub000/internal/watcher"
	"github.com/LumiOwO/LumiTracker-sub000/internal/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the game client and run the capture worker",
	Long: `Runs until interrupted. The worker is started whenever the client's
window is in the foreground and killed when the window goes away.
Changes to config.yaml that affect the target take effect immediately.`,
	RunE: runWatch,
}

var (
	watchClient  string
	watchCapture string
	watchProcess string
	watchRelay   string
	watchOverlay bool
	watchWorker  string
)

func init() {
	watchCmd.Flags().StringVar(&watchClient, "client", "", "Client type (YuanShen, Global, Cloud)")
	watchCmd.Flags().StringVar(&watchCapture, "capture", "", "Capture backend (BitBlt, WindowsCapture)")
	watchCmd.Flags().StringVar(&watchProcess, "process", "", "Override the client's process name")
	watchCmd.Flags().StringVar(&watchRelay, "relay", "", "Forward duel events to the spectator server at host:port")
	watchCmd.Flags().BoolVar(&watchOverlay, "overlay", false, "Serve the local overlay API")
	watchCmd.Flags().StringVar(&watchWorker, "worker", "", "Worker executable (default: bundled python)")
}

// applyWatchFlags overrides cfg with explicitly set flags.
func applyWatchFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("client") {
		cfg.ClientType = domain.ClientType(watchClient)
	}
	if flags.Changed("capture") {
		cfg.CaptureType = domain.CaptureType(watchCapture)
	}
	if flags.Changed("process") {
		cfg.ProcessName = watchProcess
	}
	if flags.Changed("relay") {
		cfg.Relay.Server = watchRelay
	}
	if flags.Changed("overlay") {
		cfg.Overlay.Enabled = watchOverlay
	}
	if flags.Changed("worker") {
		cfg.Worker.Executable = watchWorker
	}
	return cfg.Validate()
}

func workerConfig(paths *infra.Paths, cfg config.Config) worker.Config {
	wc := worker.DefaultConfig(paths.AppDir, paths.HandshakePath)
	if cfg.Worker.Executable != "" {
		wc.Executable = cfg.Worker.Executable
	}
	wc.ConnectAttempts = cfg.Worker.ConnectAttempts
	wc.ConnectRetryDelay = cfg.Worker.ConnectRetryDelay
	wc.TestOnResize = cfg.Worker.TestOnResize
	return wc
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(true)
	if err != nil {
		return err
	}
	logger := e.logger
	defer logger.Sync()

	cfg := e.cfg
	if err := applyWatchFlags(cmd, &cfg); err != nil {
		return err
	}

	registry := profile.NewRegistry()
	target, err := registry.Resolve(cfg.ClientType, cfg.CaptureType, cfg.ProcessName)
	if err != nil {
		return err
	}

	var sessions domain.SessionStore
	if cfg.History.Enabled {
		store, err := openSessions(e.paths)
		if err != nil {
			logger.Warn("session history disabled", zap.Error(err))
		} else {
			defer store.Close()
			sessions = store
		}
	}

	pm := infra.NewProcessManager()
	deps := supervisor.Deps{
		Locator:    infra.NewWindowLocator(pm, infra.NewWindowSystem(), logger),
		NewChannel: worker.NewFactory(workerConfig(e.paths, cfg), logger),
		Sessions:   sessions,
		Profiles:   registry,
	}
	supCfg := supervisor.Config{
		PollInterval: cfg.Watcher.PollInterval,
		LogDir:       e.paths.LogDir,
		TestOnResize: cfg.Worker.TestOnResize,
	}
	wcfg := watcher.DefaultConfig()
	wcfg.EnsureInterval = cfg.Watcher.EnsureInterval

	gw := watcher.New(
		watcher.NewSupervisorFactory(deps, supCfg, logger),
		infra.NewFileIdentityProvider(e.paths.DataDir),
		wcfg,
		logger,
	)
	gw.OnUnsupportedRatio(func(w, h int) {
		logger.Warn("unsupported window ratio", zap.Int("width", w), zap.Int("height", h))
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := gw.Start(ctx, target); err != nil {
		return err
	}

	cfgWatcher, err := config.Watch(e.paths.ConfigPath, cfg, func(prev, next config.Config) {
		if config.TargetChanged(prev, next) {
			t, err := registry.Resolve(next.ClientType, next.CaptureType, next.ProcessName)
			if err != nil {
				logger.Warn("ignoring target change", zap.Error(err))
				return
			}
			gw.ChangeTarget(t)
		}
		if prev.Relay.Server != next.Relay.Server {
			connectRelay(ctx, gw, next.Relay.Server, logger)
		}
	}, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer cfgWatcher.Close()
	}

	if cfg.Overlay.Enabled {
		ocfg := overlay.DefaultConfig()
		ocfg.Addr = cfg.Overlay.Addr
		srv := overlay.NewServer(ocfg, gw.EventBus, gw, logger)
		defer srv.Close()
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("overlay server stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Relay.Server != "" {
		connectRelay(ctx, gw, cfg.Relay.Server, logger)
	}

	logger.Info("watching",
		zap.String("process", target.ProcessName),
		zap.String("client_type", string(target.ClientType)),
		zap.String("capture_type", string(target.CaptureType)),
		zap.String("version", Version))

	<-ctx.Done()
	logger.Info("shutting down")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := gw.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to stop watcher: %w", err)
	}
	return nil
}

func connectRelay(ctx context.Context, gw *watcher.GameWatcher, addr string, logger *zap.Logger) {
	if addr == "" {
		gw.DisconnectRelay()
		return
	}
	if err := gw.ConnectRelay(ctx, addr); err != nil {
		logger.Warn("failed to connect to relay server", zap.String("addr", addr), zap.Error(err))
	}
}
