package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
	"github.com/LumiOwO/LumiTracker-sub000/internal/logging"
	"github.com/LumiOwO/LumiTracker-sub000/internal/relay"
)

var obServerCmd = &cobra.Command{
	Use:   "ob-server",
	Short: "Run a spectator server that receives players' duel events",
	Long: `Accepts connections from trackers started with --relay and logs every
event they forward. Each player keeps the same event stream across
reconnects.`,
	RunE: runOBServer,
}

var obDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find spectator servers on the local network",
	RunE:  runOBDiscover,
}

var (
	obPort            int
	obAdvertise       bool
	obName            string
	obDiscoverTimeout time.Duration
	obDiscoverJSON    bool
)

func init() {
	obServerCmd.Flags().IntVar(&obPort, "port", 0, "Listening port (default from config)")
	obServerCmd.Flags().BoolVar(&obAdvertise, "advertise", false, "Advertise the server over mDNS")
	obServerCmd.Flags().StringVar(&obName, "name", "", "mDNS instance name")
	obDiscoverCmd.Flags().DurationVar(&obDiscoverTimeout, "timeout", 3*time.Second, "How long to browse")
	obDiscoverCmd.Flags().BoolVar(&obDiscoverJSON, "json", false, "Output servers as JSON")
	obServerCmd.AddCommand(obDiscoverCmd)
}

func runOBServer(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(true)
	if err != nil {
		return err
	}
	logger := e.logger
	defer logger.Sync()

	cfg := relay.DefaultServerConfig()
	port := e.cfg.Relay.Port
	if cmd.Flags().Changed("port") {
		port = obPort
	}
	cfg.Addr = fmt.Sprintf(":%d", port)
	cfg.Advertise = e.cfg.Relay.Advertise || obAdvertise
	if obName != "" {
		cfg.InstanceName = obName
	}

	srv := relay.NewServer(cfg, func(id uuid.UUID) *hook.EventBus {
		clientLogger := logger.With(zap.String("client", id.String()))
		bus := hook.New(clientLogger)
		hook.Observe(bus, func(event string, data map[string]any) {
			clientLogger.Info("event", zap.String("event", event), zap.Any("data", data))
		})
		return bus
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return srv.Serve(ctx)
}

func runOBDiscover(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Options{Debug: debugFlag})
	defer logger.Sync()

	servers, err := relay.Discover(cmd.Context(), obDiscoverTimeout, logger)
	if err != nil {
		return err
	}
	if obDiscoverJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(servers)
	}
	if len(servers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No spectator servers found.")
		return nil
	}
	for _, s := range servers {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Instance, s.Addr())
	}
	return nil
}
