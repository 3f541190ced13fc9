// Package main is the CLI entry point for lumitracker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/config"
	"github.com/LumiOwO/LumiTracker-sub000/internal/infra"
	"github.com/LumiOwO/LumiTracker-sub000/internal/logging"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lumitracker",
	Short: "Card tracker core - watches the game window and runs the capture worker",
	Long: `lumitracker finds the game client's window, runs the capture worker
against it while it is in the foreground, and turns the worker's output into
duel events for overlays and spectator servers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	debugFlag  bool
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Verbose development logging")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(obServerCmd)
	rootCmd.AddCommand(versionCmd)
}

// env is what every long-running command starts from.
type env struct {
	paths  *infra.Paths
	cfg    config.Config
	logger *zap.Logger
}

// loadEnv resolves paths, reads config.yaml and builds the logger. toFile
// selects whether the log also goes to the log directory.
func loadEnv(toFile bool) (*env, error) {
	paths, err := infra.DetectPaths()
	if err != nil {
		return nil, err
	}
	if err := paths.Ensure(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, err
	}

	opts := logging.Options{Debug: debugFlag || cfg.Debug}
	if toFile {
		opts.LogDir = paths.LogDir
	}
	return &env{paths: paths, cfg: cfg, logger: logging.New(opts)}, nil
}

// openSessions opens the encrypted history store, creating the key on
// first use.
func openSessions(paths *infra.Paths) (*infra.EncryptedSessionStore, error) {
	key, err := infra.OpenSessionKey(infra.NewFileSessionKey(paths.DataDir))
	if err != nil {
		return nil, err
	}
	return infra.NewEncryptedSessionStore(paths.DataDir, key)
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("lumitracker %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
