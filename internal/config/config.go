// Package config loads the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// Config is the whole configuration file. Zero-valued fields in the file
// keep their defaults.
type Config struct {
	ClientType  domain.ClientType  `yaml:"client_type"`
	CaptureType domain.CaptureType `yaml:"capture_type"`
	// ProcessName overrides the client profile's process name.
	ProcessName string `yaml:"process_name,omitempty"`
	Debug       bool   `yaml:"debug"`

	Watcher WatcherConfig `yaml:"watcher"`
	Worker  WorkerConfig  `yaml:"worker"`
	Overlay OverlayConfig `yaml:"overlay"`
	Relay   RelayConfig   `yaml:"relay"`
	History HistoryConfig `yaml:"history"`
}

// WatcherConfig paces the polling loops.
type WatcherConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	EnsureInterval time.Duration `yaml:"ensure_interval"`
}

// WorkerConfig controls how the capture worker is launched.
type WorkerConfig struct {
	// Executable defaults to the bundled python interpreter.
	Executable        string        `yaml:"executable,omitempty"`
	ConnectAttempts   int           `yaml:"connect_attempts"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`
	TestOnResize      bool          `yaml:"test_on_resize"`
}

// OverlayConfig controls the local overlay server.
type OverlayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RelayConfig covers both ends of the spectator relay.
type RelayConfig struct {
	// Server is the host:port to forward events to; empty disables forwarding.
	Server string `yaml:"server,omitempty"`
	// Port is where ob-server listens.
	Port      int  `yaml:"port"`
	Advertise bool `yaml:"advertise"`
}

// HistoryConfig controls the encrypted worker session history.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ClientType:  domain.ClientYuanShen,
		CaptureType: domain.CaptureBitBlt,
		Watcher: WatcherConfig{
			PollInterval:   time.Second,
			EnsureInterval: time.Second,
		},
		Worker: WorkerConfig{
			ConnectAttempts:   10,
			ConnectRetryDelay: 200 * time.Millisecond,
		},
		Overlay: OverlayConfig{
			Addr: "127.0.0.1:25252",
		},
		Relay: RelayConfig{
			Port: 25251,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(string(c.ClientType)) {
	case "yuanshen", "global", "cloud":
	default:
		errs = append(errs, fmt.Errorf("unknown client_type %q", c.ClientType))
	}
	switch strings.ToLower(string(c.CaptureType)) {
	case "bitblt", "windowscapture":
	default:
		errs = append(errs, fmt.Errorf("unknown capture_type %q", c.CaptureType))
	}
	if c.Watcher.PollInterval <= 0 {
		errs = append(errs, errors.New("watcher.poll_interval must be positive"))
	}
	if c.Watcher.EnsureInterval <= 0 {
		errs = append(errs, errors.New("watcher.ensure_interval must be positive"))
	}
	if c.Worker.ConnectAttempts < 1 {
		errs = append(errs, errors.New("worker.connect_attempts must be at least 1"))
	}
	if c.Worker.ConnectRetryDelay < 0 {
		errs = append(errs, errors.New("worker.connect_retry_delay must not be negative"))
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay.port %d out of range", c.Relay.Port))
	}
	return errors.Join(errs...)
}

// TargetChanged reports whether switching from a to b requires the watcher
// to change target.
func TargetChanged(a, b Config) bool {
	return !strings.EqualFold(string(a.ClientType), string(b.ClientType)) ||
		!strings.EqualFold(string(a.CaptureType), string(b.CaptureType)) ||
		a.ProcessName != b.ProcessName
}
