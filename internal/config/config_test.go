package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
client_type: Cloud
worker:
  connect_attempts: 3
watcher:
  poll_interval: 250ms
relay:
  server: 192.168.1.20:25251
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.ClientCloud, cfg.ClientType)
	assert.Equal(t, domain.CaptureBitBlt, cfg.CaptureType, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Worker.ConnectAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Worker.ConnectRetryDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Watcher.PollInterval)
	assert.Equal(t, time.Second, cfg.Watcher.EnsureInterval)
	assert.Equal(t, "192.168.1.20:25251", cfg.Relay.Server)
	assert.Equal(t, 25251, cfg.Relay.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{"bad yaml", "client_type: [", "failed to parse"},
		{"unknown client", "client_type: Mobile", "unknown client_type"},
		{"unknown capture", "capture_type: DXGI", "unknown capture_type"},
		{"zero attempts", "worker:\n  connect_attempts: -1", "connect_attempts"},
		{"bad interval", "watcher:\n  poll_interval: -1s", "poll_interval"},
		{"bad port", "relay:\n  port: 70000", "relay.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.content)

			cfg, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
			assert.Equal(t, Default(), cfg)
		})
	}
}

func TestValidate_CaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.ClientType = "global"
	cfg.CaptureType = "windowscapture"
	assert.NoError(t, cfg.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.ClientType = domain.ClientGlobal
	cfg.ProcessName = "GenshinImpact"
	cfg.Watcher.PollInterval = 500 * time.Millisecond
	cfg.Overlay.Enabled = true

	require.NoError(t, Save(path, cfg))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	matches, _ := filepath.Glob(path + ".*.tmp")
	assert.Empty(t, matches)
}

func TestTargetChanged(t *testing.T) {
	base := Default()

	same := base
	same.ClientType = "yuanshen"
	same.Overlay.Enabled = true
	assert.False(t, TargetChanged(base, same))

	client := base
	client.ClientType = domain.ClientGlobal
	assert.True(t, TargetChanged(base, client))

	capture := base
	capture.CaptureType = domain.CaptureWindowsCapture
	assert.True(t, TargetChanged(base, capture))

	process := base
	process.ProcessName = "custom"
	assert.True(t, TargetChanged(base, process))
}
