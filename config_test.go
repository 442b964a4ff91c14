package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8765", cfg.Helper.Endpoint)
	assert.Equal(t, "bluez", cfg.Pairer.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
helper:
  endpoint: ws://127.0.0.1:9000
  correlate_requests: true
  max_send_rate: 2.5
  cmd_timeout: 3s
pairer:
  backend: tinygo
  scan_timeout: 4s
  name_prefix: Buds
logger:
  level: debug
  format: json
default_device: AA:BB:CC:DD:EE:FF
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000", cfg.Helper.Endpoint)
	assert.True(t, cfg.Helper.CorrelateRequests)
	assert.Equal(t, 2.5, cfg.Helper.MaxSendRate)
	assert.Equal(t, 3*time.Second, cfg.Helper.CmdTimeout)
	assert.Equal(t, 5*time.Second, cfg.Helper.DialTimeout, "unset keys keep defaults")
	assert.Equal(t, "tinygo", cfg.Pairer.Backend)
	assert.Equal(t, 4*time.Second, cfg.Pairer.ScanTimeout)
	assert.Equal(t, "Buds", cfg.Pairer.NamePrefix)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.DefaultDevice)
	assert.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("helper: [unterminated"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BTPANEL_HELPER_ENDPOINT", "wss://bridge.local/ws")
	t.Setenv("BTPANEL_HELPER_CORRELATE_REQUESTS", "true")
	t.Setenv("BTPANEL_PAIRER_BACKEND", "tinygo")
	t.Setenv("BTPANEL_PAIRER_SCAN_TIMEOUT", "2s")
	t.Setenv("BTPANEL_LOGGER_LEVEL", "debug")
	t.Setenv("BTPANEL_DEFAULT_DEVICE", "11:22")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, "wss://bridge.local/ws", cfg.Helper.Endpoint)
	assert.True(t, cfg.Helper.CorrelateRequests)
	assert.Equal(t, "tinygo", cfg.Pairer.Backend)
	assert.Equal(t, 2*time.Second, cfg.Pairer.ScanTimeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "11:22", cfg.DefaultDevice)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.Helper.Endpoint = "" }},
		{"http endpoint", func(c *Config) { c.Helper.Endpoint = "http://localhost:8765" }},
		{"negative rate", func(c *Config) { c.Helper.MaxSendRate = -1 }},
		{"unknown backend", func(c *Config) { c.Pairer.Backend = "webbluetooth" }},
		{"zero scan timeout", func(c *Config) { c.Pairer.ScanTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigPathUsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/btpanel/config.yaml", configPath())
}

func TestResolveDevice(t *testing.T) {
	cfg := Defaults()
	_, err := resolveDevice(cfg, "")
	assert.Error(t, err)

	cfg.DefaultDevice = "AA:BB"
	addr, err := resolveDevice(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB", addr)

	addr, err = resolveDevice(cfg, "CC:DD")
	require.NoError(t, err)
	assert.Equal(t, "CC:DD", addr)
}
