package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level btpanel configuration.
type Config struct {
	Helper HelperConfig `yaml:"helper"`
	Pairer PairerConfig `yaml:"pairer"`
	Logger LoggerConfig `yaml:"logger"`

	// DefaultDevice is used by `btpanel battery` when no address is given.
	DefaultDevice string `yaml:"default_device"`
}

// HelperConfig describes how to reach the helper process.
type HelperConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	MDNSService       string        `yaml:"mdns_service"` // empty disables discovery
	MDNSTimeout       time.Duration `yaml:"mdns_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	CmdTimeout        time.Duration `yaml:"cmd_timeout"` // one-shot commands
	CorrelateRequests bool          `yaml:"correlate_requests"`
	MaxSendRate       float64       `yaml:"max_send_rate"` // requests/sec, 0 = unlimited
}

// PairerConfig selects and tunes the direct pairing backend.
type PairerConfig struct {
	Backend     string        `yaml:"backend"` // "bluez" | "tinygo"
	Adapter     string        `yaml:"adapter"` // BlueZ adapter, e.g. "hci0"
	ScanTimeout time.Duration `yaml:"scan_timeout"`
	NamePrefix  string        `yaml:"name_prefix"`
}

// LoggerConfig mirrors slog settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
	Output string `yaml:"output"` // "stdout" | "stderr" | file path
}

func runtimeDir() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return dir
}

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "btpanel", "config.yaml")
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Helper: HelperConfig{
			Endpoint:    "ws://localhost:8765",
			MDNSTimeout: 3 * time.Second,
			DialTimeout: 5 * time.Second,
			CmdTimeout:  10 * time.Second,
		},
		Pairer: PairerConfig{
			Backend:     "bluez",
			Adapter:     "hci0",
			ScanTimeout: 10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: filepath.Join(runtimeDir(), "btpanel.log"),
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies BTPANEL_* environment variables to cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BTPANEL_HELPER_ENDPOINT"); v != "" {
		cfg.Helper.Endpoint = v
	}
	if v := os.Getenv("BTPANEL_HELPER_MDNS_SERVICE"); v != "" {
		cfg.Helper.MDNSService = v
	}
	if v := os.Getenv("BTPANEL_HELPER_CORRELATE_REQUESTS"); v != "" {
		cfg.Helper.CorrelateRequests = v == "true"
	}
	if v := os.Getenv("BTPANEL_HELPER_MAX_SEND_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Helper.MaxSendRate = f
		}
	}
	if v := os.Getenv("BTPANEL_PAIRER_BACKEND"); v != "" {
		cfg.Pairer.Backend = v
	}
	if v := os.Getenv("BTPANEL_PAIRER_SCAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pairer.ScanTimeout = d
		}
	}
	if v := os.Getenv("BTPANEL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BTPANEL_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("BTPANEL_DEFAULT_DEVICE"); v != "" {
		cfg.DefaultDevice = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Helper.Endpoint == "" {
		return fmt.Errorf("helper.endpoint is required")
	}
	if !strings.HasPrefix(c.Helper.Endpoint, "ws://") && !strings.HasPrefix(c.Helper.Endpoint, "wss://") {
		return fmt.Errorf("helper.endpoint %q must be a ws:// or wss:// URL", c.Helper.Endpoint)
	}
	if c.Helper.MaxSendRate < 0 {
		return fmt.Errorf("helper.max_send_rate must not be negative")
	}
	switch c.Pairer.Backend {
	case "bluez", "tinygo":
	default:
		return fmt.Errorf("pairer.backend %q is not one of bluez, tinygo", c.Pairer.Backend)
	}
	if c.Pairer.ScanTimeout <= 0 {
		return fmt.Errorf("pairer.scan_timeout must be positive")
	}
	return nil
}

// resolveDevice picks a device address. If addr is non-empty, it is returned
// directly. Otherwise the configured default device is used.
func resolveDevice(cfg *Config, addr string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	if cfg.DefaultDevice == "" {
		return "", fmt.Errorf("no device specified and default_device is not set")
	}
	return cfg.DefaultDevice, nil
}
