// Package config provides configuration management for VPN Guard.
// It handles loading, saving, and managing application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-guard/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
// Durations are stored as strings ("30s", "3m") and parsed on access with
// a fallback to the built-in default when invalid.
type Config struct {
	// ScanInterval is how often observed tunnel state is polled.
	ScanInterval string `yaml:"scan_interval"`
	// ConnectTimeout bounds how long a connection attempt may remain pending.
	ConnectTimeout string `yaml:"connect_timeout"`
	// DisconnectTimeout bounds how long a disconnect may remain pending.
	DisconnectTimeout string `yaml:"disconnect_timeout"`
	// HandshakeStaleAfter is the handshake age past which an established
	// tunnel is treated as down.
	HandshakeStaleAfter string `yaml:"handshake_stale_after"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// Theme sets the color theme: "light", "dark", or "auto".
	Theme string `yaml:"theme"`

	KillSwitch KillSwitchConfig `yaml:"killswitch"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	History    HistoryConfig    `yaml:"history"`
}

// KillSwitchConfig holds firewall enforcement settings.
type KillSwitchConfig struct {
	// Backend selects the firewall backend: "auto", "iptables", "nft",
	// or "pfctl". Auto probes what the host provides.
	Backend string `yaml:"backend"`
	// AllowLAN keeps RFC1918 and link-local destinations reachable
	// while a block is active.
	AllowLAN bool `yaml:"allow_lan"`
	// ApplyRetries bounds retry attempts for a failed firewall call.
	ApplyRetries int `yaml:"apply_retries"`
}

// TelemetryConfig holds network telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// HistoryConfig holds event history settings.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		ScanInterval:        "1s",
		ConnectTimeout:      "30s",
		DisconnectTimeout:   "10s",
		HandshakeStaleAfter: "3m",
		ShowNotifications:   true,
		Theme:               "auto",
		KillSwitch: KillSwitchConfig{
			Backend:      "auto",
			AllowLAN:     true,
			ApplyRetries: common.FirewallApplyRetries,
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Interval: "30s",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Load loads the configuration from the config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	// If it doesn't exist, return default configuration
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	// Validate values
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate verifies that configuration values are valid
func (c *Config) validate() error {
	validThemes := []string{"auto", "light", "dark"}
	if !common.StringInSlice(c.Theme, validThemes) {
		c.Theme = "auto" // Fallback to default
	}

	validBackends := []string{"auto", "iptables", "nft", "pfctl"}
	if !common.StringInSlice(c.KillSwitch.Backend, validBackends) {
		c.KillSwitch.Backend = "auto"
	}

	if c.KillSwitch.ApplyRetries < 1 || c.KillSwitch.ApplyRetries > 10 {
		c.KillSwitch.ApplyRetries = common.FirewallApplyRetries
	}
	return nil
}

// Save saves the configuration to the file
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}

// ScanEvery returns the parsed scan interval.
func (c *Config) ScanEvery() time.Duration {
	return parseDuration(c.ScanInterval, common.ScanInterval)
}

// ConnectBudget returns the parsed connect timeout.
func (c *Config) ConnectBudget() time.Duration {
	return parseDuration(c.ConnectTimeout, common.ConnectTimeout)
}

// DisconnectBudget returns the parsed disconnect timeout.
func (c *Config) DisconnectBudget() time.Duration {
	return parseDuration(c.DisconnectTimeout, common.DisconnectTimeout)
}

// HandshakeStale returns the parsed handshake staleness threshold.
func (c *Config) HandshakeStale() time.Duration {
	return parseDuration(c.HandshakeStaleAfter, common.HandshakeStaleAfter)
}

// TelemetryEvery returns the parsed telemetry refresh interval.
func (c *Config) TelemetryEvery() time.Duration {
	return parseDuration(c.Telemetry.Interval, common.TelemetryInterval)
}

// parseDuration parses s, falling back to def when empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		common.LogWarn("Invalid duration %q in config, using %s", s, def)
		return def
	}
	return d
}

func getConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
