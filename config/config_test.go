package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/vpn-guard/common"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ScanEvery() != common.ScanInterval {
		t.Errorf("ScanEvery() = %v, want %v", cfg.ScanEvery(), common.ScanInterval)
	}
	if cfg.ConnectBudget() != common.ConnectTimeout {
		t.Errorf("ConnectBudget() = %v, want %v", cfg.ConnectBudget(), common.ConnectTimeout)
	}
	if cfg.KillSwitch.Backend != "auto" {
		t.Errorf("KillSwitch.Backend = %v, want auto", cfg.KillSwitch.Backend)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("telemetry should be enabled by default")
	}
}

func TestParseDuration_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"valid", "45s", time.Second, 45 * time.Second},
		{"empty", "", 30 * time.Second, 30 * time.Second},
		{"garbage", "soon", 10 * time.Second, 10 * time.Second},
		{"negative", "-5s", time.Minute, time.Minute},
		{"zero", "0s", time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDuration(tt.in, tt.def); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate_Fallbacks(t *testing.T) {
	cfg := &Config{
		Theme: "neon",
		KillSwitch: KillSwitchConfig{
			Backend:      "ufw",
			ApplyRetries: 99,
		},
	}

	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}

	if cfg.Theme != "auto" {
		t.Errorf("Theme = %v, want auto", cfg.Theme)
	}
	if cfg.KillSwitch.Backend != "auto" {
		t.Errorf("Backend = %v, want auto", cfg.KillSwitch.Backend)
	}
	if cfg.KillSwitch.ApplyRetries != common.FirewallApplyRetries {
		t.Errorf("ApplyRetries = %v, want %v", cfg.KillSwitch.ApplyRetries, common.FirewallApplyRetries)
	}
}

func TestLoad_CreatesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ScanInterval != "1s" {
		t.Errorf("ScanInterval = %v, want 1s", cfg.ScanInterval)
	}

	path, err := getConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Load() should create the default config file: %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.ScanInterval = "2s"
	cfg.KillSwitch.Backend = "nft"
	cfg.KillSwitch.AllowLAN = false
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.ScanEvery() != 2*time.Second {
		t.Errorf("ScanEvery() = %v, want 2s", loaded.ScanEvery())
	}
	if loaded.KillSwitch.Backend != "nft" {
		t.Errorf("Backend = %v, want nft", loaded.KillSwitch.Backend)
	}
	if loaded.KillSwitch.AllowLAN {
		t.Error("AllowLAN should round-trip as false")
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", common.ConfigDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	bad := []byte("scan_interval: 1s\nmystery_knob: true\n")
	if err := os.WriteFile(filepath.Join(dir, common.ConfigFileName), bad, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Error("Load() should reject unknown fields")
	}
}
