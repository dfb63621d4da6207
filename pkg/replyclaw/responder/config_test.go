package responder

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Monitor.Interval != 5*time.Second {
		t.Errorf("Monitor.Interval = %v, want 5s", cfg.Monitor.Interval)
	}
	if cfg.Cooldown.Window != 5*time.Minute {
		t.Errorf("Cooldown.Window = %v, want 5m", cfg.Cooldown.Window)
	}
	if cfg.Session.MaxBackups != 5 {
		t.Errorf("Session.MaxBackups = %d, want 5", cfg.Session.MaxBackups)
	}
	if cfg.ActiveTemplate != "default" {
		t.Errorf("ActiveTemplate = %q, want default", cfg.ActiveTemplate)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
form_link: https://example.com/apply
database_path: state/replyclaw.db
cooldown:
  window: 10m
session:
  max_backups: 2
  profile_dir: state/profile
monitor:
  interval: 15s
  max_per_cycle: 1
api:
  address: ":9090"
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}

	if cfg.FormLink != "https://example.com/apply" {
		t.Errorf("FormLink = %q", cfg.FormLink)
	}
	if cfg.Cooldown.Window != 10*time.Minute {
		t.Errorf("Cooldown.Window = %v, want 10m", cfg.Cooldown.Window)
	}
	if cfg.Session.MaxBackups != 2 {
		t.Errorf("Session.MaxBackups = %d, want 2", cfg.Session.MaxBackups)
	}
	if cfg.Monitor.MaxPerCycle != 1 {
		t.Errorf("Monitor.MaxPerCycle = %d, want 1", cfg.Monitor.MaxPerCycle)
	}
	if cfg.API.Address != ":9090" {
		t.Errorf("API.Address = %q", cfg.API.Address)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// Relative paths anchor at the config file's directory.
	if want := filepath.Join(dir, "state/replyclaw.db"); cfg.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, want)
	}
	if want := filepath.Join(dir, "state/profile"); cfg.Session.ProfileDir != want {
		t.Errorf("Session.ProfileDir = %q, want %q", cfg.Session.ProfileDir, want)
	}

	// Unset fields keep their defaults.
	if cfg.Session.MaxAge != 7*24*time.Hour {
		t.Errorf("Session.MaxAge = %v, want default", cfg.Session.MaxAge)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_FORM_LINK", "https://example.com/env-form")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("form_link: ${TEST_FORM_LINK}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FormLink != "https://example.com/env-form" {
		t.Errorf("FormLink = %q, want env expansion", cfg.FormLink)
	}
}
