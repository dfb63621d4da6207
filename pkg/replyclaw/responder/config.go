// Package responder wires the subsystems into one service: browser,
// session store, detection engine, cooldown tracker, dispatcher and
// monitor loop, plus the maintenance jobs that keep them healthy.
package responder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/browser"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/detect"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/monitor"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/reply"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/session"
)

// Config holds the full service configuration.
type Config struct {
	// DatabasePath is the SQLite file holding backup metadata.
	DatabasePath string `yaml:"database_path"`

	// FormLink is substituted into templates as {form_link}.
	FormLink string `yaml:"form_link"`

	// SenderName signs outgoing replies as {sender_name}.
	SenderName string `yaml:"sender_name"`

	// ActiveTemplate selects the reply template at startup.
	ActiveTemplate string `yaml:"active_template"`

	// Browser configures the driven Chrome instance.
	Browser browser.Config `yaml:"browser"`

	// Session configures validation, backups and retention.
	Session session.Config `yaml:"session"`

	// Detection tunes the scan strategies.
	Detection detect.Config `yaml:"detection"`

	// Cooldown configures duplicate-reply suppression.
	Cooldown reply.CooldownConfig `yaml:"cooldown"`

	// Dispatch tunes delivery confirmation.
	Dispatch reply.DispatcherConfig `yaml:"dispatch"`

	// Monitor configures the cycle loop.
	Monitor monitor.Config `yaml:"monitor"`

	// API configures the status/control HTTP server.
	API APIConfig `yaml:"api"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	// Enabled starts the HTTP server when true.
	Enabled bool `yaml:"enabled"`
	// Address is the listen address (e.g. ":8080").
	Address string `yaml:"address"`
	// WebhookVerifyToken is matched against hub.verify_token on webhook
	// verification requests.
	WebhookVerifyToken string `yaml:"webhook_verify_token"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with every subsystem at its defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:   "data/replyclaw.db",
		SenderName:     envOr("REPLYCLAW_SENDER_NAME", "Advisor"),
		ActiveTemplate: "default",
		Browser:        browser.DefaultConfig(),
		Session:        session.DefaultConfig(),
		Detection:      detect.DefaultConfig(),
		Cooldown:       reply.DefaultCooldownConfig(),
		Dispatch:       reply.DefaultDispatcherConfig(),
		Monitor:        monitor.DefaultConfig(),
		API: APIConfig{
			Enabled: true,
			Address: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfigFromFile reads a YAML configuration file over the defaults.
// .env files are loaded first so ${VAR} values in the environment are
// available to the process.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if cfg.FormLink == "" {
		cfg.FormLink = os.Getenv("REPLYCLAW_FORM_LINK")
	}
	if cfg.API.WebhookVerifyToken == "" {
		cfg.API.WebhookVerifyToken = os.Getenv("REPLYCLAW_WEBHOOK_VERIFY_TOKEN")
	}

	resolveRelativePaths(cfg, path)
	return cfg, nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"replyclaw.yaml",
		"replyclaw.yml",
		"configs/config.yaml",
		"configs/replyclaw.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envOr returns the named environment variable or the fallback when it
// is unset.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// loadEnvFiles loads .env files from standard locations, silently
// skipping missing ones.
func loadEnvFiles() {
	for _, path := range []string{".env", ".env.local"} {
		_ = godotenv.Load(path)
	}
}

// resolveRelativePaths anchors relative path settings at the config file's
// directory, so the service behaves the same regardless of working dir.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	anchor := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	anchor(&cfg.DatabasePath)
	anchor(&cfg.Session.ProfileDir)
	anchor(&cfg.Session.BackupDir)
	anchor(&cfg.Browser.ProfileDir)
}
