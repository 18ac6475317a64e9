package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Polling.RestrictiveForeground != 30*time.Second {
		t.Fatalf("restrictive foreground interval = %s, want 30s", cfg.Polling.RestrictiveForeground)
	}
	if cfg.Polling.StandardInterval != time.Minute || cfg.Polling.RestrictiveBackground != time.Minute {
		t.Fatalf("unexpected 60s intervals: %+v", cfg.Polling)
	}
	if cfg.Worker.CacheName != "btc-alert-v1" {
		t.Fatalf("cache name = %q", cfg.Worker.CacheName)
	}
	if len(cfg.Worker.ShellAssets) != len(DefaultShellAssets) {
		t.Fatalf("shell assets = %v", cfg.Worker.ShellAssets)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
platform:
  profile: restrictive
polling:
  restrictive_foreground: 15s
storage:
  driver: memory
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Platform.Profile != "restrictive" {
		t.Fatalf("profile = %q", cfg.Platform.Profile)
	}
	if cfg.Polling.RestrictiveForeground != 15*time.Second {
		t.Fatalf("restrictive foreground = %s", cfg.Polling.RestrictiveForeground)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return *cfg
	}

	cases := map[string]func(*Config){
		"zero interval":     func(c *Config) { c.Polling.StandardInterval = 0 },
		"bad profile":       func(c *Config) { c.Platform.Profile = "desktop" },
		"postgres no dsn":   func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" },
		"ntfy no topic":     func(c *Config) { c.Notify.Surface = "ntfy"; c.Notify.Ntfy.Topic = "" },
		"telegram no token": func(c *Config) { c.Notify.Surface = "telegram" },
		"bad prompt":        func(c *Config) { c.Notify.Prompt = "ask" },
		"empty manifest":    func(c *Config) { c.Worker.ShellAssets = nil },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
