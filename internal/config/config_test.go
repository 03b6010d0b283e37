package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}
	return path
}

const baseYAML = `
github:
  webhook_secret: "yaml-secret"
  token: "yaml-token"
  mentioned_user: "devbot"
allowed_owners: ["acme"]
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Slots) != 3 {
		t.Errorf("expected 3 default slots, got %v", cfg.Slots)
	}
	if cfg.TaskTimeout() != 30*time.Minute {
		t.Errorf("expected 30m task timeout, got %s", cfg.TaskTimeout())
	}
	if cfg.DedupWindow() != 10*time.Minute {
		t.Errorf("expected 10m dedup window, got %s", cfg.DedupWindow())
	}
	if cfg.WebhookPort != 8090 {
		t.Errorf("expected webhook port 8090, got %d", cfg.WebhookPort)
	}
	if cfg.WebhookPath != "/webhook" {
		t.Errorf("expected /webhook, got %s", cfg.WebhookPath)
	}
	if cfg.Worker.Command != "dispatchd-worker" {
		t.Errorf("unexpected worker command %s", cfg.Worker.Command)
	}
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML+`
slots: ["alpha", "beta"]
task_timeout_minutes: 45
dedup_window_minutes: 5
webhook_port: 9191
log_level: "debug"
repos:
  acme/widgets:
    single_queue: true
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Slots) != 2 || cfg.Slots[0] != "alpha" {
		t.Errorf("unexpected slots %v", cfg.Slots)
	}
	if cfg.TaskTimeoutMinutes != 45 {
		t.Errorf("expected 45, got %d", cfg.TaskTimeoutMinutes)
	}
	if cfg.WebhookPort != 9191 {
		t.Errorf("expected 9191, got %d", cfg.WebhookPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", cfg.LogLevel)
	}
	if !cfg.Repos["acme/widgets"].SingleQueue {
		t.Error("expected acme/widgets to be single-queue")
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "env-secret")
	t.Setenv("DISPATCHD_SLOTS", "one, two ,three")
	t.Setenv("DISPATCHD_TASK_TIMEOUT_MINUTES", "60")
	t.Setenv("DISPATCHD_ALLOWED_OWNERS", "acme,example")

	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.GitHub.WebhookSecret != "env-secret" {
		t.Errorf("env did not override secret, got %s", cfg.GitHub.WebhookSecret)
	}
	if len(cfg.Slots) != 3 || cfg.Slots[1] != "two" {
		t.Errorf("slot list not parsed from env: %v", cfg.Slots)
	}
	if cfg.TaskTimeoutMinutes != 60 {
		t.Errorf("expected 60, got %d", cfg.TaskTimeoutMinutes)
	}
	if len(cfg.AllowedOwners) != 2 {
		t.Errorf("owners not parsed from env: %v", cfg.AllowedOwners)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("GITHUB_WEBHOOK_SECRET", "s")
	t.Setenv("GITHUB_TOKEN", "t")
	t.Setenv("GITHUB_MENTIONED_USER", "devbot")
	t.Setenv("DISPATCHD_ALLOWED_OWNERS", "acme")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to env: %v", err)
	}
	if cfg.GitHub.Token != "t" {
		t.Errorf("unexpected token %s", cfg.GitHub.Token)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing secret", `
github:
  token: "t"
  mentioned_user: "devbot"
allowed_owners: ["acme"]
`},
		{"missing token", `
github:
  webhook_secret: "s"
  mentioned_user: "devbot"
allowed_owners: ["acme"]
`},
		{"missing owners", `
github:
  webhook_secret: "s"
  token: "t"
  mentioned_user: "devbot"
`},
		{"duplicate slots", baseYAML + `
slots: ["same", "same"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear ambient credentials so the YAML alone decides.
			for _, key := range []string{"GITHUB_WEBHOOK_SECRET", "GITHUB_TOKEN", "GITHUB_MENTIONED_USER", "DISPATCHD_ALLOWED_OWNERS"} {
				t.Setenv(key, "") // registers restoration
				os.Unsetenv(key)
			}
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestDevModeAdjustments(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML+`
dev_mode: true
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.WebhookHost != "127.0.0.1" {
		t.Errorf("dev mode should bind loopback, got %s", cfg.WebhookHost)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("dev mode should use text logs, got %s", cfg.LogFormat)
	}
}
