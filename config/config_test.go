package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contentflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  request_timeout: 5s
storage:
  redis:
    addr: localhost:6379
    prefix: "cf:"
  file:
    path: /var/lib/contentflow/pipelines.json
webhook:
  require_signature: true
engine:
  text_service:
    url: http://text:8000
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Storage.Redis.Addr != "localhost:6379" || cfg.Storage.Redis.Prefix != "cf:" {
		t.Errorf("unexpected redis config %+v", cfg.Storage.Redis)
	}
	if cfg.Storage.File.Path != "/var/lib/contentflow/pipelines.json" {
		t.Errorf("unexpected file path %q", cfg.Storage.File.Path)
	}
	if !cfg.Webhook.RequireSignature {
		t.Error("expected require_signature")
	}
	if cfg.Engine.TextService.URL != "http://text:8000" {
		t.Errorf("unexpected text service url %q", cfg.Engine.TextService.URL)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Level != "info" || cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("defaults lost: %+v %+v", cfg.Logging, cfg.Server)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFromFile(writeConfig(t, "server: [not, a, map")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "server:\n  addr: \":9090\"\nlogging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	lookuper := envconfig.MapLookuper(map[string]string{
		"CONTENTFLOW_SERVER_ADDR":                 ":7070",
		"CONTENTFLOW_STORAGE_POSTGRES_URL":        "postgres://localhost/cf",
		"CONTENTFLOW_WEBHOOK_TOLERANCE":           "2m",
		"CONTENTFLOW_AUTH_JWT_SECRET":             "shh",
		"CONTENTFLOW_DISPATCH_RETRY_MAX_RETRIES":  "7",
		"CONTENTFLOW_ENGINE_TEXT_SERVICE_API_KEY": "k",
		"SERVER_ADDR":                             ":1",
	})
	if err := ApplyEnv(context.Background(), cfg, lookuper); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected env to override addr, got %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("file value without env override lost: %q", cfg.Logging.Level)
	}
	if cfg.Storage.Postgres.URL != "postgres://localhost/cf" {
		t.Errorf("unexpected postgres url %q", cfg.Storage.Postgres.URL)
	}
	if cfg.Webhook.Tolerance != 2*time.Minute {
		t.Errorf("unexpected tolerance %v", cfg.Webhook.Tolerance)
	}
	if cfg.Auth.JWTSecret != "shh" || cfg.Dispatch.Retry.MaxRetries != 7 || cfg.Engine.TextService.APIKey != "k" {
		t.Errorf("nested overrides missing: %+v %+v", cfg.Auth, cfg.Dispatch.Retry)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative tolerance", func(c *Config) { c.Webhook.Tolerance = -time.Second }, "webhook.tolerance"},
		{"burst required", func(c *Config) { c.Webhook.Burst = 0 }, "webhook.burst"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "tracing.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
