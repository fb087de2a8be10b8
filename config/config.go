// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/contentflow/engine"
	"github.com/GoCodeAlone/contentflow/metrics"
	"github.com/GoCodeAlone/contentflow/observability/tracing"
	"github.com/GoCodeAlone/contentflow/store"
	"github.com/GoCodeAlone/contentflow/webhook"
)

// EnvPrefix prefixes every environment override, e.g.
// CONTENTFLOW_STORAGE_REDIS_ADDR.
const EnvPrefix = "CONTENTFLOW_"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// AuthConfig configures bearer authentication of the management API.
// Authentication is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// WebhookConfig configures inbound webhook handling.
type WebhookConfig struct {
	RequireSignature bool          `yaml:"require_signature" env:"REQUIRE_SIGNATURE"`
	Tolerance        time.Duration `yaml:"tolerance" env:"TOLERANCE"`
	// RateLimit is requests per second per client IP; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

// EngineConfig configures the execution engine's collaborators.
type EngineConfig struct {
	TextService engine.TextServiceConfig `yaml:"text_service" env:",prefix=TEXT_SERVICE_"`
	Fetcher     engine.FetcherConfig     `yaml:"fetcher" env:",prefix=FETCHER_"`
}

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig           `yaml:"server" env:",prefix=SERVER_"`
	Logging  LoggingConfig          `yaml:"logging" env:",prefix=LOGGING_"`
	Auth     AuthConfig             `yaml:"auth" env:",prefix=AUTH_"`
	Webhook  WebhookConfig          `yaml:"webhook" env:",prefix=WEBHOOK_"`
	Storage  store.Config           `yaml:"storage" env:",prefix=STORAGE_"`
	Engine   EngineConfig           `yaml:"engine" env:",prefix=ENGINE_"`
	Dispatch webhook.DispatchConfig `yaml:"dispatch" env:",prefix=DISPATCH_"`
	Metrics  metrics.Config         `yaml:"metrics" env:",prefix=METRICS_"`
	Tracing  tracing.Config         `yaml:"tracing" env:",prefix=TRACING_"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Webhook: WebhookConfig{
			Tolerance: webhook.DefaultTolerance,
			RateLimit: 5,
			Burst:     10,
		},
		Engine: EngineConfig{
			Fetcher: engine.FetcherConfig{Enabled: true, MaxBytes: engine.DefaultMaxFetchBytes},
		},
		Dispatch: webhook.DispatchConfig{Retry: webhook.DefaultRetryConfig()},
		Metrics:  metrics.DefaultConfig(),
		Tracing:  tracing.DefaultConfig(),
	}
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with CONTENTFLOW_* variables found by lookuper.
// A nil lookuper reads the process environment.
func ApplyEnv(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           cfg,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	})
	if err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(ctx, cfg, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	if c.Webhook.Tolerance < 0 {
		errs = append(errs, errors.New("webhook.tolerance must not be negative"))
	}
	if c.Webhook.RateLimit < 0 || c.Webhook.Burst < 0 {
		errs = append(errs, errors.New("webhook rate limit and burst must not be negative"))
	}
	if c.Webhook.RateLimit > 0 && c.Webhook.Burst == 0 {
		errs = append(errs, errors.New("webhook.burst must be positive when rate_limit is set"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be within [0, 1]"))
	}
	if c.Dispatch.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("dispatch.retry.max_retries must not be negative"))
	}
	return errors.Join(errs...)
}
