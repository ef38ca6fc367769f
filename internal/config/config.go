// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	DatabaseURL         string
	GeminiAPIKey        string
	LogLevel            string
	HTTPAddr            string
	WebhookSecret       string
	PluggyClientID      string
	PluggyClientSecret  string
	PluggyBaseURL       string
	BelvoSecretID       string
	BelvoSecretPassword string
	BelvoBaseURL        string
	SyncInterval        time.Duration
	SyncLookbackDays    int
	PollAttempts        int
	PollInterval        time.Duration
	OTLPEndpoint        string
	ProviderHTTPTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		HTTPAddr:            os.Getenv("HTTP_ADDR"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		PluggyClientID:      os.Getenv("PLUGGY_CLIENT_ID"),
		PluggyClientSecret:  os.Getenv("PLUGGY_CLIENT_SECRET"),
		PluggyBaseURL:       os.Getenv("PLUGGY_BASE_URL"),
		BelvoSecretID:       os.Getenv("BELVO_SECRET_ID"),
		BelvoSecretPassword: os.Getenv("BELVO_SECRET_PASSWORD"),
		BelvoBaseURL:        os.Getenv("BELVO_BASE_URL"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.SyncInterval = 6 * time.Hour
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SyncInterval = d
		}
	}

	cfg.SyncLookbackDays = 30
	if v := os.Getenv("SYNC_LOOKBACK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			cfg.SyncLookbackDays = n
		}
	}

	cfg.PollAttempts = 10
	if v := os.Getenv("POLL_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollAttempts = n
		}
	}

	cfg.PollInterval = 5 * time.Second
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}

	cfg.ProviderHTTPTimeout = 30 * time.Second
	if v := os.Getenv("PROVIDER_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ProviderHTTPTimeout = d
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present.
func (c *Config) validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if !c.PluggyEnabled() && !c.BelvoEnabled() {
		errs = append(errs, "at least one provider credential pair (PLUGGY_CLIENT_ID/PLUGGY_CLIENT_SECRET or BELVO_SECRET_ID/BELVO_SECRET_PASSWORD) is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// PluggyEnabled reports whether Pluggy credentials are configured.
func (c *Config) PluggyEnabled() bool {
	return c.PluggyClientID != "" && c.PluggyClientSecret != ""
}

// BelvoEnabled reports whether Belvo credentials are configured.
func (c *Config) BelvoEnabled() bool {
	return c.BelvoSecretID != "" && c.BelvoSecretPassword != ""
}
