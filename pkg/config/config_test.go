package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.RateLimiting.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_RateLimitingEnabled_RequiresValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero requests_per_second")
	}
}

func TestValidate_ReconnectBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "negative max attempts",
			mutate:  func(c *Config) { c.Session.Reconnect.MaxAttempts = -1 },
			wantErr: true,
		},
		{
			name:    "zero initial delay",
			mutate:  func(c *Config) { c.Session.Reconnect.InitialDelay = 0 },
			wantErr: true,
		},
		{
			name:    "max delay below initial delay",
			mutate:  func(c *Config) { c.Session.Reconnect.MaxDelay = time.Millisecond },
			wantErr: true,
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *Config) { c.Session.Reconnect.Multiplier = 0.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidate_TracingEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default jaeger URL to be valid, got error: %v", err)
	}

	cfg.Tracing.JaegerURL = "ftp://collector:14268"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for non-http jaeger URL")
	}

	cfg.Tracing.JaegerURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty jaeger URL")
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default server address, got %q", cfg.Server.Address)
	}
}

func TestLoad_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":9999"
session:
  offer_wait_timeout: 10s
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("expected overridden address, got %q", cfg.Server.Address)
	}
	if cfg.Session.OfferWaitTimeout != 10*time.Second {
		t.Fatalf("expected 10s offer wait timeout, got %v", cfg.Session.OfferWaitTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PEERCALL_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env override, got %q", cfg.Logging.Level)
	}
}
