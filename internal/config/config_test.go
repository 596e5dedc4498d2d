package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "ENV", "SWEEP_INTERVAL", "SWEEP_ENABLED", "REMINDER_COOLDOWN", "CLOCK_TIMEZONE", "AUTH_MODE", "REDIS_HOST", "RATE_LIMIT_PER_MINUTE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}
	if cfg.SweepInterval != 15*time.Minute {
		t.Errorf("expected sweep interval 15m, got %v", cfg.SweepInterval)
	}
	if !cfg.SweepEnabled {
		t.Error("sweep should be enabled by default")
	}
	if cfg.ReminderCooldown != 2*time.Hour {
		t.Errorf("expected cooldown 2h, got %v", cfg.ReminderCooldown)
	}
	if cfg.Location != time.UTC {
		t.Errorf("expected UTC, got %v", cfg.Location)
	}
	if cfg.AuthMode != "username" {
		t.Errorf("expected auth mode 'username', got %s", cfg.AuthMode)
	}
	if cfg.RedisEnabled() {
		t.Error("redis should be disabled without REDIS_HOST")
	}
	if cfg.RateLimitPerMinute != 100 {
		t.Errorf("expected rate limit 100, got %d", cfg.RateLimitPerMinute)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENV", "production")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("SWEEP_ENABLED", "false")
	t.Setenv("REMINDER_COOLDOWN", "90m")
	t.Setenv("CLOCK_TIMEZONE", "Asia/Kolkata")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SQS_REGION", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("expected sweep interval 5m, got %v", cfg.SweepInterval)
	}
	if cfg.SweepEnabled {
		t.Error("expected sweep disabled")
	}
	if cfg.ReminderCooldown != 90*time.Minute {
		t.Errorf("expected cooldown 90m, got %v", cfg.ReminderCooldown)
	}
	if cfg.Location.String() != "Asia/Kolkata" {
		t.Errorf("expected Asia/Kolkata, got %v", cfg.Location)
	}
	if cfg.AuthMode != "jwt" {
		t.Errorf("expected auth mode jwt, got %s", cfg.AuthMode)
	}
	if !cfg.RedisEnabled() {
		t.Error("redis should be enabled")
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("SQS region should fall back to AWS_REGION, got %s", cfg.SQSRegion)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "abc"},
		{"REDIS_PORT", "six"},
		{"SWEEP_INTERVAL", "often"},
		{"SWEEP_INTERVAL", "-1m"},
		{"SWEEP_ENABLED", "sometimes"},
		{"REMINDER_COOLDOWN", "0s"},
		{"CLOCK_TIMEZONE", "Mars/Olympus"},
		{"RATE_LIMIT_PER_MINUTE", "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
