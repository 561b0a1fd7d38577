package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.VideoSize != "720x1280" {
		t.Errorf("VideoSize = %q, want 720x1280", cfg.VideoSize)
	}
	if cfg.KeyframeMode != "auto" {
		t.Errorf("KeyframeMode = %q, want auto", cfg.KeyframeMode)
	}
	if cfg.JobTTL != time.Hour {
		t.Errorf("JobTTL = %v, want 1h", cfg.JobTTL)
	}
	if cfg.SettleInitialDelay != 90*time.Second {
		t.Errorf("SettleInitialDelay = %v, want 90s", cfg.SettleInitialDelay)
	}
	if cfg.SettleMaxAttempts != 4 {
		t.Errorf("SettleMaxAttempts = %d, want 4", cfg.SettleMaxAttempts)
	}
}

func TestLoadConfigRequiredFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL missing")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when JWT_SECRET missing")
	}
}

func TestLoadConfigRejectsBadKeyframeMode(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("KEYFRAME_MODE", "sometimes")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for invalid KEYFRAME_MODE")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SETTLE_RETRY_DELAY_SECONDS", "5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SettleRetryDelay != 5*time.Second {
		t.Errorf("SettleRetryDelay = %v, want 5s", cfg.SettleRetryDelay)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Errorf("RateLimitPerMin = %d, want 120", cfg.RateLimitPerMin)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
