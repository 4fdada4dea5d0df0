package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Usage.MaxTokensPerKey != 15000 {
		t.Errorf("expected default token limit 15000, got %d", cfg.Usage.MaxTokensPerKey)
	}
	if !cfg.Usage.LimitEnabled {
		t.Error("expected token limit enabled by default")
	}
	if cfg.Usage.SweepInterval != 15*time.Minute {
		t.Errorf("expected 15m sweep interval, got %v", cfg.Usage.SweepInterval)
	}
	if cfg.Usage.ExpireAfter != time.Hour {
		t.Errorf("expected 1h expire-after, got %v", cfg.Usage.ExpireAfter)
	}
	if cfg.Server.DebugLogs {
		t.Error("expected debug logs off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "8081")
	t.Setenv("MAX_TOKENS_PER_KEY", "5000")
	t.Setenv("TOKEN_LIMIT_ENABLED", "false")
	t.Setenv("FRONTEND_URL", "https://tinge.example.com")
	t.Setenv("TINGE_BACKEND_DEBUG_LOGS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Upstream.APIKey != "sk-test" {
		t.Errorf("expected API key from env, got %q", cfg.Upstream.APIKey)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Usage.MaxTokensPerKey != 5000 {
		t.Errorf("expected limit 5000, got %d", cfg.Usage.MaxTokensPerKey)
	}
	if cfg.Usage.LimitEnabled {
		t.Error("expected limit disabled")
	}
	if cfg.Server.FrontendURL != "https://tinge.example.com" {
		t.Errorf("unexpected frontend URL %q", cfg.Server.FrontendURL)
	}
	if !cfg.Server.DebugLogs {
		t.Error("expected debug logs enabled")
	}
}

func TestLoadInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("MAX_TOKENS_PER_KEY", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port when env invalid, got %d", cfg.Server.Port)
	}
	if cfg.Usage.MaxTokensPerKey != 15000 {
		t.Errorf("expected default limit when env invalid, got %d", cfg.Usage.MaxTokensPerKey)
	}
}

func TestValidateErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Upstream.BaseURL = "not a url"
	cfg.Search.URL = "::bad::"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
}
