package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Tinge services.
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Search   SearchConfig
	Usage    UsageConfig
	Realtime RealtimeConfig
}

// ServerConfig holds gateway HTTP server configuration.
type ServerConfig struct {
	Host        string
	Port        int
	FrontendURL string
	Environment string
	// DebugLogs gates info/debug output; warn/error are always emitted.
	DebugLogs bool
}

// UpstreamConfig holds the upstream model-service configuration.
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	// VerifyTimeout bounds the correction-verification completion call.
	VerifyTimeout time.Duration
	// VerifyModel is the completion model used for correction verification.
	VerifyModel string
	// TranscriptionModel is the audio transcription model.
	TranscriptionModel string
}

// SearchConfig holds the knowledge retrieval service configuration.
type SearchConfig struct {
	URL     string
	Timeout time.Duration
	// ForceEnglish forwards language=en regardless of the requested language.
	ForceEnglish bool
}

// UsageConfig holds token accounting configuration.
type UsageConfig struct {
	MaxTokensPerKey uint64
	LimitEnabled    bool
	SweepInterval   time.Duration
	ExpireAfter     time.Duration
}

// RealtimeConfig holds session defaults requested from the upstream realtime service.
type RealtimeConfig struct {
	Model string
	Voice string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3000,
			FrontendURL: "",
			Environment: "development",
			DebugLogs:   false,
		},
		Upstream: UpstreamConfig{
			BaseURL:            "https://api.openai.com/v1",
			APIKey:             "",
			VerifyTimeout:      8 * time.Second,
			VerifyModel:        "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
		},
		Search: SearchConfig{
			URL:          "",
			Timeout:      8 * time.Second,
			ForceEnglish: false,
		},
		Usage: UsageConfig{
			MaxTokensPerKey: 15000,
			LimitEnabled:    true,
			SweepInterval:   15 * time.Minute,
			ExpireAfter:     time.Hour,
		},
		Realtime: RealtimeConfig{
			Model: "gpt-4o-realtime-preview",
			Voice: "alloy",
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envUint64 loads an unsigned integer environment variable into the target pointer if set and valid
func envUint64(key string, target *uint64) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			*target = i
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// envDuration loads a duration environment variable into the target pointer if set and valid
func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

// Load loads configuration from environment variables over defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	envString("OPENAI_API_KEY", &cfg.Upstream.APIKey)
	envString("OPENAI_BASE_URL", &cfg.Upstream.BaseURL)
	envDuration("VERIFY_TIMEOUT", &cfg.Upstream.VerifyTimeout)
	envString("VERIFY_MODEL", &cfg.Upstream.VerifyModel)
	envString("TRANSCRIPTION_MODEL", &cfg.Upstream.TranscriptionModel)

	envString("FRONTEND_URL", &cfg.Server.FrontendURL)
	envString("HOST", &cfg.Server.Host)
	envInt("PORT", &cfg.Server.Port)
	envString("ENVIRONMENT", &cfg.Server.Environment)
	envBool("TINGE_BACKEND_DEBUG_LOGS", &cfg.Server.DebugLogs)

	envString("KNOWLEDGE_SEARCH_URL", &cfg.Search.URL)
	envDuration("KNOWLEDGE_SEARCH_TIMEOUT", &cfg.Search.Timeout)
	envBool("KNOWLEDGE_SEARCH_FORCE_EN", &cfg.Search.ForceEnglish)

	envUint64("MAX_TOKENS_PER_KEY", &cfg.Usage.MaxTokensPerKey)
	envBool("TOKEN_LIMIT_ENABLED", &cfg.Usage.LimitEnabled)

	envString("REALTIME_MODEL", &cfg.Realtime.Model)
	envString("REALTIME_VOICE", &cfg.Realtime.Voice)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}
	if c.Server.FrontendURL != "" && !isValidURL(c.Server.FrontendURL) {
		errs = append(errs, "frontend URL must be a valid URL")
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, "upstream base URL is required")
	} else if !isValidURL(c.Upstream.BaseURL) {
		errs = append(errs, "upstream base URL must be a valid URL")
	}
	if c.Upstream.VerifyTimeout <= 0 {
		errs = append(errs, "verify timeout must be positive")
	}

	if c.Search.URL != "" && !isValidURL(c.Search.URL) {
		errs = append(errs, "knowledge search URL must be a valid URL")
	}
	if c.Search.Timeout <= 0 {
		errs = append(errs, "knowledge search timeout must be positive")
	}

	if c.Usage.MaxTokensPerKey < 1 {
		errs = append(errs, "max tokens per key must be positive")
	}
	if c.Usage.SweepInterval <= 0 {
		errs = append(errs, "usage sweep interval must be positive")
	}
	if c.Usage.ExpireAfter <= 0 {
		errs = append(errs, "usage expire-after must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HasAPIKey reports whether the upstream API key is configured.
func (c *Config) HasAPIKey() bool {
	return c.Upstream.APIKey != ""
}

// IsSearchConfigured reports whether the knowledge retrieval service is configured.
func (c *Config) IsSearchConfigured() bool {
	return c.Search.URL != ""
}
