package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	apperrors "music-tutor/backend/pkg/errors"
)

// Credential store backends
const (
	CredentialStoreFile  = "file"
	CredentialStoreRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:""`

	// Reasoning engine (OpenAI-compatible endpoint)
	LLMBaseURL string        `envconfig:"LLM_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai"`
	LLMModel   string        `envconfig:"LLM_MODEL" default:"gemini-2.5-flash"`
	LLMTimeout time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`

	// Audio analysis backend
	ReplicateBaseURL string        `envconfig:"REPLICATE_BASE_URL" default:"https://api.replicate.com"`
	AudioModel       string        `envconfig:"AUDIO_MODEL" default:"zsxkib/audio-flamingo-3"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	JobTimeout       time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`

	// Constrained-forwarding intermediary. An empty ProxyURL means this
	// server's own /api/proxy route.
	ProxyURL          string        `envconfig:"PROXY_URL" default:""`
	ProxyAllowedHosts []string      `envconfig:"PROXY_ALLOWED_HOSTS" default:"api.replicate.com,replicate.com"`
	ProxyTimeout      time.Duration `envconfig:"PROXY_TIMEOUT" default:"60s"`

	// Agent
	MaxTurns int `envconfig:"MAX_TURNS" default:"16"`

	// Credential persistence
	CredentialStore string `envconfig:"CREDENTIAL_STORE" default:"file"`
	CredentialsFile string `envconfig:"CREDENTIALS_FILE" default:"music_agent_keys.json"`
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB         int    `envconfig:"REDIS_DB" default:"0"`

	// Credential overrides. These win over anything persisted.
	Overrides CredentialOverrides `ignored:"true"`
}

// CredentialOverrides are the environment-provided credential values
type CredentialOverrides struct {
	Gemini      string `envconfig:"GEMINI_API_KEY"`
	Replicate   string `envconfig:"REPLICATE_API_KEY"`
	HuggingFace string `envconfig:"HF_API_KEY"`
	EndpointURL string `envconfig:"CHAT_MUSICIAN_ENDPOINT"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration without reading a .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Overrides); err != nil {
		return nil, fmt.Errorf("failed to load credential overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return apperrors.NewConfigValidationFailed("PORT", "is required")
	case c.LLMBaseURL == "":
		return apperrors.NewConfigValidationFailed("LLM_BASE_URL", "is required")
	case c.LLMModel == "":
		return apperrors.NewConfigValidationFailed("LLM_MODEL", "is required")
	case !strings.Contains(c.AudioModel, "/"):
		return apperrors.NewConfigValidationFailed("AUDIO_MODEL", fmt.Sprintf("must be owner/name, got %q", c.AudioModel))
	case c.LLMTimeout <= 0:
		return apperrors.NewConfigValidationFailed("LLM_TIMEOUT", "must be positive")
	case c.PollInterval <= 0:
		return apperrors.NewConfigValidationFailed("POLL_INTERVAL", "must be positive")
	case c.JobTimeout < 0:
		return apperrors.NewConfigValidationFailed("JOB_TIMEOUT", "must not be negative")
	case c.MaxTurns <= 0:
		return apperrors.NewConfigValidationFailed("MAX_TURNS", "must be positive")
	case len(c.ProxyAllowedHosts) == 0:
		return apperrors.NewConfigValidationFailed("PROXY_ALLOWED_HOSTS", "must list at least one host")
	}

	switch c.CredentialStore {
	case CredentialStoreFile:
		if c.CredentialsFile == "" {
			return apperrors.NewConfigValidationFailed("CREDENTIALS_FILE", "is required for the file credential store")
		}
	case CredentialStoreRedis:
		if c.RedisAddr == "" {
			return apperrors.NewConfigValidationFailed("REDIS_ADDR", "is required for the redis credential store")
		}
	default:
		return apperrors.NewConfigValidationFailed("CREDENTIAL_STORE", fmt.Sprintf("must be file or redis, got %q", c.CredentialStore))
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EffectiveProxyURL returns the intermediary used for audio-backend calls
func (c *Config) EffectiveProxyURL() string {
	if c.ProxyURL != "" {
		return strings.TrimRight(c.ProxyURL, "/")
	}
	return fmt.Sprintf("http://localhost:%s/api/proxy", c.Port)
}
