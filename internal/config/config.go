// Package config handles loading and validating cargobot configuration.
//
// Configuration is a YAML file plus environment overrides. Secrets (bot
// token, LLM API keys) come exclusively from the environment and are never
// written to config files or logs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists.
	_ = godotenv.Load()
}

// Config is the root configuration for cargobot.
type Config struct {
	Telegram      TelegramConfig       `yaml:"telegram"`
	Backend       BackendConfig        `yaml:"backend"`
	LLM           LLMConfig            `yaml:"llm"`
	Assistant     AssistantConfig      `yaml:"assistant"`
	Session       SessionConfig        `yaml:"session"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	Ops           *OpsConfig           `yaml:"ops,omitempty"`           // nil = ops server disabled
	Observability *ObservabilityConfig `yaml:"observability,omitempty"` // nil = metrics/tracing disabled
}

// TelegramConfig configures the Telegram gateway.
type TelegramConfig struct {
	BotToken    string           `yaml:"-"`                     // From TELEGRAM_BOT_TOKEN env var only.
	WebhookURL  string           `yaml:"webhook_url,omitempty"` // If set, webhook mode; else long polling.
	ListenAddr  string           `yaml:"listen_addr,omitempty"` // For webhook mode.
	PollTimeout int              `yaml:"poll_timeout,omitempty"`
	Staff       map[string]int64 `yaml:"staff"` // Telegram user ID (string) → employee ID.
}

// BackendConfig configures the CRM API collaborator.
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	CompanyID int64  `yaml:"company_id"`
	TimeoutS  int    `yaml:"timeout_s,omitempty"` // Default: 15.
}

// Timeout returns the backend request timeout.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutS > 0 {
		return time.Duration(b.TimeoutS) * time.Second
	}
	return 15 * time.Second
}

// ProviderConfig describes one LLM provider.
type ProviderConfig struct {
	Type    string `yaml:"type"`               // "openai", "gemini", "ollama"
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"` // For OpenAI-compatible servers.
	APIKey  string `yaml:"-"`                  // From OPENAI_API_KEY / GEMINI_API_KEY env vars.
}

// LLMConfig configures the language-model collaborator.
type LLMConfig struct {
	Primary   ProviderConfig   `yaml:"primary"`
	Fallbacks []ProviderConfig `yaml:"fallbacks,omitempty"`
	TimeoutS  int              `yaml:"timeout_s,omitempty"`  // Default: 60.
	MaxTokens int              `yaml:"max_tokens,omitempty"` // Default: 2048.
}

// Timeout returns the model call deadline after which the user is told the
// model is slow rather than waiting indefinitely.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutS > 0 {
		return time.Duration(l.TimeoutS) * time.Second
	}
	return 60 * time.Second
}

// AssistantConfig tunes the command-dispatch core.
type AssistantConfig struct {
	PendingTTLMin int `yaml:"pending_ttl_m,omitempty"` // Default: 10 minutes.
	HistoryLimit  int `yaml:"history_limit,omitempty"` // Default: 20 turns.
}

// PendingTTL returns the validity window of an unconfirmed proposal.
func (a AssistantConfig) PendingTTL() time.Duration {
	if a.PendingTTLMin > 0 {
		return time.Duration(a.PendingTTLMin) * time.Minute
	}
	return 10 * time.Minute
}

// HistoryCap returns the dialog-history length kept per conversation.
func (a AssistantConfig) HistoryCap() int {
	if a.HistoryLimit > 0 {
		return a.HistoryLimit
	}
	return 20
}

// SessionConfig configures conversation-state persistence.
type SessionConfig struct {
	SQLitePath string `yaml:"sqlite_path,omitempty"` // Default: data/cargobot.db.
}

// Path returns the SQLite database path.
func (s SessionConfig) Path() string {
	if s.SQLitePath != "" {
		return s.SQLitePath
	}
	return "data/cargobot.db"
}

// RateLimitConfig configures the per-chat rate limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"` // 0 = unlimited.
	BurstSize         int `yaml:"burst_size,omitempty"`
}

// OpsConfig configures the operational HTTP server (health, metrics).
type OpsConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path,omitempty"` // Default: /metrics.
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
}

// MetricsConfig enables the Prometheus collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Protocol    string  `yaml:"protocol,omitempty"` // "grpc" (default) or "http".
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRate  float64 `yaml:"sample_rate,omitempty"` // Default: 1.0.
	ServiceName string  `yaml:"service_name,omitempty"`
}

// Load reads the YAML config file, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv reads secrets and overrides from the environment.
func (c *Config) applyEnv() {
	c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if v := os.Getenv("CARGOBOT_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("CARGOBOT_COMPANY_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Backend.CompanyID = id
		}
	}

	applyProviderEnv(&c.LLM.Primary)
	for i := range c.LLM.Fallbacks {
		applyProviderEnv(&c.LLM.Fallbacks[i])
	}
}

func applyProviderEnv(p *ProviderConfig) {
	switch p.Type {
	case "gemini":
		p.APIKey = os.Getenv("GEMINI_API_KEY")
	case "openai":
		p.APIKey = os.Getenv("OPENAI_API_KEY")
	case "ollama":
		// Local server, no key.
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.CompanyID <= 0 {
		return fmt.Errorf("backend.company_id is required")
	}
	if c.LLM.Primary.Type == "" {
		return fmt.Errorf("llm.primary.type is required")
	}
	switch c.LLM.Primary.Type {
	case "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("unknown llm provider type %q", c.LLM.Primary.Type)
	}
	if c.Telegram.WebhookURL != "" && c.Telegram.ListenAddr == "" {
		return fmt.Errorf("telegram.listen_addr is required in webhook mode")
	}
	return nil
}
