package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mixelka/jobmail-ingest/internal/relevance"
)

// Config application configuration
type Config struct {
	// IMAP
	IMAPUser           string        `env:"IMAP_USER,required,notEmpty"`
	IMAPPassword       string        `env:"IMAP_PASSWORD,required,notEmpty"`
	IMAPServer         string        `env:"IMAP_SERVER"` // host:port, resolved from IMAP_USER when empty
	IMAPMailbox        string        `env:"IMAP_MAILBOX" envDefault:"INBOX"`
	IMAPDialTimeout    time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPCommandTimeout time.Duration `env:"IMAP_COMMAND_TIMEOUT" envDefault:"60s"`

	// Ingestion
	BatchLimit     int           `env:"INGEST_BATCH_LIMIT" envDefault:"200"`
	MaxInitialSync int           `env:"INGEST_MAX_INITIAL_SYNC" envDefault:"500"`
	IncludeAlerts  bool          `env:"INGEST_INCLUDE_ALERTS" envDefault:"false"`
	Interval       time.Duration `env:"INGEST_INTERVAL" envDefault:"0s"` // 0 disables the scheduler
	FetchRetries   int           `env:"INGEST_FETCH_RETRIES" envDefault:"3"`
	FetchBackoff   time.Duration `env:"INGEST_FETCH_BACKOFF" envDefault:"2s"`
	ParseWorkers   int           `env:"INGEST_PARSE_WORKERS" envDefault:"1"`
	MaxBodyChars   int           `env:"INGEST_MAX_BODY_CHARS" envDefault:"12000"`

	// Heuristics
	HeuristicModelVersion string   `env:"HEURISTIC_MODEL_VERSION" envDefault:"h1"`
	RelevantThreshold     float64  `env:"HEURISTIC_RELEVANT_THRESHOLD" envDefault:"0.66"`
	SkipThreshold         float64  `env:"HEURISTIC_SKIP_THRESHOLD" envDefault:"0.33"`
	StoreThreshold        float64  `env:"CONTENT_STORE_THRESHOLD" envDefault:"0.6"`
	ExtraATSDomains       []string `env:"HEURISTIC_EXTRA_ATS_DOMAINS" envSeparator:","`
	ExtraKeywords         []string `env:"HEURISTIC_EXTRA_KEYWORDS" envSeparator:","`

	// Per-rule weights, e.g. HEURISTIC_WEIGHT_ATS_DOMAIN=0.4. Unset keys keep the defaults.
	Weights relevance.Weights `envPrefix:"HEURISTIC_WEIGHT_"`

	// LLM
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITimeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"60s"`
	OpenAIRateIn  float64       `env:"OPENAI_RATE_IN"`  // USD per 1M prompt tokens, 0 uses the built-in table
	OpenAIRateOut float64       `env:"OPENAI_RATE_OUT"` // USD per 1M completion tokens

	// Event log
	LogRetention int `env:"LOG_RETENTION" envDefault:"5000"`
	LogReplayMax int `env:"LOG_REPLAY_MAX" envDefault:"500"`
	StreamBuffer int `env:"STREAM_BUFFER" envDefault:"64"`

	// HTTP
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/ingest.db"`

	// Telegram notifications (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramEnabled returns true if Telegram notifications are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// LLMEnabled returns true if an API key for the extraction model is set
func (c *Config) LLMEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{Weights: relevance.DefaultWeights()}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.SkipThreshold < 0 || c.RelevantThreshold > 1 || c.SkipThreshold >= c.RelevantThreshold {
		return fmt.Errorf("heuristic thresholds must satisfy 0 <= skip < relevant <= 1, got skip=%.2f relevant=%.2f",
			c.SkipThreshold, c.RelevantThreshold)
	}
	if c.StoreThreshold < 0 || c.StoreThreshold > 1 {
		return fmt.Errorf("CONTENT_STORE_THRESHOLD must be within [0,1], got %.2f", c.StoreThreshold)
	}
	if c.StoreThreshold <= c.Weights.Base {
		return fmt.Errorf("CONTENT_STORE_THRESHOLD must exceed HEURISTIC_WEIGHT_BASE, got store=%.2f base=%.2f",
			c.StoreThreshold, c.Weights.Base)
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("INGEST_BATCH_LIMIT must be positive, got %d", c.BatchLimit)
	}
	if c.MaxInitialSync < 0 {
		return fmt.Errorf("INGEST_MAX_INITIAL_SYNC must not be negative, got %d", c.MaxInitialSync)
	}
	if c.ParseWorkers <= 0 {
		c.ParseWorkers = 1
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = 1
	}
	return nil
}
