package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string `env:"PORT" envDefault:"8080"`

	// Database
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Cache
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Auth
	JWTSecret string `env:"JWT_SECRET"`

	// Providers. Keys may be comma-separated lists for rotation.
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_API_URL" envDefault:"https://api.openai.com/v1"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_API_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	NebiusAPIKey  string `env:"NEBIUS_API_KEY"`
	NebiusBaseURL string `env:"NEBIUS_API_URL" envDefault:"https://api.tokenfactory.nebius.com/v1/"`

	StreamModel    string `env:"STREAM_MODEL" envDefault:"Qwen/Qwen3-30B-A3B-Thinking-2507"`
	ToolCallsModel string `env:"TOOL_CALLS_MODEL" envDefault:"gpt-4o-mini"`

	// Delivery
	MaxTimeout   time.Duration `env:"MAX_TIMEOUT" envDefault:"300s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	ResultTTL    time.Duration `env:"RESULT_TTL" envDefault:"120s"`

	// Queue
	QueueWorkers       int           `env:"QUEUE_WORKERS" envDefault:"50"`
	QueueBatch         int           `env:"QUEUE_BATCH" envDefault:"100"`
	QueueRatioGeneral  int           `env:"QUEUE_RATIO_GENERAL" envDefault:"1"`
	QueueRatioPremium  int           `env:"QUEUE_RATIO_PREMIUM" envDefault:"2"`
	QueuePollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	CleanupFailedAfter time.Duration `env:"CLEANUP_AFTER" envDefault:"168h"`

	// Observability
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	OTELExporterType     string `env:"OTEL_EXPORTER_TYPE" envDefault:"stdout"` // "stdout" or "otlp"
	OTELExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT" envDefault:"localhost:4317"`

	// Rate Limiting
	RateLimitRPM int64 `env:"RATE_LIMIT_RPM" envDefault:"60"` // requests per minute per user

	RunSeed bool `env:"RUN_SEED" envDefault:"false"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and queue bounds.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.QueueWorkers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive, got %d", c.QueueWorkers)
	}
	if c.QueueBatch <= 0 {
		return fmt.Errorf("QUEUE_BATCH must be positive, got %d", c.QueueBatch)
	}
	if c.QueueRatioGeneral <= 0 || c.QueueRatioPremium <= 0 {
		return fmt.Errorf("queue ratio weights must be positive, got %d:%d", c.QueueRatioGeneral, c.QueueRatioPremium)
	}
	return nil
}
