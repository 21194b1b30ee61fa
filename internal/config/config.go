package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Storage
	StoreDriver      string `env:"STORE_DRIVER" envDefault:"memory"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"data/chat.db"`
	PostgresURL      string `env:"POSTGRES_URL"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"chat"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"chat"`
	RunMigrations    bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	ModelCatalogPath string `env:"MODEL_CATALOG_PATH"`

	// Model provider
	LLMMode          string        `env:"LLM_MODE" envDefault:"remote"`
	LLMProvider      string        `env:"LLM_PROVIDER" envDefault:"openrouter"`
	LLMModel         string        `env:"LLM_MODEL" envDefault:"openai/gpt-4o-mini"`
	LLMBaseURL       string        `env:"LLM_BASE_URL"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenRouterAPIKey string        `env:"OPENROUTER_API_KEY"`
	AIGatewayAPIKey  string        `env:"AI_GATEWAY_API_KEY"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"35s"`
	PersonaPath      string        `env:"PERSONA_PATH"`

	// Web search
	FirecrawlAPIKey  string        `env:"FIRECRAWL_API_KEY"`
	FirecrawlBaseURL string        `env:"FIRECRAWL_BASE_URL" envDefault:"https://api.firecrawl.dev"`
	SearchTimeout    time.Duration `env:"SEARCH_TIMEOUT" envDefault:"15s"`
	SearchMaxAge     time.Duration `env:"SEARCH_MAX_AGE" envDefault:"1h"`

	// Title lock
	RedisURL     string        `env:"REDIS_URL"`
	TitleLockTTL time.Duration `env:"TITLE_LOCK_TTL" envDefault:"30s"`

	// Durable persistence; empty address keeps writes in process.
	TemporalAddress   string `env:"TEMPORAL_ADDRESS"`
	TemporalTaskQueue string `env:"TEMPORAL_TASK_QUEUE" envDefault:"chat-turns"`

	AuthMode   string `env:"AUTH_MODE" envDefault:"header"`
	AuthHeader string `env:"AUTH_HEADER" envDefault:"X-User-ID"`
	AuthTokens string `env:"AUTH_TOKENS"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	if cfg.PostgresURL == "" {
		cfg.PostgresURL = cfg.buildPostgresURL()
	}

	switch cfg.StoreDriver {
	case "memory", "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.AuthMode {
	case "header", "token":
	default:
		return Config{}, fmt.Errorf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}
	return cfg, nil
}

func (c Config) buildPostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB)
}
