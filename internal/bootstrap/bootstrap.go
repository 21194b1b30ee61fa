// Package bootstrap turns configuration into the shared runtime pieces used
// by both binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Keyring-Network/keyring-chat/internal/auth"
	"github.com/Keyring-Network/keyring-chat/internal/config"
	"github.com/Keyring-Network/keyring-chat/internal/llm"
	"github.com/Keyring-Network/keyring-chat/internal/search"
	"github.com/Keyring-Network/keyring-chat/internal/store"
	"github.com/Keyring-Network/keyring-chat/internal/store/memory"
	"github.com/Keyring-Network/keyring-chat/internal/store/postgres"
	"github.com/Keyring-Network/keyring-chat/internal/store/sqlite"
	"github.com/Keyring-Network/keyring-chat/internal/title"
)

var (
	migratePostgres = postgres.Migrate
	openPostgres    = func(conn string) (store.Store, func() error, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
)

func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// OpenStore opens the configured driver. The returned close func is never nil.
func OpenStore(cfg config.Config) (store.Store, func() error, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.RunMigrations {
			if err := migratePostgres(cfg.PostgresURL); err != nil {
				return nil, nil, err
			}
		}
		return openPostgres(cfg.PostgresURL)
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "memory", "":
		return memory.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func NewProvider(cfg config.Config) (llm.Provider, error) {
	return llm.NewProvider(llm.Config{
		Mode:             cfg.LLMMode,
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		AIGatewayAPIKey:  cfg.AIGatewayAPIKey,
		Timeout:          cfg.LLMTimeout,
	})
}

// NewSearch returns nil when no Firecrawl key is configured, which disables
// the web search tool.
func NewSearch(cfg config.Config) search.Provider {
	if strings.TrimSpace(cfg.FirecrawlAPIKey) == "" {
		return nil
	}
	return search.NewFirecrawl(search.FirecrawlConfig{
		APIKey:  cfg.FirecrawlAPIKey,
		BaseURL: cfg.FirecrawlBaseURL,
		Timeout: cfg.SearchTimeout,
		MaxAge:  cfg.SearchMaxAge,
	})
}

// NewTitleLocker returns nil when REDIS_URL is unset. An unreachable Redis
// is logged and does not block startup.
func NewTitleLocker(ctx context.Context, cfg config.Config, logger *slog.Logger) (title.Locker, func() error, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, title lock degraded", "error", err)
	}
	return title.NewRedisLocker(client, cfg.TitleLockTTL), client.Close, nil
}

func NewResolver(cfg config.Config) (auth.Resolver, error) {
	switch cfg.AuthMode {
	case "token":
		tokens, err := auth.ParseTokens(cfg.AuthTokens)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, errors.New("AUTH_MODE=token requires AUTH_TOKENS")
		}
		return auth.NewTokenResolver(tokens), nil
	case "header", "":
		return auth.HeaderResolver{Header: cfg.AuthHeader}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}
