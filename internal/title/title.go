// Package title names threads from their first exchange.
package title

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Keyring-Network/keyring-chat/internal/events"
	"github.com/Keyring-Network/keyring-chat/internal/llm"
	"github.com/Keyring-Network/keyring-chat/internal/store"
)

const (
	instruction   = "Create a simple max 7 words title based on this AI response (output only plain text): "
	maxSeedRunes  = 500
	maxTitleRunes = 100
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrMissingFields  = errors.New("thread id and seed are required")
)

type Store interface {
	GetThread(ctx context.Context, threadID string) (*store.Thread, error)
	SetThreadTitleIfUnset(ctx context.Context, threadID string, title string) (bool, error)
}

type Publisher interface {
	Publish(event events.ThreadEvent)
}

type Config struct {
	Threads   Store
	Completer llm.Completer
	Locker    Locker
	Publisher Publisher
	Logger    *slog.Logger
}

type Service struct {
	threads   Store
	completer llm.Completer
	locker    Locker
	publisher Publisher
	logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		threads:   cfg.Threads,
		completer: cfg.Completer,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Generate returns the thread's title, creating it from seed when none is
// set yet. An empty result means no title was stored.
func (s *Service) Generate(ctx context.Context, userID string, threadID string, seed string, model string) (string, error) {
	if strings.TrimSpace(threadID) == "" || strings.TrimSpace(seed) == "" {
		return "", ErrMissingFields
	}
	thread, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("load thread: %w", err)
	}
	if thread == nil || thread.UserID != userID {
		return "", ErrThreadNotFound
	}
	if existing := strings.TrimSpace(thread.Title); existing != "" {
		return existing, nil
	}

	if s.locker != nil {
		release, acquired, err := s.locker.Acquire(ctx, threadID)
		switch {
		case err != nil:
			s.logger.Warn("title lock unavailable", "thread_id", threadID, "error", err)
		case !acquired:
			return s.currentTitle(ctx, threadID)
		default:
			defer release()
		}
	}

	raw, err := s.completer.Complete(ctx, model, []llm.Message{{Role: llm.RoleUser, Content: Prompt(seed)}})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := Sanitize(raw)
	if title == "" {
		s.logger.Info("generated title was empty", "thread_id", threadID)
		return "", nil
	}

	updated, err := s.threads.SetThreadTitleIfUnset(ctx, threadID, title)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrThreadNotFound
		}
		return "", fmt.Errorf("save title: %w", err)
	}
	if !updated {
		return s.currentTitle(ctx, threadID)
	}
	if s.publisher != nil {
		s.publisher.Publish(events.NewThreadEvent(threadID, events.TypeThreadTitleUpdated, map[string]any{"title": title}))
	}
	return title, nil
}

func (s *Service) currentTitle(ctx context.Context, threadID string) (string, error) {
	thread, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("load thread: %w", err)
	}
	if thread == nil {
		return "", ErrThreadNotFound
	}
	return strings.TrimSpace(thread.Title), nil
}

func Prompt(seed string) string {
	return instruction + truncateRunes(seed, maxSeedRunes)
}

// Sanitize removes angle brackets and bounds the title length.
func Sanitize(raw string) string {
	cleaned := strings.NewReplacer("<", "", ">", "").Replace(raw)
	return strings.TrimSpace(truncateRunes(cleaned, maxTitleRunes))
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
