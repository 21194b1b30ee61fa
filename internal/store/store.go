package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrNotFound = errors.New("not found")

type Thread struct {
	ID        string
	UserID    string
	Model     string
	Title     string
	CreatedAt string
	UpdatedAt string
}

// Message is immutable once written. Reasoning and Sources are only populated
// for assistant turns; empty values mean absent.
type Message struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	Reasoning string
	Sources   []string
	Model     string
	Sequence  int64
	CreatedAt string
}

// AIModel is catalog reference data. Prices are per one million tokens.
type AIModel struct {
	ID                string
	Name              string
	ModelID           string
	Description       string
	Provider          string
	SupportsImage     bool
	SupportsFile      bool
	SupportsWebSearch bool
	HasReasoning      bool
	IsPremium         bool
	PromptPrice       decimal.Decimal
	CompletionPrice   decimal.Decimal
	CreatedAt         string
}

func (m AIModel) IsFree() bool {
	return m.PromptPrice.IsZero() && m.CompletionPrice.IsZero()
}

type ThreadStore interface {
	CreateThread(ctx context.Context, thread Thread) error
	// GetThread returns nil, nil when the thread does not exist.
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	ListThreads(ctx context.Context, userID string) ([]Thread, error)
	// SetThreadTitleIfUnset assigns the title only while the thread has none.
	// It reports whether this call performed the write.
	SetThreadTitleIfUnset(ctx context.Context, threadID string, title string) (bool, error)
}

type MessageStore interface {
	AddMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

type ModelStore interface {
	ListModels(ctx context.Context) ([]AIModel, error)
	UpsertModel(ctx context.Context, model AIModel) error
}

type Store interface {
	ThreadStore
	MessageStore
	ModelStore
}
