package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-chat/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]store.Thread
	messages map[string][]store.Message
	models   map[string]store.AIModel
}

func New() *MemoryStore {
	return &MemoryStore{
		threads:  map[string]store.Thread{},
		messages: map[string][]store.Message{},
		models:   map[string]store.AIModel{},
	}
}

func (m *MemoryStore) CreateThread(ctx context.Context, thread store.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if thread.UpdatedAt == "" {
		thread.UpdatedAt = thread.CreatedAt
	}
	m.threads[thread.ID] = thread
	return nil
}

func (m *MemoryStore) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread, ok := m.threads[threadID]
	if !ok {
		return nil, nil
	}
	cloned := thread
	return &cloned, nil
}

func (m *MemoryStore) ListThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Thread, 0, len(m.threads))
	for _, thread := range m.threads {
		if thread.UserID != userID {
			continue
		}
		results = append(results, thread)
	}
	sort.Slice(results, func(i, j int) bool {
		return parseTime(results[i].UpdatedAt).After(parseTime(results[j].UpdatedAt))
	})
	return results, nil
}

func (m *MemoryStore) SetThreadTitleIfUnset(ctx context.Context, threadID string, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[threadID]
	if !ok {
		return false, store.ErrNotFound
	}
	if strings.TrimSpace(thread.Title) != "" {
		return false, nil
	}
	thread.Title = title
	thread.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	m.threads[threadID] = thread
	return true, nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := msg
	cloned.Sources = cloneSlice(msg.Sources)
	if cloned.Sequence == 0 {
		cloned.Sequence = time.Now().UnixNano()
	}
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], cloned)
	if thread, ok := m.threads[msg.ThreadID]; ok && msg.CreatedAt != "" {
		thread.UpdatedAt = msg.CreatedAt
		m.threads[msg.ThreadID] = thread
	}
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := m.messages[threadID]
	results := make([]store.Message, 0, len(messages))
	for _, msg := range messages {
		cloned := msg
		cloned.Sources = cloneSlice(msg.Sources)
		results = append(results, cloned)
	}
	sort.SliceStable(results, func(i, j int) bool {
		left := parseTime(results[i].CreatedAt)
		right := parseTime(results[j].CreatedAt)
		if !left.Equal(right) {
			return left.Before(right)
		}
		return results[i].Sequence < results[j].Sequence
	})
	return results, nil
}

func (m *MemoryStore) ListModels(ctx context.Context) ([]store.AIModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.AIModel, 0, len(m.models))
	for _, model := range m.models {
		results = append(results, model)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Provider != results[j].Provider {
			return results[i].Provider < results[j].Provider
		}
		return results[i].Name < results[j].Name
	})
	return results, nil
}

func (m *MemoryStore) UpsertModel(ctx context.Context, model store.AIModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.models {
		if existing.ModelID == model.ModelID && id != model.ID {
			model.ID = id
			break
		}
	}
	m.models[model.ID] = model
	return nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func cloneSlice(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string{}, values...)
}
