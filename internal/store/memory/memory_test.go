package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-chat/internal/store"
)

func TestCreateThread(t *testing.T) {
	ctx := context.Background()
	mem := New()
	thread := store.Thread{ID: "thread-1", UserID: "user-1", Model: "openai/gpt-4o", CreatedAt: "2025-01-01T00:00:00Z"}

	if err := mem.CreateThread(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	mem.mu.RLock()
	defer mem.mu.RUnlock()
	stored, ok := mem.threads[thread.ID]
	if !ok {
		t.Fatalf("expected thread to be stored")
	}
	if stored.UpdatedAt != thread.CreatedAt {
		t.Fatalf("expected updated_at to default to created_at, got %q", stored.UpdatedAt)
	}
}

func TestGetThread_Missing(t *testing.T) {
	mem := New()
	thread, err := mem.GetThread(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, thread)
}

func TestListThreads_FiltersByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.CreateThread(ctx, store.Thread{ID: "a", UserID: "u1", CreatedAt: "2025-01-01T00:00:00Z"}))
	require.NoError(t, mem.CreateThread(ctx, store.Thread{ID: "b", UserID: "u1", CreatedAt: "2025-01-02T00:00:00Z"}))
	require.NoError(t, mem.CreateThread(ctx, store.Thread{ID: "c", UserID: "u2", CreatedAt: "2025-01-03T00:00:00Z"}))

	threads, err := mem.ListThreads(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, "b", threads[0].ID)
	require.Equal(t, "a", threads[1].ID)
}

func TestSetThreadTitleIfUnset(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.CreateThread(ctx, store.Thread{ID: "thread-1", UserID: "u1"}))

	updated, err := mem.SetThreadTitleIfUnset(ctx, "thread-1", "First")
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = mem.SetThreadTitleIfUnset(ctx, "thread-1", "Second")
	require.NoError(t, err)
	require.False(t, updated)

	thread, err := mem.GetThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, "First", thread.Title)

	_, err = mem.SetThreadTitleIfUnset(ctx, "missing", "x")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetThreadTitleIfUnset_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.CreateThread(ctx, store.Thread{ID: "thread-1", UserID: "u1"}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := mem.SetThreadTitleIfUnset(ctx, "thread-1", "title")
			if err == nil && updated {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestAddMessage_ListOrdered(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.AddMessage(ctx, store.Message{ID: "m2", ThreadID: "t", Role: "assistant", Sequence: 2, CreatedAt: "2025-01-01T00:00:01Z", Sources: []string{"a"}}))
	require.NoError(t, mem.AddMessage(ctx, store.Message{ID: "m1", ThreadID: "t", Role: "user", Sequence: 1, CreatedAt: "2025-01-01T00:00:00Z"}))
	require.NoError(t, mem.AddMessage(ctx, store.Message{ID: "m3", ThreadID: "t", Role: "user", Sequence: 3, CreatedAt: "2025-01-01T00:00:01Z"}))

	messages, err := mem.ListMessages(ctx, "t")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, []string{"m1", "m2", "m3"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})

	messages[1].Sources[0] = "mutated"
	again, err := mem.ListMessages(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, again[1].Sources)
}

func TestModels_UpsertByModelIDAndOrder(t *testing.T) {
	ctx := context.Background()
	mem := New()
	require.NoError(t, mem.UpsertModel(ctx, store.AIModel{ID: "1", Name: "GPT-4o", ModelID: "openai/gpt-4o", Provider: "openai"}))
	require.NoError(t, mem.UpsertModel(ctx, store.AIModel{ID: "2", Name: "Claude", ModelID: "anthropic/claude", Provider: "anthropic"}))
	require.NoError(t, mem.UpsertModel(ctx, store.AIModel{ID: "3", Name: "GPT-4o", ModelID: "openai/gpt-4o", Provider: "openai", PromptPrice: decimal.NewFromInt(5)}))

	models, err := mem.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, "anthropic", models[0].Provider)
	require.Equal(t, "1", models[1].ID)
	require.True(t, models[1].PromptPrice.Equal(decimal.NewFromInt(5)))
	require.False(t, models[1].IsFree())
	require.True(t, models[0].IsFree())
}
