//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	storepkg "github.com/Keyring-Network/keyring-chat/internal/store"
)

var (
	testDB   *sql.DB
	testConn string
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("chat"),
		tcpostgres.WithUsername("chat"),
		tcpostgres.WithPassword("chat"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres container:", err)
		os.Exit(1)
	}
	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "connection string:", err)
		os.Exit(1)
	}
	if err := Migrate(conn); err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "apply migrations:", err)
		os.Exit(1)
	}
	ldb, err := sql.Open("pgx", conn)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	testDB = ldb
	testConn = conn
	code := m.Run()
	_ = ldb.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func cleanDB(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(`TRUNCATE TABLE messages, threads, ai_models`)
	require.NoError(t, err)
}

func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	cleanDB(t)
	pgStore, err := New(testConn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgStore.Close() })
	return pgStore
}

func TestMigrate_Idempotent(t *testing.T) {
	require.NoError(t, Migrate(testConn))
}

func TestThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	pgStore := newTestStore(t)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	threadID := uuid.NewString()
	require.NoError(t, pgStore.CreateThread(ctx, storepkg.Thread{ID: threadID, UserID: "u-1", Model: "x", CreatedAt: now}))

	thread, err := pgStore.GetThread(ctx, threadID)
	require.NoError(t, err)
	require.NotNil(t, thread)
	require.Equal(t, "u-1", thread.UserID)
	require.Empty(t, thread.Title)

	threads, err := pgStore.ListThreads(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, threads, 1)

	others, err := pgStore.ListThreads(ctx, "u-2")
	require.NoError(t, err)
	require.Empty(t, others)
}

func TestSetThreadTitleIfUnset_ConcurrentWritersSingleWinner(t *testing.T) {
	ctx := context.Background()
	pgStore := newTestStore(t)

	threadID := uuid.NewString()
	require.NoError(t, pgStore.CreateThread(ctx, storepkg.Thread{ID: threadID, UserID: "u-1", Model: "x"}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}
	for i := 0; i < 8; i++ {
		title := fmt.Sprintf("title-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := pgStore.SetThreadTitleIfUnset(ctx, threadID, title)
			if err == nil && updated {
				mu.Lock()
				winners = append(winners, title)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, winners, 1)

	thread, err := pgStore.GetThread(ctx, threadID)
	require.NoError(t, err)
	require.Equal(t, winners[0], thread.Title)
}

func TestMessages_OrderedByCreation(t *testing.T) {
	ctx := context.Background()
	pgStore := newTestStore(t)

	threadID := uuid.NewString()
	require.NoError(t, pgStore.CreateThread(ctx, storepkg.Thread{ID: threadID, UserID: "u-1", Model: "x"}))
	base := time.Now().UTC()
	require.NoError(t, pgStore.AddMessage(ctx, storepkg.Message{
		ID: uuid.NewString(), ThreadID: threadID, Role: storepkg.RoleAssistant, Content: "Paris",
		Sources: []string{"https://a"}, Sequence: 2, CreatedAt: base.Add(time.Second).Format(time.RFC3339Nano),
	}))
	require.NoError(t, pgStore.AddMessage(ctx, storepkg.Message{
		ID: uuid.NewString(), ThreadID: threadID, Role: storepkg.RoleUser, Content: "capital of France?",
		Sequence: 1, CreatedAt: base.Format(time.RFC3339Nano),
	}))

	messages, err := pgStore.ListMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, storepkg.RoleUser, messages[0].Role)
	require.Equal(t, []string{"https://a"}, messages[1].Sources)
	require.Nil(t, messages[0].Sources)
}

func TestModels_UpsertKeepsSingleRowPerModelID(t *testing.T) {
	ctx := context.Background()
	pgStore := newTestStore(t)

	require.NoError(t, pgStore.UpsertModel(ctx, storepkg.AIModel{Name: "GPT", ModelID: "openai/gpt-4o", Provider: "openai"}))
	require.NoError(t, pgStore.UpsertModel(ctx, storepkg.AIModel{Name: "GPT-4o", ModelID: "openai/gpt-4o", Provider: "openai", PromptPrice: decimal.RequireFromString("2.5")}))

	models, err := pgStore.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "GPT-4o", models[0].Name)
	require.True(t, models[0].PromptPrice.Equal(decimal.RequireFromString("2.5")))
}
