package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/Keyring-Network/keyring-chat/internal/store"
)

// sortableTime keeps a fixed width so TEXT ordering matches chronological order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db *sql.DB
}

func New(path string) (*SQLiteStore, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		return nil, errors.New("missing sqlite path")
	}
	if dsn != ":memory:" {
		absPath, err := filepath.Abs(dsn)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = absPath
	}

	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			model TEXT NOT NULL,
			title TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS threads_user_updated_idx ON threads (user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			reasoning TEXT,
			sources TEXT,
			model TEXT,
			sequence INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_thread_idx ON messages (thread_id, created_at, sequence)`,
		`CREATE TABLE IF NOT EXISTS ai_models (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			model_id TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			supports_image INTEGER NOT NULL DEFAULT 0,
			supports_file INTEGER NOT NULL DEFAULT 0,
			supports_web_search INTEGER NOT NULL DEFAULT 0,
			has_reasoning INTEGER NOT NULL DEFAULT 0,
			is_premium INTEGER NOT NULL DEFAULT 0,
			prompt_price TEXT NOT NULL DEFAULT '0',
			completion_price TEXT NOT NULL DEFAULT '0',
			created_at TEXT NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateThread(ctx context.Context, thread store.Thread) error {
	updatedAt := thread.UpdatedAt
	if strings.TrimSpace(updatedAt) == "" {
		updatedAt = thread.CreatedAt
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO threads (id, user_id, model, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		thread.ID,
		thread.UserID,
		thread.Model,
		nullString(thread.Title),
		formatTime(thread.CreatedAt),
		formatTime(updatedAt),
	)
	return err
}

func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, model, title, created_at, updated_at FROM threads WHERE id = ?`,
		threadID,
	)
	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, model, title, created_at, updated_at FROM threads WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, thread)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SetThreadTitleIfUnset(ctx context.Context, threadID string, title string) (bool, error) {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ? AND (title IS NULL OR title = '')`,
		title,
		time.Now().UTC().Format(sortableTime),
		threadID,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return false, err
	}
	if thread == nil {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg store.Message) error {
	var sources any
	if msg.Sources != nil {
		encoded, err := json.Marshal(msg.Sources)
		if err != nil {
			return err
		}
		sources = string(encoded)
	}
	sequence := msg.Sequence
	if sequence == 0 {
		sequence = time.Now().UnixNano()
	}
	createdAt := formatTime(msg.CreatedAt)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO messages (id, thread_id, role, content, reasoning, sources, model, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.ThreadID,
		msg.Role,
		msg.Content,
		nullString(msg.Reasoning),
		sources,
		nullString(msg.Model),
		sequence,
		createdAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, createdAt, msg.ThreadID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, thread_id, role, content, reasoning, sources, model, sequence, created_at
		FROM messages WHERE thread_id = ? ORDER BY created_at ASC, sequence ASC`,
		threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Message{}
	for rows.Next() {
		var reasoning, sources, model sql.NullString
		var createdAt string
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Role,
			&msg.Content,
			&reasoning,
			&sources,
			&model,
			&msg.Sequence,
			&createdAt,
		); err != nil {
			return nil, err
		}
		msg.Reasoning = reasoning.String
		msg.Model = model.String
		if sources.Valid && sources.String != "" {
			values := []string{}
			if err := json.Unmarshal([]byte(sources.String), &values); err == nil && len(values) > 0 {
				msg.Sources = values
			}
		}
		msg.CreatedAt = displayTime(createdAt)
		results = append(results, msg)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]store.AIModel, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, model_id, description, provider, supports_image, supports_file,
			supports_web_search, has_reasoning, is_premium, prompt_price, completion_price, created_at
		FROM ai_models ORDER BY provider ASC, name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.AIModel{}
	for rows.Next() {
		var createdAt string
		var promptPrice, completionPrice string
		var model store.AIModel
		if err := rows.Scan(
			&model.ID,
			&model.Name,
			&model.ModelID,
			&model.Description,
			&model.Provider,
			&model.SupportsImage,
			&model.SupportsFile,
			&model.SupportsWebSearch,
			&model.HasReasoning,
			&model.IsPremium,
			&promptPrice,
			&completionPrice,
			&createdAt,
		); err != nil {
			return nil, err
		}
		if model.PromptPrice, err = decimal.NewFromString(promptPrice); err != nil {
			return nil, fmt.Errorf("model %s prompt price: %w", model.ModelID, err)
		}
		if model.CompletionPrice, err = decimal.NewFromString(completionPrice); err != nil {
			return nil, fmt.Errorf("model %s completion price: %w", model.ModelID, err)
		}
		model.CreatedAt = displayTime(createdAt)
		results = append(results, model)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) UpsertModel(ctx context.Context, model store.AIModel) error {
	id := strings.TrimSpace(model.ID)
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ai_models (
			id, name, model_id, description, provider, supports_image, supports_file,
			supports_web_search, has_reasoning, is_premium, prompt_price, completion_price, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			provider = excluded.provider,
			supports_image = excluded.supports_image,
			supports_file = excluded.supports_file,
			supports_web_search = excluded.supports_web_search,
			has_reasoning = excluded.has_reasoning,
			is_premium = excluded.is_premium,
			prompt_price = excluded.prompt_price,
			completion_price = excluded.completion_price`,
		id,
		model.Name,
		model.ModelID,
		model.Description,
		model.Provider,
		model.SupportsImage,
		model.SupportsFile,
		model.SupportsWebSearch,
		model.HasReasoning,
		model.IsPremium,
		model.PromptPrice.String(),
		model.CompletionPrice.String(),
		formatTime(model.CreatedAt),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (store.Thread, error) {
	var title sql.NullString
	var createdAt, updatedAt string
	var thread store.Thread
	if err := row.Scan(&thread.ID, &thread.UserID, &thread.Model, &title, &createdAt, &updatedAt); err != nil {
		return store.Thread{}, err
	}
	thread.Title = title.String
	thread.CreatedAt = displayTime(createdAt)
	thread.UpdatedAt = displayTime(updatedAt)
	return thread, nil
}

func formatTime(value string) string {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		parsed = time.Now()
	}
	return parsed.UTC().Format(sortableTime)
}

func displayTime(value string) string {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return parsed.UTC().Format(time.RFC3339Nano)
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
