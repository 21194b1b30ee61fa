package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-chat/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{"threads", "messages", "ai_models"}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (set RUN_MIGRATIONS=true)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateThread(ctx context.Context, thread store.Thread) error {
	updatedAt := thread.UpdatedAt
	if strings.TrimSpace(updatedAt) == "" {
		updatedAt = thread.CreatedAt
	}
	const query = `
		INSERT INTO threads (id, user_id, model, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		thread.ID,
		thread.UserID,
		thread.Model,
		nullString(thread.Title),
		parseTimestampValue(thread.CreatedAt),
		parseTimestampValue(updatedAt),
	)
	return err
}

func (p *PostgresStore) GetThread(ctx context.Context, threadID string) (*store.Thread, error) {
	const query = `
		SELECT id, user_id, model, title, created_at, updated_at
		FROM threads
		WHERE id = $1
	`
	var title sql.NullString
	var createdAt time.Time
	var updatedAt time.Time
	thread := store.Thread{}
	if err := p.db.QueryRowContext(ctx, query, threadID).Scan(
		&thread.ID,
		&thread.UserID,
		&thread.Model,
		&title,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	thread.Title = title.String
	thread.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	thread.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &thread, nil
}

func (p *PostgresStore) ListThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	const query = `
		SELECT id, user_id, model, title, created_at, updated_at
		FROM threads
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Thread{}
	for rows.Next() {
		var title sql.NullString
		var createdAt time.Time
		var updatedAt time.Time
		var thread store.Thread
		if err := rows.Scan(&thread.ID, &thread.UserID, &thread.Model, &title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		thread.Title = title.String
		thread.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		thread.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
		results = append(results, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) SetThreadTitleIfUnset(ctx context.Context, threadID string, title string) (bool, error) {
	const query = `
		UPDATE threads
		SET title = $2, updated_at = now()
		WHERE id = $1 AND (title IS NULL OR title = '')
	`
	result, err := p.db.ExecContext(ctx, query, threadID, title)
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
	var exists bool
	if err := p.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM threads WHERE id = $1)", threadID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (p *PostgresStore) AddMessage(ctx context.Context, msg store.Message) error {
	var sources any
	if msg.Sources != nil {
		encoded, err := json.Marshal(msg.Sources)
		if err != nil {
			return err
		}
		sources = encoded
	}
	sequence := msg.Sequence
	if sequence == 0 {
		sequence = time.Now().UnixNano()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	const insert = `
		INSERT INTO messages (id, thread_id, role, content, reasoning, sources, model, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	createdAt := parseTimestampValue(msg.CreatedAt)
	if _, err := tx.ExecContext(
		ctx,
		insert,
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
	if _, err := tx.ExecContext(ctx, "UPDATE threads SET updated_at = $2 WHERE id = $1", msg.ThreadID, createdAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	const query = `
		SELECT id, thread_id, role, content, reasoning, sources, model, sequence, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at ASC, sequence ASC
	`
	rows, err := p.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Message{}
	for rows.Next() {
		var reasoning sql.NullString
		var model sql.NullString
		var sourcesBytes []byte
		var createdAt time.Time
		var msg store.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Role,
			&msg.Content,
			&reasoning,
			&sourcesBytes,
			&model,
			&msg.Sequence,
			&createdAt,
		); err != nil {
			return nil, err
		}
		msg.Reasoning = reasoning.String
		msg.Model = model.String
		msg.Sources = decodeStringSlice(sourcesBytes)
		msg.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ListModels(ctx context.Context) ([]store.AIModel, error) {
	const query = `
		SELECT id, name, model_id, description, provider, supports_image, supports_file,
			supports_web_search, has_reasoning, is_premium, prompt_price, completion_price, created_at
		FROM ai_models
		ORDER BY provider ASC, name ASC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.AIModel{}
	for rows.Next() {
		var createdAt time.Time
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
			&model.PromptPrice,
			&model.CompletionPrice,
			&createdAt,
		); err != nil {
			return nil, err
		}
		model.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, model)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) UpsertModel(ctx context.Context, model store.AIModel) error {
	id := strings.TrimSpace(model.ID)
	if id == "" {
		id = uuid.NewString()
	}
	const query = `
		INSERT INTO ai_models (
			id,
			name,
			model_id,
			description,
			provider,
			supports_image,
			supports_file,
			supports_web_search,
			has_reasoning,
			is_premium,
			prompt_price,
			completion_price,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (model_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			provider = EXCLUDED.provider,
			supports_image = EXCLUDED.supports_image,
			supports_file = EXCLUDED.supports_file,
			supports_web_search = EXCLUDED.supports_web_search,
			has_reasoning = EXCLUDED.has_reasoning,
			is_premium = EXCLUDED.is_premium,
			prompt_price = EXCLUDED.prompt_price,
			completion_price = EXCLUDED.completion_price
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
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
		model.PromptPrice,
		model.CompletionPrice,
		parseTimestampValue(model.CreatedAt),
	)
	return err
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func decodeStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	values := []string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
