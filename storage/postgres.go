package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatrelay/config"
	"chatrelay/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier abstracts the pgx query methods. Both *pgxpool.Pool and pgx.Tx
// satisfy it.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of *pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	pgQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// foreignKeyViolation is the SQLSTATE of a foreign key violation.
const foreignKeyViolation = "23503"

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS llm_configs (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    provider    TEXT NOT NULL DEFAULT 'OLLAMA',
    base_url    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL,
    api_key     TEXT NOT NULL DEFAULT '',
    extra       JSONB NOT NULL DEFAULT '{}',
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    llm_id      BIGINT NOT NULL REFERENCES llm_configs(id) ON DELETE RESTRICT,
    title       TEXT NOT NULL DEFAULT 'New Session',
    metadata    JSONB NOT NULL DEFAULT '{}',
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS messages (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    usage       JSONB NOT NULL DEFAULT '{}',
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (session_id, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_llm ON sessions (llm_id)`,
}

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pgQueries
	pool PgxPool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, creates the schema if needed and
// returns the store. codec may be nil to store credentials as given.
func NewPostgresStore(ctx context.Context, dsn string, codec Codec) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := NewPostgresStoreFromPool(pool, codec)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	config.Debugf("[Storage] connected to postgres")
	return store, nil
}

// NewPostgresStoreFromPool wraps an existing pool without touching the
// schema.
func NewPostgresStoreFromPool(pool PgxPool, codec Codec) *PostgresStore {
	return &PostgresStore{
		pgQueries: pgQueries{q: pool, codec: codecOrPlain(codec)},
		pool:      pool,
	}
}

// EnsureSchema creates the tables and indexes if they do not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// WithinTx implements Store.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.inTx(ctx, func(q pgQueries) error {
		return fn(q)
	})
}

// DeleteLLMConfig implements Store.
func (s *PostgresStore) DeleteLLMConfig(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(q pgQueries) error {
		return q.deleteLLMConfig(ctx, id)
	})
}

// inTx commits when fn returns nil. fn's error is returned as-is.
func (s *PostgresStore) inTx(ctx context.Context, fn func(q pgQueries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(pgQueries{q: tx, codec: s.codec}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgQueries struct {
	q     pgQuerier
	codec Codec
}

const pgLLMColumns = `id, name, provider, base_url, model, api_key, extra, is_active`

func (s pgQueries) scanLLMConfig(row pgx.Row) (*model.LLMConfig, error) {
	var cfg model.LLMConfig
	var provider, storedKey string
	var extra []byte

	if err := row.Scan(&cfg.ID, &cfg.Name, &provider, &cfg.BaseURL, &cfg.Model, &storedKey, &extra, &cfg.IsActive); err != nil {
		return nil, err
	}

	cfg.Provider = model.ProviderKind(provider)
	if cfg.Provider == "" {
		cfg.Provider = model.ProviderOllama
	}

	apiKey, err := s.codec.DecryptString(storedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api key for llm %d: %w", cfg.ID, err)
	}
	cfg.APIKey = apiKey

	if cfg.Extra, err = unmarshalMap(extra); err != nil {
		return nil, fmt.Errorf("invalid extra for llm %d: %w", cfg.ID, err)
	}
	return &cfg, nil
}

// GetLLMConfig implements Tx.
func (s pgQueries) GetLLMConfig(ctx context.Context, id int64) (*model.LLMConfig, error) {
	cfg, err := s.scanLLMConfig(s.q.QueryRow(ctx,
		`SELECT `+pgLLMColumns+` FROM llm_configs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, llmNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load llm %d: %w", id, err)
	}
	return cfg, nil
}

// ListLLMConfigs implements Store.
func (s pgQueries) ListLLMConfigs(ctx context.Context) ([]model.LLMConfig, error) {
	rows, err := s.q.Query(ctx, `SELECT `+pgLLMColumns+` FROM llm_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list llms: %w", err)
	}
	defer rows.Close()

	configs := []model.LLMConfig{}
	for rows.Next() {
		cfg, err := s.scanLLMConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (s pgQueries) encodeLLMConfig(cfg *model.LLMConfig) (string, []byte, error) {
	storedKey, err := s.codec.EncryptString(cfg.APIKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encrypt api key: %w", err)
	}
	extra, err := marshalMap(cfg.Extra)
	if err != nil {
		return "", nil, fmt.Errorf("invalid extra: %w", err)
	}
	return storedKey, extra, nil
}

// CreateLLMConfig implements Store.
func (s pgQueries) CreateLLMConfig(ctx context.Context, cfg *model.LLMConfig) error {
	storedKey, extra, err := s.encodeLLMConfig(cfg)
	if err != nil {
		return err
	}

	err = s.q.QueryRow(ctx, `INSERT INTO llm_configs
		(name, provider, base_url, model, api_key, extra, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		cfg.Name, string(cfg.Provider), cfg.BaseURL, cfg.Model, storedKey, extra, cfg.IsActive,
	).Scan(&cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to create llm: %w", err)
	}
	return nil
}

// UpdateLLMConfig implements Store.
func (s pgQueries) UpdateLLMConfig(ctx context.Context, cfg *model.LLMConfig) error {
	storedKey, extra, err := s.encodeLLMConfig(cfg)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, `UPDATE llm_configs
		SET name = $1, provider = $2, base_url = $3, model = $4, api_key = $5, extra = $6, is_active = $7
		WHERE id = $8`,
		cfg.Name, string(cfg.Provider), cfg.BaseURL, cfg.Model, storedKey, extra, cfg.IsActive, cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update llm %d: %w", cfg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return llmNotFound(cfg.ID)
	}
	return nil
}

func (s pgQueries) deleteLLMConfig(ctx context.Context, id int64) error {
	var inUse int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE llm_id = $1`, id).Scan(&inUse); err != nil {
		return fmt.Errorf("failed to check llm %d usage: %w", id, err)
	}
	if inUse > 0 {
		return ErrConfigInUse
	}

	tag, err := s.q.Exec(ctx, `DELETE FROM llm_configs WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrConfigInUse
		}
		return fmt.Errorf("failed to delete llm %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return llmNotFound(id)
	}
	return nil
}

// CreateSession implements Store.
func (s pgQueries) CreateSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if strings.TrimSpace(session.Title) == "" {
		session.Title = model.DefaultSessionTitle
	}
	metadata, err := marshalMap(session.Metadata)
	if err != nil {
		return fmt.Errorf("invalid session metadata: %w", err)
	}

	ts := now()
	_, err = s.q.Exec(ctx, `INSERT INTO sessions
		(id, llm_id, title, metadata, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.LLMID, session.Title, metadata, session.IsActive, ts, ts,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return llmNotFound(session.LLMID)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.CreatedAt = ts
	session.UpdatedAt = ts
	return nil
}

const pgSessionColumns = `id, llm_id, title, metadata, is_active, created_at, updated_at`

func scanPgSession(row pgx.Row) (*model.Session, error) {
	var session model.Session
	var metadata []byte

	err := row.Scan(&session.ID, &session.LLMID, &session.Title, &metadata,
		&session.IsActive, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if session.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata for session %s: %w", session.ID, err)
	}
	return &session, nil
}

// GetActiveSession implements Tx.
func (s pgQueries) GetActiveSession(ctx context.Context, id string) (*model.Session, error) {
	session, err := scanPgSession(s.q.QueryRow(ctx,
		`SELECT `+pgSessionColumns+` FROM sessions WHERE id = $1 AND is_active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return session, nil
}

// ListSessions implements Store.
func (s pgQueries) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.q.Query(ctx, `SELECT `+pgSessionColumns+`
		FROM sessions WHERE is_active ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		session, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// DeleteSession implements Store. Messages go with it (ON DELETE CASCADE).
func (s pgQueries) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return sessionNotFound(id)
	}
	return nil
}

// AppendMessage implements Tx.
func (s pgQueries) AppendMessage(ctx context.Context, msg *model.Message) error {
	usage, err := marshalMap(msg.Usage)
	if err != nil {
		return fmt.Errorf("invalid usage: %w", err)
	}
	metadata, err := marshalMap(msg.Metadata)
	if err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	ts := now()
	err = s.q.QueryRow(ctx, `INSERT INTO messages
		(session_id, role, content, name, usage, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		msg.SessionID, string(msg.Role), msg.Content, msg.Name, usage, metadata, ts,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	msg.CreatedAt = ts

	if _, err := s.q.Exec(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`, ts, msg.SessionID); err != nil {
		return fmt.Errorf("failed to touch session %s: %w", msg.SessionID, err)
	}
	return nil
}

// ListMessages implements Tx.
func (s pgQueries) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.q.Query(ctx, `SELECT id, session_id, role, content, name, usage, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		var role string
		var usage, metadata []byte

		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Name, &usage, &metadata, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		if msg.Usage, err = unmarshalMap(usage); err != nil {
			return nil, fmt.Errorf("invalid usage for message %d: %w", msg.ID, err)
		}
		if msg.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata for message %d: %w", msg.ID, err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SearchMessages implements Store.
func (s pgQueries) SearchMessages(ctx context.Context, query string, limit int) ([]MessageMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []MessageMatch{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.q.Query(ctx, `SELECT m.id, m.session_id, s.title, m.role, m.content, m.created_at
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.is_active
		  AND m.role <> 'system'
		  AND m.content ILIKE $1 ESCAPE '\'
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2`, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	matches := []MessageMatch{}
	for rows.Next() {
		var m MessageMatch
		var role, content string
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.SessionTitle, &role, &content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.Preview = buildPreview(content, query)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
