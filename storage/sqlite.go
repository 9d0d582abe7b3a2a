package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"chatrelay/config"
	"chatrelay/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteFile is the database file name inside the data directory.
const SQLiteFile = "chatrelay.db"

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// DefaultBusyTimeout is how long a write waits for the database lock when
// no WithBusyTimeout option is given.
const DefaultBusyTimeout = 150 * time.Second

type sqliteOptions struct {
	busyTimeout time.Duration
}

// SQLiteOption configures optional SQLiteStore behavior.
type SQLiteOption func(*sqliteOptions)

// WithBusyTimeout sets how long a write waits for another writer to
// finish. A chat turn holds the write lock for the whole provider call, so
// this should be at least the provider request timeout.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(o *sqliteOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// NewSQLiteStore opens (creating if needed) <dataDir>/chatrelay.db and
// brings its schema up to date. codec may be nil to store credentials as
// given.
func NewSQLiteStore(dataDir string, codec Codec, opts ...SQLiteOption) (*SQLiteStore, error) {
	return OpenSQLite(filepath.Join(dataDir, SQLiteFile), codec, opts...)
}

// sqliteDSN builds the connection string. Transactions begin IMMEDIATE so
// a turn waits for the write lock up front instead of failing to upgrade a
// stale read snapshot.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		fmt.Sprintf("&_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()) +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate" +
		"&_time_format=sqlite"
}

// OpenSQLite opens the database at path.
func OpenSQLite(path string, codec Codec, opts ...SQLiteOption) (*SQLiteStore, error) {
	o := sqliteOptions{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{
		sqliteQueries: sqliteQueries{q: db, codec: codecOrPlain(codec)},
		db:            db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	config.Debugf("[Storage] opened sqlite database %s busy_timeout=%s", path, o.busyTimeout)
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS llm_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'OLLAMA',
		base_url TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		extra TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		llm_id INTEGER NOT NULL REFERENCES llm_configs(id) ON DELETE RESTRICT,
		title TEXT NOT NULL DEFAULT 'New Session',
		metadata TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		usage TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_sessions_llm ON sessions(llm_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// migrateSchema adds columns introduced after the first release to existing
// databases.
func (s *SQLiteStore) migrateSchema() error {
	columns := []struct {
		table, column, ddl string
	}{
		{"messages", "name", `ALTER TABLE messages ADD COLUMN name TEXT NOT NULL DEFAULT ''`},
		{"sessions", "metadata", `ALTER TABLE sessions ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'`},
	}

	for _, c := range columns {
		exists, err := s.columnExists(c.table, c.column)
		if err != nil {
			return fmt.Errorf("failed to check for %s.%s column: %w", c.table, c.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(c.ddl); err != nil {
			return fmt.Errorf("failed to add %s.%s column: %w", c.table, c.column, err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (s *SQLiteStore) columnExists(tableName, columnName string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue any
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}

// WithinTx implements Store.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.inTx(ctx, func(q sqliteQueries) error {
		return fn(q)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(q sqliteQueries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(sqliteQueries{q: tx, codec: s.codec}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			config.Debugf("[Storage] rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteLLMConfig implements Store.
func (s *SQLiteStore) DeleteLLMConfig(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(q sqliteQueries) error {
		return q.deleteLLMConfig(ctx, id)
	})
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteQueries holds every statement, run against either the database or
// an open transaction.
type sqliteQueries struct {
	q     sqlQuerier
	codec Codec
}

const sqliteLLMColumns = `id, name, provider, base_url, model, api_key, extra, is_active`

func (s sqliteQueries) scanLLMConfig(row interface{ Scan(...any) error }) (*model.LLMConfig, error) {
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
func (s sqliteQueries) GetLLMConfig(ctx context.Context, id int64) (*model.LLMConfig, error) {
	query := `SELECT ` + sqliteLLMColumns + ` FROM llm_configs WHERE id = ?`

	cfg, err := s.scanLLMConfig(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, llmNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load llm %d: %w", id, err)
	}
	return cfg, nil
}

// ListLLMConfigs implements Store.
func (s sqliteQueries) ListLLMConfigs(ctx context.Context) ([]model.LLMConfig, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+sqliteLLMColumns+` FROM llm_configs ORDER BY id`)
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

func (s sqliteQueries) encodeLLMConfig(cfg *model.LLMConfig) (string, []byte, error) {
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
func (s sqliteQueries) CreateLLMConfig(ctx context.Context, cfg *model.LLMConfig) error {
	storedKey, extra, err := s.encodeLLMConfig(cfg)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
	INSERT INTO llm_configs (name, provider, base_url, model, api_key, extra, is_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.Name, string(cfg.Provider), cfg.BaseURL, cfg.Model, storedKey, string(extra), cfg.IsActive, now())
	if err != nil {
		return fmt.Errorf("failed to create llm: %w", err)
	}

	cfg.ID, err = res.LastInsertId()
	return err
}

// UpdateLLMConfig implements Store.
func (s sqliteQueries) UpdateLLMConfig(ctx context.Context, cfg *model.LLMConfig) error {
	storedKey, extra, err := s.encodeLLMConfig(cfg)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
	UPDATE llm_configs
	SET name = ?, provider = ?, base_url = ?, model = ?, api_key = ?, extra = ?, is_active = ?
	WHERE id = ?
	`, cfg.Name, string(cfg.Provider), cfg.BaseURL, cfg.Model, storedKey, string(extra), cfg.IsActive, cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update llm %d: %w", cfg.ID, err)
	}
	return requireAffected(res, llmNotFound(cfg.ID))
}

func (s sqliteQueries) deleteLLMConfig(ctx context.Context, id int64) error {
	var inUse int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE llm_id = ?`, id).Scan(&inUse); err != nil {
		return fmt.Errorf("failed to check llm %d usage: %w", id, err)
	}
	if inUse > 0 {
		return ErrConfigInUse
	}

	res, err := s.q.ExecContext(ctx, `DELETE FROM llm_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete llm %d: %w", id, err)
	}
	return requireAffected(res, llmNotFound(id))
}

// CreateSession implements Store.
func (s sqliteQueries) CreateSession(ctx context.Context, session *model.Session) error {
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
	_, err = s.q.ExecContext(ctx, `
	INSERT INTO sessions (id, llm_id, title, metadata, is_active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.LLMID, session.Title, string(metadata), session.IsActive, ts, ts)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return llmNotFound(session.LLMID)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.CreatedAt = ts
	session.UpdatedAt = ts
	return nil
}

const sqliteSessionColumns = `id, llm_id, title, metadata, is_active, created_at, updated_at`

func scanSQLiteSession(row interface{ Scan(...any) error }) (*model.Session, error) {
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
func (s sqliteQueries) GetActiveSession(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sqliteSessionColumns + ` FROM sessions WHERE id = ? AND is_active = 1`

	session, err := scanSQLiteSession(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return session, nil
}

// ListSessions implements Store.
func (s sqliteQueries) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT `+sqliteSessionColumns+`
	FROM sessions
	WHERE is_active = 1
	ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// DeleteSession implements Store. Messages go with it (ON DELETE CASCADE).
func (s sqliteQueries) DeleteSession(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return requireAffected(res, sessionNotFound(id))
}

// AppendMessage implements Tx.
func (s sqliteQueries) AppendMessage(ctx context.Context, msg *model.Message) error {
	usage, err := marshalMap(msg.Usage)
	if err != nil {
		return fmt.Errorf("invalid usage: %w", err)
	}
	metadata, err := marshalMap(msg.Metadata)
	if err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	ts := now()
	res, err := s.q.ExecContext(ctx, `
	INSERT INTO messages (session_id, role, content, name, usage, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.SessionID, string(msg.Role), msg.Content, msg.Name, string(usage), string(metadata), ts)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if msg.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	msg.CreatedAt = ts

	_, err = s.q.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, ts, msg.SessionID)
	return err
}

// ListMessages implements Tx.
func (s sqliteQueries) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.q.QueryContext(ctx, `
	SELECT id, session_id, role, content, name, usage, metadata, created_at
	FROM messages
	WHERE session_id = ?
	ORDER BY created_at, id
	`, sessionID)
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
func (s sqliteQueries) SearchMessages(ctx context.Context, query string, limit int) ([]MessageMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []MessageMatch{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.q.QueryContext(ctx, `
	SELECT m.id, m.session_id, s.title, m.role, m.content, m.created_at
	FROM messages m
	JOIN sessions s ON s.id = m.session_id
	WHERE s.is_active = 1
	  AND m.role != 'system'
	  AND m.content LIKE ? ESCAPE '\'
	ORDER BY m.created_at DESC, m.id DESC
	LIMIT ?
	`, escapeLike(query), limit)
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

// requireAffected turns a zero-row update or delete into notFound.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
