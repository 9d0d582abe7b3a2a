// Package storage persists LLM configurations, sessions and their messages.
//
// Two backends implement Store: SQLiteStore (embedded, the default) and
// PostgresStore. Both enforce the same ownership rules: deleting a session
// removes its messages, and deleting an LLM configuration that any session
// still references fails with ErrConfigInUse.
//
// Lookups of missing rows return *model.NotFoundError.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatrelay/model"
)

// ErrConfigInUse is returned when deleting an LLM configuration that a
// session references.
var ErrConfigInUse = errors.New("llm config is referenced by at least one session")

// Tx is the unit of work used by a chat turn. Everything done through a Tx
// commits or rolls back together.
type Tx interface {
	// GetActiveSession returns the session, or *model.NotFoundError when it
	// does not exist or is inactive.
	GetActiveSession(ctx context.Context, id string) (*model.Session, error)
	GetLLMConfig(ctx context.Context, id int64) (*model.LLMConfig, error)
	// AppendMessage inserts msg and fills in its ID and CreatedAt.
	AppendMessage(ctx context.Context, msg *model.Message) error
	// ListMessages returns the session's messages ordered by creation.
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
}

// Store is the persistence layer used by the chat service and HTTP surface.
type Store interface {
	Tx

	// WithinTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as-is.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateLLMConfig(ctx context.Context, cfg *model.LLMConfig) error
	UpdateLLMConfig(ctx context.Context, cfg *model.LLMConfig) error
	ListLLMConfigs(ctx context.Context) ([]model.LLMConfig, error)
	DeleteLLMConfig(ctx context.Context, id int64) error

	// CreateSession assigns a new ID when session.ID is empty and the
	// default title when session.Title is empty.
	CreateSession(ctx context.Context, session *model.Session) error
	// ListSessions returns active sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]model.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// SearchMessages finds non-system messages of active sessions whose
	// content contains query, case-insensitively.
	SearchMessages(ctx context.Context, query string, limit int) ([]MessageMatch, error)

	Close() error
}

// Codec transforms credentials on their way to and from the database.
// *config.EncryptionManager implements it.
type Codec interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(stored string) (string, error)
}

// plainCodec stores credentials as given.
type plainCodec struct{}

func (plainCodec) EncryptString(s string) (string, error) { return s, nil }
func (plainCodec) DecryptString(s string) (string, error) { return s, nil }

func codecOrPlain(c Codec) Codec {
	if c == nil {
		return plainCodec{}
	}
	return c
}

func sessionNotFound(id string) error {
	return &model.NotFoundError{Resource: "session", ID: id}
}

func llmNotFound(id int64) error {
	return &model.NotFoundError{Resource: "llm", ID: fmt.Sprint(id)}
}

// marshalMap encodes a JSON column. A nil map is stored as "{}".
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// unmarshalMap decodes a JSON column. Empty and null columns decode to an
// empty map.
func unmarshalMap(data []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(data) == 0 || string(data) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// now returns the timestamp stored on new rows.
func now() time.Time {
	return time.Now().UTC()
}
