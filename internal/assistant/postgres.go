package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travelist/internal/apperr"
	"travelist/internal/logging"
)

// PostgresStore persists sessions and messages across the chat_sessions /
// messages tables.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wraps the shared pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.OrNop(logger)}
}

// EnsureSchema creates the dialogue tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL,
    trip_id    BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_chat_sessions_user_id ON chat_sessions (user_id);
CREATE TABLE IF NOT EXISTS messages (
    id         BIGSERIAL PRIMARY KEY,
    session_id BIGINT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    intent     TEXT,
    meta       JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_messages_session_id ON messages (session_id, created_at);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure chat schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID, tripID int64) (*Session, error) {
	sess := &Session{UserID: userID, TripID: tripID}
	var trip *int64
	if tripID > 0 {
		trip = &tripID
	}
	err := s.pool.QueryRow(ctx, `
INSERT INTO chat_sessions (user_id, trip_id) VALUES ($1, $2)
RETURNING id, created_at`, userID, trip).Scan(&sess.ID, &sess.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "create session", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	var (
		sess Session
		trip *int64
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, trip_id, created_at FROM chat_sessions WHERE id = $1`, sessionID).
		Scan(&sess.ID, &sess.UserID, &trip, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "load session", err)
	}
	if trip != nil {
		sess.TripID = *trip
	}
	return &sess, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	if limit < 1 {
		limit = 12
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, role, content, COALESCE(intent, ''), meta, created_at
FROM messages WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "load messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg  Message
			meta []byte
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Intent, &meta, &msg.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailed, "scan message", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &msg.Meta)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailed, "iterate messages", err)
	}
	// Rows arrive newest-first; flip to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, sessionID int64, user, reply Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "begin turn", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, msg := range []Message{user, reply} {
		meta, err := json.Marshal(msg.Meta)
		if err != nil {
			return apperr.Wrap(apperr.KindPersistenceFailed, "encode message meta", err)
		}
		if msg.Meta == nil {
			meta = []byte("{}")
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO messages (session_id, role, content, intent, meta)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
			sessionID, msg.Role, msg.Content, msg.Intent, meta); err != nil {
			return apperr.Wrap(apperr.KindPersistenceFailed, "insert message", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailed, "commit turn", err)
	}
	return nil
}
