// Package assistant implements the multi-turn dialogue service: a
// deterministic node pipeline (context load, memory retrieval, rule
// router, tool execution) around at most one LLM call per turn, with
// unary and streaming delivery over the same core.
package assistant

import (
	"context"
	"time"
)

// Session is one dialogue session owned by a user.
type Session struct {
	ID        int64     `json:"session_id"`
	UserID    int64     `json:"user_id"`
	TripID    int64     `json:"trip_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one persisted dialogue message.
type Message struct {
	ID        int64          `json:"id"`
	SessionID int64          `json:"session_id"`
	Role      string         `json:"role"` // user | assistant
	Content   string         `json:"content"`
	Intent    string         `json:"intent,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the session/message persistence port. AppendTurn must write
// both messages atomically: a turn never persists half.
type Store interface {
	CreateSession(ctx context.Context, userID, tripID int64) (*Session, error)

	// GetSession returns the session or (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID int64) (*Session, error)

	// RecentMessages returns the last limit messages in chronological
	// order.
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error)

	// AppendTurn persists one user and one assistant message in a single
	// transaction.
	AppendTurn(ctx context.Context, sessionID int64, user, reply Message) error
}
