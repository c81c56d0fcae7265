package assistant

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used in tests and DB-less runs.
type MemoryStore struct {
	mu       sync.Mutex
	nextSess int64
	nextMsg  int64
	sessions map[int64]*Session
	messages map[int64][]Message
}

// NewMemoryStore builds an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]*Session),
		messages: make(map[int64][]Message),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, userID, tripID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSess++
	sess := &Session{
		ID:        s.nextSess,
		UserID:    userID,
		TripID:    tripID,
		CreatedAt: time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, sessionID int64, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, sessionID int64, user, reply Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, msg := range []Message{user, reply} {
		s.nextMsg++
		msg.ID = s.nextMsg
		msg.SessionID = sessionID
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		s.messages[sessionID] = append(s.messages[sessionID], msg)
	}
	return nil
}
