package prompt

import (
	"context"
	"sync"
)

// MemoryStore keeps overrides in process. Used by tests and DB-less runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Prompt
}

// NewMemoryStore returns an empty override store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Prompt)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.rows[key]; ok {
		copied := row
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]Prompt, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *MemoryStore) Save(_ context.Context, p Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.Key] = p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}
