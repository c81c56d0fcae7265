package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"travelist/internal/apperr"
)

// MemoryStore is the in-process Store used in tests and DB-less runs.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore builds an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		copied := *t
		return &copied
	}
	var out Task
	if err := json.Unmarshal(raw, &out); err != nil {
		copied := *t
		return &copied
	}
	return &out
}

func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return apperr.Newf(apperr.KindDBConflict, "task %s already exists", t.ID)
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	out := cloneTask(t)
	out.Status = NormalizeStatus(out.Status)
	return out, nil
}

func (s *MemoryStore) CountActive(_ context.Context, userID int64, kind string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tasks {
		if t.UserID != userID || t.Kind != kind {
			continue
		}
		switch NormalizeStatus(t.Status) {
		case StatusQueued, StatusRunning:
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || NormalizeStatus(t.Status) != StatusQueued {
		return false, nil
	}
	t.Status = StatusRunning
	started := at
	t.StartedAt = &started
	return true, nil
}

func (s *MemoryStore) MarkSucceeded(_ context.Context, id string, result map[string]any, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Status = StatusSucceeded
	t.Result = result
	t.Error = nil
	finished := at
	t.FinishedAt = &finished
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, info ErrorInfo, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Status = StatusFailed
	t.Error = &info
	finished := at
	t.FinishedAt = &finished
	return nil
}

func (s *MemoryStore) RecoverStartup(_ context.Context, kind string, at time.Time) ([]string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []*Task
	failed := 0
	for _, t := range s.tasks {
		if t.Kind != kind {
			continue
		}
		switch NormalizeStatus(t.Status) {
		case StatusQueued:
			queued = append(queued, t)
		case StatusRunning:
			t.Status = StatusFailed
			t.Error = &ErrorInfo{Type: "worker_restart", Message: "worker restarted before task finished"}
			finished := at
			t.FinishedAt = &finished
			failed++
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if !queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].CreatedAt.Before(queued[j].CreatedAt)
		}
		return queued[i].ID < queued[j].ID
	})
	ids := make([]string, len(queued))
	for i, t := range queued {
		ids[i] = t.ID
	}
	return ids, failed, nil
}

func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, t := range s.tasks {
		if t.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) StatusCounts(_ context.Context, kind string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range s.tasks {
		if t.Kind == kind {
			counts[NormalizeStatus(t.Status)]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, kind string, limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.Kind == kind {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for _, t := range out {
		t.Status = NormalizeStatus(t.Status)
	}
	return out, nil
}
