// Package memory provides the namespaced write/search facade over the
// semantic memory provider. Provider failures never propagate: writes
// degrade to a synthetic id and searches to an empty result so the calling
// path always produces an answer.
package memory

import (
	"context"
	"fmt"

	"travelist/internal/logging"
	"travelist/internal/metrics"
)

// Memory levels.
const (
	LevelUser    = "user"
	LevelTrip    = "trip"
	LevelSession = "session"
)

// DisabledID is the synthetic id returned when the provider is down or
// disabled.
const DisabledID = "disabled"

// Record is one stored memory item.
type Record struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Engine is the memory provider port.
type Engine interface {
	Add(ctx context.Context, namespace, text string, metadata map[string]any) (string, error)
	Search(ctx context.Context, namespace, query string, k int) ([]Record, error)
}

// Namespace encodes (user, level, ref) into the provider namespace.
func Namespace(userID int64, level string, refID string) string {
	switch level {
	case LevelTrip:
		return fmt.Sprintf("user:%d:trip:%s", userID, refID)
	case LevelSession:
		return fmt.Sprintf("user:%d:session:%s", userID, refID)
	default:
		return fmt.Sprintf("user:%d", userID)
	}
}

// Service is the graceful-degrade facade used by the planner and the
// assistant.
type Service struct {
	engine  Engine
	enabled bool
	metrics *metrics.Registry
	logger  logging.Logger
}

// NewService builds the facade. A nil engine or enabled=false turns every
// operation into a silent no-op.
func NewService(engine Engine, enabled bool, metricsReg *metrics.Registry, logger logging.Logger) *Service {
	return &Service{
		engine:  engine,
		enabled: enabled && engine != nil,
		metrics: metricsReg,
		logger:  logging.OrNop(logger),
	}
}

// Write stores text at the given level. refID selects the trip or session
// for non-user levels. Never returns an error.
func (s *Service) Write(ctx context.Context, userID int64, level, refID, text string, metadata map[string]any) string {
	if !s.enabled || text == "" {
		return DisabledID
	}
	ns := Namespace(userID, level, refID)
	meta := map[string]any{
		"level":     level,
		"user_id":   userID,
		"namespace": ns,
	}
	for k, v := range metadata {
		meta[k] = v
	}

	id, err := s.engine.Add(ctx, ns, text, meta)
	if err != nil {
		s.logger.Warn("memory write degraded (ns=%s): %v", ns, err)
		s.record("write", false, err)
		return DisabledID
	}
	s.record("write", true, nil)
	return id
}

// Search retrieves up to k records for query at the given level. Never
// returns an error; provider failures yield an empty slice.
func (s *Service) Search(ctx context.Context, userID int64, level, refID, query string, k int) []Record {
	if !s.enabled || query == "" || k <= 0 {
		return nil
	}
	ns := Namespace(userID, level, refID)
	records, err := s.engine.Search(ctx, ns, query, k)
	if err != nil {
		s.logger.Warn("memory search degraded (ns=%s): %v", ns, err)
		s.record("search", false, err)
		return nil
	}
	s.record("search", true, nil)
	return records
}

func (s *Service) record(operation string, success bool, err error) {
	if s.metrics == nil {
		return
	}
	errorType := ""
	if err != nil {
		errorType = "provider_error"
	}
	s.metrics.RecordMemoryCall(operation, success, errorType)
}
