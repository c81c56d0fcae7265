package metrics

import (
	"sync"
	"time"
)

// AICallEntry is one recorded model invocation.
type AICallEntry struct {
	TraceID     string    `json:"trace_id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	LatencyMS   float64   `json:"latency_ms"`
	Success     bool      `json:"success"`
	ErrorType   string    `json:"error_type,omitempty"`
	UsageTokens int       `json:"usage_tokens,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// MemoryCallEntry is one recorded memory-provider operation.
type MemoryCallEntry struct {
	Operation  string    `json:"operation"`
	Success    bool      `json:"success"`
	ErrorType  string    `json:"error_type,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AIMetrics tracks model and memory-provider activity: totals, success and
// failure counts, latency/token averages and bounded recent-call rings.
type AIMetrics struct {
	mu sync.Mutex

	callsTotal   int64
	callsSuccess int64
	callsFailed  int64
	latencyTotal float64
	tokensTotal  int64
	tokenSamples int64
	history      *ring[AICallEntry]

	memCalls   int64
	memErrors  int64
	memHistory *ring[MemoryCallEntry]
}

// NewAIMetrics returns a collector keeping historyLimit recent entries per
// category.
func NewAIMetrics(historyLimit int) *AIMetrics {
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &AIMetrics{
		history:    newRing[AICallEntry](historyLimit),
		memHistory: newRing[MemoryCallEntry](historyLimit),
	}
}

// RecordCall registers one model invocation.
func (m *AIMetrics) RecordCall(traceID, provider, model string, latencyMS float64, success bool, errorType string, usageTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callsTotal++
	if success {
		m.callsSuccess++
	} else {
		m.callsFailed++
	}
	m.latencyTotal += latencyMS
	if usageTokens > 0 {
		m.tokensTotal += int64(usageTokens)
		m.tokenSamples++
	}
	m.history.Push(AICallEntry{
		TraceID:     traceID,
		Provider:    provider,
		Model:       model,
		LatencyMS:   latencyMS,
		Success:     success,
		ErrorType:   errorType,
		UsageTokens: usageTokens,
		RecordedAt:  time.Now().UTC(),
	})
}

// RecordMemoryCall registers one memory-provider operation.
func (m *AIMetrics) RecordMemoryCall(operation string, success bool, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memCalls++
	if !success {
		m.memErrors++
	}
	m.memHistory.Push(MemoryCallEntry{
		Operation:  operation,
		Success:    success,
		ErrorType:  errorType,
		RecordedAt: time.Now().UTC(),
	})
}

// SnapshotWindow aggregates the model and memory calls recorded at or
// after cutoff, approximated from the bounded history rings.
func (m *AIMetrics) SnapshotWindow(cutoff time.Time) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		calls, success, failed int64
		latencyTotal           float64
		tokens                 int64
	)
	for _, entry := range m.history.Items() {
		if entry.RecordedAt.Before(cutoff) {
			continue
		}
		calls++
		if entry.Success {
			success++
		} else {
			failed++
		}
		latencyTotal += entry.LatencyMS
		tokens += int64(entry.UsageTokens)
	}
	avgLatency := 0.0
	if calls > 0 {
		avgLatency = latencyTotal / float64(calls)
	}

	var memCalls, memErrors int64
	for _, entry := range m.memHistory.Items() {
		if entry.RecordedAt.Before(cutoff) {
			continue
		}
		memCalls++
		if !entry.Success {
			memErrors++
		}
	}

	return map[string]any{
		"ai_calls_total":   calls,
		"ai_calls_success": success,
		"ai_calls_failed":  failed,
		"avg_latency_ms":   round3(avgLatency),
		"ai_tokens_total":  tokens,
		"mem_calls_total":  memCalls,
		"mem_errors":       memErrors,
	}
}

// Snapshot returns the aggregated view.
func (m *AIMetrics) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	avgLatency := 0.0
	if m.callsTotal > 0 {
		avgLatency = m.latencyTotal / float64(m.callsTotal)
	}
	var avgTokens any
	if m.tokenSamples > 0 {
		avgTokens = roundTo(float64(m.tokensTotal)/float64(m.tokenSamples), 100)
	}

	return map[string]any{
		"ai_calls_total":   m.callsTotal,
		"ai_calls_success": m.callsSuccess,
		"ai_calls_failed":  m.callsFailed,
		"avg_latency_ms":   round3(avgLatency),
		"avg_usage_tokens": avgTokens,
		"last_calls":       m.history.Items(),
		"mem_calls_total":  m.memCalls,
		"mem_errors":       m.memErrors,
		"mem_recent":       m.memHistory.Items(),
	}
}
