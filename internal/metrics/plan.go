package metrics

import (
	"sync"
	"time"
)

// PlanCallEntry is one recorded planner invocation.
type PlanCallEntry struct {
	TraceID     string    `json:"trace_id"`
	Mode        string    `json:"mode"`
	Destination string    `json:"destination"`
	Days        int       `json:"days"`
	LatencyMS   float64   `json:"latency_ms"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Fallback    bool      `json:"fallback,omitempty"`
	PseudoGeo   bool      `json:"geocode_pseudo,omitempty"`
	Tokens      int       `json:"tokens,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// PlanRecord carries the fields of one planner call to Record.
type PlanRecord struct {
	TraceID     string
	Mode        string
	Destination string
	Days        int
	LatencyMS   float64
	Success     bool
	Error       string
	Fallback    bool
	PseudoGeo   bool
	Tokens      int
}

// PlanMetrics tracks planning activity for admin observability: per-mode
// counters, bounded latency windows, destination histogram and a recent
// call ring.
type PlanMetrics struct {
	mu sync.Mutex

	history *ring[PlanCallEntry]

	fastCalls     int64
	fastFailures  int64
	fastTotalDays int64
	fastLatencies *ring[float64]

	deepCalls     int64
	deepFailures  int64
	deepFallbacks int64
	deepTokens    int64
	deepLatencies *ring[float64]

	pseudoGeo    int64
	destinations map[string]int64
}

const latencyWindow = 500

// NewPlanMetrics returns a collector keeping the most recent historyLimit
// calls.
func NewPlanMetrics(historyLimit int) *PlanMetrics {
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &PlanMetrics{
		history:       newRing[PlanCallEntry](historyLimit),
		fastLatencies: newRing[float64](latencyWindow),
		deepLatencies: newRing[float64](latencyWindow),
		destinations:  make(map[string]int64),
	}
}

// Record registers one planner call.
func (m *PlanMetrics) Record(rec PlanRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	days := rec.Days
	if days < 0 {
		days = 0
	}
	switch rec.Mode {
	case "fast":
		m.fastCalls++
		m.fastTotalDays += int64(days)
		m.fastLatencies.Push(rec.LatencyMS)
		m.destinations[rec.Destination]++
		if !rec.Success {
			m.fastFailures++
		}
	case "deep":
		m.deepCalls++
		m.deepLatencies.Push(rec.LatencyMS)
		m.deepTokens += int64(rec.Tokens)
		m.destinations[rec.Destination]++
		if !rec.Success {
			m.deepFailures++
		}
		if rec.Fallback {
			m.deepFallbacks++
		}
	}
	if rec.PseudoGeo {
		m.pseudoGeo++
	}

	m.history.Push(PlanCallEntry{
		TraceID:     rec.TraceID,
		Mode:        rec.Mode,
		Destination: rec.Destination,
		Days:        days,
		LatencyMS:   rec.LatencyMS,
		Success:     rec.Success,
		Error:       rec.Error,
		Fallback:    rec.Fallback,
		PseudoGeo:   rec.PseudoGeo,
		Tokens:      rec.Tokens,
		RecordedAt:  time.Now().UTC(),
	})
}

// TopDestination is one row in the destination histogram.
type TopDestination struct {
	Destination string `json:"destination"`
	Count       int64  `json:"count"`
}

// Snapshot returns the aggregated view with the topN busiest destinations
// and the 10 most recent calls.
func (m *PlanMetrics) Snapshot(topN int) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	fast := m.fastLatencies.Items()
	deep := m.deepLatencies.Items()
	avgDays := 0.0
	if m.fastCalls > 0 {
		avgDays = float64(m.fastTotalDays) / float64(m.fastCalls)
	}
	failureRate := 0.0
	if m.fastCalls > 0 {
		failureRate = float64(m.fastFailures) / float64(m.fastCalls)
	}

	recent := m.history.Items()
	if len(recent) > 10 {
		recent = recent[:10]
	}

	return map[string]any{
		"plan_fast_calls":           m.fastCalls,
		"plan_fast_failures":        m.fastFailures,
		"plan_fast_failure_rate":    round4(failureRate),
		"plan_fast_avg_days":        round3(avgDays),
		"plan_fast_latency_ms_mean": round3(mean(fast)),
		"plan_fast_latency_ms_p95":  round3(Percentile(fast, 95)),
		"plan_deep_calls":           m.deepCalls,
		"plan_deep_failures":        m.deepFailures,
		"plan_deep_fallbacks":       m.deepFallbacks,
		"plan_deep_tokens_total":    m.deepTokens,
		"plan_deep_latency_ms_mean": round3(mean(deep)),
		"plan_deep_latency_ms_p95":  round3(Percentile(deep, 95)),
		"geocode_pseudo_centers":    m.pseudoGeo,
		"top_destinations":          m.topDestinations(topN),
		"last_10_calls":             recent,
	}
}

// SnapshotWindow aggregates the calls recorded at or after cutoff,
// approximated from the bounded history ring: entries older than the ring
// capacity are gone even when they fall inside the window.
func (m *PlanMetrics) SnapshotWindow(cutoff time.Time) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		fastCalls, fastFailures                            int64
		deepCalls, deepFailures, deepFallbacks, deepTokens int64
		pseudoGeo                                          int64
		fastLatencies, deepLatencies                       []float64
	)
	for _, entry := range m.history.Items() {
		if entry.RecordedAt.Before(cutoff) {
			continue
		}
		switch entry.Mode {
		case "fast":
			fastCalls++
			fastLatencies = append(fastLatencies, entry.LatencyMS)
			if !entry.Success {
				fastFailures++
			}
		case "deep":
			deepCalls++
			deepLatencies = append(deepLatencies, entry.LatencyMS)
			deepTokens += int64(entry.Tokens)
			if !entry.Success {
				deepFailures++
			}
			if entry.Fallback {
				deepFallbacks++
			}
		}
		if entry.PseudoGeo {
			pseudoGeo++
		}
	}

	return map[string]any{
		"plan_fast_calls":           fastCalls,
		"plan_fast_failures":        fastFailures,
		"plan_fast_latency_ms_mean": round3(mean(fastLatencies)),
		"plan_fast_latency_ms_p95":  round3(Percentile(fastLatencies, 95)),
		"plan_deep_calls":           deepCalls,
		"plan_deep_failures":        deepFailures,
		"plan_deep_fallbacks":       deepFallbacks,
		"plan_deep_tokens_total":    deepTokens,
		"plan_deep_latency_ms_mean": round3(mean(deepLatencies)),
		"plan_deep_latency_ms_p95":  round3(Percentile(deepLatencies, 95)),
		"geocode_pseudo_centers":    pseudoGeo,
	}
}

func (m *PlanMetrics) topDestinations(topN int) []TopDestination {
	if topN <= 0 {
		return []TopDestination{}
	}
	out := make([]TopDestination, 0, len(m.destinations))
	for dest, count := range m.destinations {
		out = append(out, TopDestination{Destination: dest, Count: count})
	}
	// Stable order: count desc, then destination asc.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Count > out[i].Count ||
				(out[j].Count == out[i].Count && out[j].Destination < out[i].Destination) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Reset clears all counters and windows.
func (m *PlanMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Clear()
	m.fastCalls, m.fastFailures, m.fastTotalDays = 0, 0, 0
	m.fastLatencies.Clear()
	m.deepCalls, m.deepFailures, m.deepFallbacks, m.deepTokens = 0, 0, 0, 0
	m.deepLatencies.Clear()
	m.pseudoGeo = 0
	m.destinations = make(map[string]int64)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round3(v float64) float64 { return roundTo(v, 1000) }
func round4(v float64) float64 { return roundTo(v, 10000) }

func roundTo(v float64, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
