package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 5.0, Percentile([]float64{5}, 95))
	assert.Equal(t, 1.0, Percentile([]float64{3, 2, 1}, 0))
	assert.Equal(t, 3.0, Percentile([]float64{3, 2, 1}, 100))
	// Linear interpolation between ranks.
	assert.InDelta(t, 2.8, Percentile([]float64{1, 2, 3}, 90), 1e-9)
}

func TestRingKeepsNewestFirst(t *testing.T) {
	r := newRing[int](3)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2, 1}, r.Items())
	r.Push(3)
	r.Push(4) // evicts 1
	assert.Equal(t, []int{4, 3, 2}, r.Items())
}

func TestPlanMetricsSnapshot(t *testing.T) {
	m := NewPlanMetrics(100)
	m.Record(PlanRecord{TraceID: "t1", Mode: "fast", Destination: "广州", Days: 2, LatencyMS: 10, Success: true})
	m.Record(PlanRecord{TraceID: "t2", Mode: "fast", Destination: "广州", Days: 4, LatencyMS: 30, Success: false, Error: "plan_failed"})
	m.Record(PlanRecord{TraceID: "t3", Mode: "deep", Destination: "上海", Days: 3, LatencyMS: 200, Success: true, Fallback: true, Tokens: 321, PseudoGeo: true})

	snap := m.Snapshot(8)
	assert.Equal(t, int64(2), snap["plan_fast_calls"])
	assert.Equal(t, int64(1), snap["plan_fast_failures"])
	assert.Equal(t, 0.5, snap["plan_fast_failure_rate"])
	assert.Equal(t, 3.0, snap["plan_fast_avg_days"])
	assert.Equal(t, 20.0, snap["plan_fast_latency_ms_mean"])
	assert.Equal(t, int64(1), snap["plan_deep_fallbacks"])
	assert.Equal(t, int64(321), snap["plan_deep_tokens_total"])
	assert.Equal(t, int64(1), snap["geocode_pseudo_centers"])

	top := snap["top_destinations"].([]TopDestination)
	require.Len(t, top, 2)
	assert.Equal(t, "广州", top[0].Destination)
	assert.Equal(t, int64(2), top[0].Count)

	recent := snap["last_10_calls"].([]PlanCallEntry)
	require.Len(t, recent, 3)
	assert.Equal(t, "t3", recent[0].TraceID)

	m.Reset()
	assert.Equal(t, int64(0), m.Snapshot(8)["plan_fast_calls"])
}

func TestAIMetricsSnapshot(t *testing.T) {
	m := NewAIMetrics(10)
	m.RecordCall("t1", "mock", "mock-chat", 12, true, "", 100)
	m.RecordCall("t2", "mock", "mock-chat", 8, false, "timeout", 0)
	m.RecordMemoryCall("search", true, "")
	m.RecordMemoryCall("write", false, "provider_down")

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap["ai_calls_total"])
	assert.Equal(t, int64(1), snap["ai_calls_failed"])
	assert.Equal(t, 10.0, snap["avg_latency_ms"])
	assert.Equal(t, 100.0, snap["avg_usage_tokens"])
	assert.Equal(t, int64(2), snap["mem_calls_total"])
	assert.Equal(t, int64(1), snap["mem_errors"])
}

func TestPoiCounters(t *testing.T) {
	c := NewPoiCounters()
	c.IncrCacheMiss()
	c.IncrAPICall()
	c.IncrCacheHit()
	c.IncrCacheHit()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap["cache_hits"])
	assert.Equal(t, int64(1), snap["cache_misses"])
	assert.Equal(t, int64(1), snap["api_calls"])
	assert.Equal(t, int64(0), snap["api_failures"])
}

func TestAPIMetricsP95(t *testing.T) {
	m := NewAPIMetrics(100)
	for i := 1; i <= 100; i++ {
		m.Record("GET", "/api/poi/around", time.Duration(i)*time.Millisecond)
	}
	snap := m.Snapshot()
	route, ok := snap["GET./api/poi/around"]
	require.True(t, ok)
	assert.Equal(t, int64(100), route.Count)
	assert.Equal(t, 100.0, route.LastMS)
	assert.InDelta(t, 95.0, route.P95MS, 1.0)
}

func TestPlanMetricsSnapshotWindow(t *testing.T) {
	m := NewPlanMetrics(100)
	m.Record(PlanRecord{TraceID: "t1", Mode: "fast", Destination: "广州", LatencyMS: 10, Success: true})
	m.Record(PlanRecord{TraceID: "t2", Mode: "deep", Destination: "上海", LatencyMS: 200, Success: false, Fallback: true, Tokens: 50, PseudoGeo: true})

	snap := m.SnapshotWindow(time.Now().Add(-time.Minute))
	assert.Equal(t, int64(1), snap["plan_fast_calls"])
	assert.Equal(t, int64(1), snap["plan_deep_calls"])
	assert.Equal(t, int64(1), snap["plan_deep_failures"])
	assert.Equal(t, int64(1), snap["plan_deep_fallbacks"])
	assert.Equal(t, int64(50), snap["plan_deep_tokens_total"])
	assert.Equal(t, int64(1), snap["geocode_pseudo_centers"])
	assert.Equal(t, 10.0, snap["plan_fast_latency_ms_mean"])

	// Entries recorded before the cutoff fall out of the window.
	expired := m.SnapshotWindow(time.Now().Add(time.Minute))
	assert.Equal(t, int64(0), expired["plan_fast_calls"])
	assert.Equal(t, int64(0), expired["plan_deep_calls"])
	assert.Equal(t, int64(0), expired["geocode_pseudo_centers"])
}

func TestAIMetricsSnapshotWindow(t *testing.T) {
	m := NewAIMetrics(10)
	m.RecordCall("t1", "mock", "mock-chat", 12, true, "", 100)
	m.RecordCall("t2", "mock", "mock-chat", 8, false, "timeout", 0)
	m.RecordMemoryCall("search", false, "provider_down")

	snap := m.SnapshotWindow(time.Now().Add(-time.Minute))
	assert.Equal(t, int64(2), snap["ai_calls_total"])
	assert.Equal(t, int64(1), snap["ai_calls_failed"])
	assert.Equal(t, 10.0, snap["avg_latency_ms"])
	assert.Equal(t, int64(100), snap["ai_tokens_total"])
	assert.Equal(t, int64(1), snap["mem_calls_total"])
	assert.Equal(t, int64(1), snap["mem_errors"])

	expired := m.SnapshotWindow(time.Now().Add(time.Minute))
	assert.Equal(t, int64(0), expired["ai_calls_total"])
	assert.Equal(t, int64(0), expired["mem_calls_total"])
}

func TestAPIMetricsSnapshotWindow(t *testing.T) {
	m := NewAPIMetrics(10)
	m.Record("GET", "/api/poi/around", 5*time.Millisecond)

	snap := m.SnapshotWindow(time.Now().Add(-time.Minute))
	require.Contains(t, snap, "GET./api/poi/around")

	assert.Empty(t, m.SnapshotWindow(time.Now().Add(time.Minute)))
}

func TestRegistrySnapshotWindow(t *testing.T) {
	r := NewRegistry(nil)
	r.RecordPlan(PlanRecord{Mode: "fast", Destination: "x", Days: 1, LatencyMS: 5, Success: true})
	r.PoiCacheHit()

	snap := r.SnapshotWindow(time.Hour)
	assert.Equal(t, int64(3600), snap["window_seconds"])
	plan := snap["plan"].(map[string]any)
	assert.Equal(t, int64(1), plan["plan_fast_calls"])
	// POI counters carry no timestamps and stay lifetime-scoped.
	poi := snap["poi"].(map[string]int64)
	assert.Equal(t, int64(1), poi["cache_hits"])

	full := r.SnapshotWindow(0)
	assert.NotContains(t, full, "window_seconds")
}

func TestRegistrySnapshotWithoutPrometheus(t *testing.T) {
	r := NewRegistry(nil)
	r.RecordPlan(PlanRecord{Mode: "fast", Destination: "x", Days: 1, LatencyMS: 5, Success: true})
	r.PoiCacheMiss()
	r.PoiAPICall()
	r.RecordAPI("GET", "/x", time.Millisecond)

	snap := r.Snapshot()
	require.Contains(t, snap, "plan")
	require.Contains(t, snap, "poi")
	poi := snap["poi"].(map[string]int64)
	assert.Equal(t, int64(1), poi["cache_misses"])
}
