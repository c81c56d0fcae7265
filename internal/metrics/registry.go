// Package metrics is the process-wide observability registry: in-memory
// collectors snapshot-able through the admin API, mirrored into Prometheus
// collectors served on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultHistoryLimit = 50

// Registry bundles the per-concern collectors.
type Registry struct {
	Plan *PlanMetrics
	AI   *AIMetrics
	Poi  PoiCounters
	API  *APIMetrics

	prom *promMirror
}

// Option customises a Registry.
type Option func(*Registry)

// WithPoiCounters swaps the POI counter backend (e.g. Redis-shared).
func WithPoiCounters(counters PoiCounters) Option {
	return func(r *Registry) { r.Poi = counters }
}

// NewRegistry builds the collector set and registers the Prometheus
// mirrors on reg (pass nil to skip Prometheus registration, e.g. in tests).
func NewRegistry(reg prometheus.Registerer, opts ...Option) *Registry {
	r := &Registry{
		Plan: NewPlanMetrics(100),
		AI:   NewAIMetrics(defaultHistoryLimit),
		Poi:  NewPoiCounters(),
		API:  NewAPIMetrics(200),
	}
	for _, opt := range opts {
		opt(r)
	}
	if reg != nil {
		r.prom = newPromMirror(reg)
	}
	return r
}

// RecordPlan records one planner call in both the snapshot collector and
// the Prometheus mirror.
func (r *Registry) RecordPlan(rec PlanRecord) {
	r.Plan.Record(rec)
	if r.prom != nil {
		r.prom.planCalls.WithLabelValues(rec.Mode, strconv.FormatBool(rec.Success)).Inc()
		r.prom.planLatency.WithLabelValues(rec.Mode).Observe(rec.LatencyMS / 1000.0)
	}
}

// RecordAICall records one model invocation.
func (r *Registry) RecordAICall(traceID, provider, model string, latencyMS float64, success bool, errorType string, usageTokens int) {
	r.AI.RecordCall(traceID, provider, model, latencyMS, success, errorType, usageTokens)
	if r.prom != nil {
		r.prom.aiCalls.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
		if usageTokens > 0 {
			r.prom.aiTokens.Add(float64(usageTokens))
		}
	}
}

// RecordMemoryCall records one memory-provider operation.
func (r *Registry) RecordMemoryCall(operation string, success bool, errorType string) {
	r.AI.RecordMemoryCall(operation, success, errorType)
	if r.prom != nil {
		r.prom.memCalls.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	}
}

// RecordAPI records one HTTP request.
func (r *Registry) RecordAPI(method, path string, duration time.Duration) {
	r.API.Record(method, path, duration)
	if r.prom != nil {
		r.prom.apiRequests.WithLabelValues(method, path).Inc()
		r.prom.apiLatency.WithLabelValues(method, path).Observe(duration.Seconds())
	}
}

// PoiCacheHit and friends forward to the POI counter backend and the
// Prometheus mirror.
func (r *Registry) PoiCacheHit() {
	r.Poi.IncrCacheHit()
	r.promPoi("cache_hit")
}

func (r *Registry) PoiCacheMiss() {
	r.Poi.IncrCacheMiss()
	r.promPoi("cache_miss")
}

func (r *Registry) PoiAPICall() {
	r.Poi.IncrAPICall()
	r.promPoi("api_call")
}

func (r *Registry) PoiAPIFailure() {
	r.Poi.IncrAPIFailure()
	r.promPoi("api_failure")
}

func (r *Registry) promPoi(event string) {
	if r.prom != nil {
		r.prom.poiEvents.WithLabelValues(event).Inc()
	}
}

// Snapshot returns the full JSON-friendly view used by the admin API.
func (r *Registry) Snapshot() map[string]any {
	return map[string]any{
		"plan": r.Plan.Snapshot(8),
		"ai":   r.AI.Snapshot(),
		"poi":  r.Poi.Snapshot(),
		"api":  r.API.Snapshot(),
	}
}

// SnapshotWindow restricts the view to activity within the trailing
// window, approximated from the bounded history rings. POI counters are
// monotonic without timestamps and stay lifetime-scoped. A non-positive
// window falls back to the full snapshot.
func (r *Registry) SnapshotWindow(window time.Duration) map[string]any {
	if window <= 0 {
		return r.Snapshot()
	}
	cutoff := time.Now().UTC().Add(-window)
	return map[string]any{
		"window_seconds": int64(window.Seconds()),
		"plan":           r.Plan.SnapshotWindow(cutoff),
		"ai":             r.AI.SnapshotWindow(cutoff),
		"poi":            r.Poi.Snapshot(),
		"api":            r.API.SnapshotWindow(cutoff),
	}
}

type promMirror struct {
	planCalls   *prometheus.CounterVec
	planLatency *prometheus.HistogramVec
	aiCalls     *prometheus.CounterVec
	aiTokens    prometheus.Counter
	memCalls    *prometheus.CounterVec
	poiEvents   *prometheus.CounterVec
	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
}

func newPromMirror(reg prometheus.Registerer) *promMirror {
	m := &promMirror{
		planCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelist_plan_calls_total",
			Help: "Planner invocations by mode and success.",
		}, []string{"mode", "success"}),
		planLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "travelist_plan_latency_seconds",
			Help:    "End-to-end planner latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelist_ai_calls_total",
			Help: "Model invocations by provider and success.",
		}, []string{"provider", "success"}),
		aiTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "travelist_ai_tokens_total",
			Help: "Total tokens reported by the model provider.",
		}),
		memCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelist_memory_calls_total",
			Help: "Memory provider operations by kind and success.",
		}, []string{"operation", "success"}),
		poiEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelist_poi_events_total",
			Help: "POI cache-aside events.",
		}, []string{"event"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travelist_http_requests_total",
			Help: "HTTP requests by method and route.",
		}, []string{"method", "path"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "travelist_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(m.planCalls, m.planLatency, m.aiCalls, m.aiTokens, m.memCalls, m.poiEvents, m.apiRequests, m.apiLatency)
	return m
}
