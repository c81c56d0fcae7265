package metrics

import (
	"sync"
	"time"
)

type apiRoute struct {
	count      int64
	lastMS     float64
	recentMS   *ring[float64]
	lastSeenAt time.Time
}

// APIMetrics tracks per-route request counts and a bounded latency ring
// used to approximate p95 per route.
type APIMetrics struct {
	mu     sync.Mutex
	routes map[string]*apiRoute
	window int
}

// NewAPIMetrics returns a collector with a per-route latency window.
func NewAPIMetrics(window int) *APIMetrics {
	if window < 1 {
		window = 1
	}
	return &APIMetrics{routes: make(map[string]*apiRoute), window: window}
}

// Record registers one request for "<method>.<path>".
func (m *APIMetrics) Record(method, path string, duration time.Duration) {
	key := method + "." + path
	ms := float64(duration.Microseconds()) / 1000.0

	m.mu.Lock()
	defer m.mu.Unlock()
	route, ok := m.routes[key]
	if !ok {
		route = &apiRoute{recentMS: newRing[float64](m.window)}
		m.routes[key] = route
	}
	route.count++
	route.lastMS = ms
	route.recentMS.Push(ms)
	route.lastSeenAt = time.Now().UTC()
}

// RouteSnapshot is the aggregated view of one route.
type RouteSnapshot struct {
	Count      int64     `json:"count"`
	LastMS     float64   `json:"last_ms"`
	P95MS      float64   `json:"p95_ms"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// SnapshotWindow returns the routes seen at or after cutoff. Counters
// stay lifetime-scoped; only per-route last-seen timestamps are kept.
func (m *APIMetrics) SnapshotWindow(cutoff time.Time) map[string]RouteSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]RouteSnapshot)
	for key, route := range m.routes {
		if route.lastSeenAt.Before(cutoff) {
			continue
		}
		out[key] = RouteSnapshot{
			Count:      route.count,
			LastMS:     round3(route.lastMS),
			P95MS:      round3(Percentile(route.recentMS.Items(), 95)),
			LastSeenAt: route.lastSeenAt,
		}
	}
	return out
}

// Snapshot returns all routes keyed by "<method>.<path>".
func (m *APIMetrics) Snapshot() map[string]RouteSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]RouteSnapshot, len(m.routes))
	for key, route := range m.routes {
		out[key] = RouteSnapshot{
			Count:      route.count,
			LastMS:     round3(route.lastMS),
			P95MS:      round3(Percentile(route.recentMS.Items(), 95)),
			LastSeenAt: route.lastSeenAt,
		}
	}
	return out
}
