package ws

import (
	"sync"
	"time"
)

// slidingWindow is a per-connection event rate limiter over a fixed
// window. A non-positive limit disables limiting.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
	now    func() time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window, now: time.Now}
}

// Allow records one event and reports whether it stays under the limit.
func (w *slidingWindow) Allow() bool {
	if w.limit <= 0 {
		return true
	}
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept
	if len(w.events) >= w.limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}
