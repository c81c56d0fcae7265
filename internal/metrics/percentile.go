package metrics

import "sort"

// Percentile computes the p-th percentile (0..100) of values using linear
// interpolation between closest ranks. Returns 0 for an empty slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	ordered := append([]float64(nil), values...)
	sort.Float64s(ordered)
	if p <= 0 {
		return ordered[0]
	}
	if p >= 100 {
		return ordered[len(ordered)-1]
	}
	k := float64(len(ordered)-1) * (p / 100.0)
	f := int(k)
	c := f + 1
	if c > len(ordered)-1 {
		c = len(ordered) - 1
	}
	if f == c {
		return ordered[f]
	}
	return ordered[f]*(float64(c)-k) + ordered[c]*(k-float64(f))
}

// ring is a fixed-capacity ring buffer keeping the most recent values,
// newest first on Items().
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, 0, capacity)}
}

func (r *ring[T]) Push(item T) {
	if len(r.items) < cap(r.items) {
		r.items = append(r.items, item)
		r.next = len(r.items) % cap(r.items)
		r.full = len(r.items) == cap(r.items)
		return
	}
	r.items[r.next] = item
	r.next = (r.next + 1) % cap(r.items)
	r.full = true
}

// Items returns the buffered values newest first.
func (r *ring[T]) Items() []T {
	out := make([]T, 0, len(r.items))
	if !r.full {
		for i := len(r.items) - 1; i >= 0; i-- {
			out = append(out, r.items[i])
		}
		return out
	}
	for i := 0; i < cap(r.items); i++ {
		idx := (r.next - 1 - i + 2*cap(r.items)) % cap(r.items)
		out = append(out, r.items[idx])
	}
	return out
}

func (r *ring[T]) Len() int {
	return len(r.items)
}

func (r *ring[T]) Clear() {
	r.items = r.items[:0]
	r.next = 0
	r.full = false
}
