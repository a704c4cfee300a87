package history

import "sync"

// Ring keeps the last N values appended to it. The oldest value is evicted
// first once the ring is full.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

// NewRing creates a ring holding at most capacity values. A capacity below
// one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Append stores v, evicting the oldest value when the ring is full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.start+r.size)%capacity] = v
		r.size++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % capacity
}

// Recent returns up to limit values, newest first. A limit of zero or less
// returns everything.
func (r *Ring[T]) Recent(limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	capacity := len(r.items)
	for i := 0; i < n; i++ {
		idx := (r.start + r.size - 1 - i) % capacity
		out = append(out, r.items[idx])
	}
	return out
}

// Latest returns the newest value.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.start+r.size-1)%len(r.items)], true
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}
