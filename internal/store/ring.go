package store

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity FIFO buffer with overwrite-oldest semantics.
//
// Push never blocks and never grows the backing array: once the ring is full
// each push evicts exactly the oldest element before appending. Snapshot
// returns an independent copy, so readers never observe a partially evicted
// ring. Ring is safe for one writer and any number of concurrent readers.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	head int // index of the oldest element
	size int

	metrics Metrics
}

// Metrics counts ring activity. All fields are updated atomically.
type Metrics struct {
	Written int64
	Evicted int64
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("store: ring capacity must be > 0")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element if the ring is full.
// It reports whether an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushLocked(v)
}

// PushAll appends values in order under a single lock and returns the number
// of evicted elements.
func (r *Ring[T]) PushAll(values ...T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for _, v := range values {
		if r.pushLocked(v) {
			evicted++
		}
	}
	return evicted
}

func (r *Ring[T]) pushLocked(v T) bool {
	atomic.AddInt64(&r.metrics.Written, 1)

	capacity := len(r.buf)
	if r.size < capacity {
		r.buf[(r.head+r.size)%capacity] = v
		r.size++
		return false
	}

	// Full: the slot of the oldest element receives the newest one.
	r.buf[r.head] = v
	r.head = (r.head + 1) % capacity
	atomic.AddInt64(&r.metrics.Evicted, 1)
	return true
}

// Snapshot returns the elements in arrival order, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Ring[T]) snapshotLocked() []T {
	out := make([]T, r.size)
	capacity := len(r.buf)
	first := capacity - r.head
	if first > r.size {
		first = r.size
	}
	copy(out, r.buf[r.head:r.head+first])
	copy(out[first:], r.buf[:r.size-first])
	return out
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Clear removes all elements. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}

// GetMetrics returns a snapshot of the ring counters.
func (r *Ring[T]) GetMetrics() Metrics {
	return Metrics{
		Written: atomic.LoadInt64(&r.metrics.Written),
		Evicted: atomic.LoadInt64(&r.metrics.Evicted),
	}
}
