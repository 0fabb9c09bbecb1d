// Package epoch implements epoch-stamped deferred reclamation.
//
// Objects that concurrent readers may still reference are retired with the
// epoch current at retirement time. They become collectable once the epoch
// has advanced by the configured grace period, which guarantees that every
// pass that could have observed them has completed.
package epoch

import (
	"slices"
	"sync"
)

// DefaultGrace is the number of epoch advances a retired object waits.
const DefaultGrace = 2

// Reclaimer holds retired objects keyed by the epoch they were retired in.
type Reclaimer[T any] struct {
	mu      sync.Mutex
	grace   uint64
	pending map[uint64][]T
	n       int
}

// New returns a Reclaimer with the given grace period. A zero grace uses
// DefaultGrace.
func New[T any](grace uint64) *Reclaimer[T] {
	if grace == 0 {
		grace = DefaultGrace
	}
	return &Reclaimer[T]{
		grace:   grace,
		pending: make(map[uint64][]T),
	}
}

// Retire stamps v with epoch and queues it.
func (r *Reclaimer[T]) Retire(epoch uint64, v T) {
	r.mu.Lock()
	r.pending[epoch] = append(r.pending[epoch], v)
	r.n++
	r.mu.Unlock()
}

// Collect removes and returns every object whose grace period has elapsed
// at epoch current, oldest first.
func (r *Reclaimer[T]) Collect(current uint64) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []uint64
	for stamp := range r.pending {
		if current >= stamp+r.grace {
			ready = append(ready, stamp)
		}
	}
	slices.Sort(ready)

	var out []T
	for _, stamp := range ready {
		out = append(out, r.pending[stamp]...)
		delete(r.pending, stamp)
	}
	r.n -= len(out)
	return out
}

// Drain removes and returns every pending object regardless of epoch.
func (r *Reclaimer[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamps := make([]uint64, 0, len(r.pending))
	for stamp := range r.pending {
		stamps = append(stamps, stamp)
	}
	slices.Sort(stamps)

	out := make([]T, 0, r.n)
	for _, stamp := range stamps {
		out = append(out, r.pending[stamp]...)
	}
	clear(r.pending)
	r.n = 0
	return out
}

// Len returns the number of pending objects.
func (r *Reclaimer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
