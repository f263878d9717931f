// Package dedupe defines the interface for idempotency tracking.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen upstream score ids so overlapping poll batches are ingested once.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id uint64) bool

	Size() int64
}

// inMemoryDeduper implements Deduper with a map plus a ring of insertion order.
// For bounded mode (maxSize > 0): the oldest recorded id is forgotten first.
// For unbounded mode (maxSize <= 0): ids are never forgotten.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[uint64]struct{}
	order   []uint64 // ring of recorded ids, bounded mode only
	head    int      // index of the oldest id in order
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000, // default max size
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[uint64]struct{})
	if d.maxSize > 0 {
		d.order = make([]uint64, 0, d.maxSize)
	}

	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 {
		if len(d.order) < d.maxSize {
			d.order = append(d.order, id)
		} else {
			// Full: overwrite the oldest slot and advance the head.
			delete(d.seen, d.order[d.head])
			d.order[d.head] = id
			d.head = (d.head + 1) % d.maxSize
			d.size.Add(-1)
		}
	}

	d.seen[id] = struct{}{}
	d.size.Add(1)
	return false
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
