// Package repository defines the score ledger interface and its ring-buffer implementation.
package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/metrics"
)

// Default ledger configuration constants.
const (
	defaultCapacity = 100_000
)

// RingStore is a fixed-capacity ledger. Slots are preallocated and an
// event with id n lives at slots[n % capacity].
//
// Invariants (guarded by mu):
//   - retained ids are exactly [nextID-size, nextID)
//   - size <= capacity
//   - nextID never decreases
type RingStore struct {
	mu       sync.RWMutex
	slots    []model.ScoreEvent
	capacity int
	nextID   uint64
	size     int
	observer Observer
}

// NewRingStore creates a ledger with configuration options.
func NewRingStore(_ context.Context, opts ...Option) *RingStore {
	s := &RingStore{
		capacity: defaultCapacity,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.slots = make([]model.ScoreEvent, s.capacity)

	metrics.UpdateLedgerCapacity(s.capacity)
	metrics.UpdateLedger(0, 0)

	return s
}

// Append assigns the next id, stores the event and notifies the observer.
func (s *RingStore) Append(_ context.Context, ruleset model.Ruleset, sourceID uint64, payload json.RawMessage) model.ScoreEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := model.ScoreEvent{
		ID:       s.nextID,
		Ruleset:  ruleset,
		SourceID: sourceID,
		Payload:  payload,
	}
	s.slots[s.index(ev.ID)] = ev
	s.nextID++

	if s.size < s.capacity {
		s.size++
	} else {
		// The slot we just wrote held the oldest event.
		metrics.RecordLedgerEviction()
	}

	metrics.UpdateLedger(s.size, ev.ID)

	if s.observer != nil {
		s.observer.OnEvent(ev)
	}

	return ev
}

// SnapshotFrom returns retained events with ID >= id.
func (s *RingStore) SnapshotFrom(_ context.Context, id uint64) ([]model.ScoreEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotFrom(id)
}

// LatestID returns the newest id.
func (s *RingStore) LatestID(_ context.Context) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestID()
}

// OldestID returns the oldest retained id.
func (s *RingStore) OldestID(_ context.Context) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oldestID()
}

// NextID returns the id the next append will receive.
func (s *RingStore) NextID(_ context.Context) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

// Len returns the number of retained events.
func (s *RingStore) Len(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the configured capacity.
func (s *RingStore) Capacity() int {
	return s.capacity
}

// View runs fn under the read lock. Appends wait until fn returns, so a
// snapshot taken and a registration made inside fn see the same point in
// the append sequence.
func (s *RingStore) View(_ context.Context, fn func(r Reader)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(ringReader{s: s})
}

// SetObserver registers o to be called for every append.
func (s *RingStore) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

func (s *RingStore) index(id uint64) int {
	return int(id % uint64(s.capacity))
}

// oldest returns the lowest id still available. An empty ledger has
// nothing older than nextID.
func (s *RingStore) oldest() uint64 {
	return s.nextID - uint64(s.size)
}

func (s *RingStore) latestID() (uint64, bool) {
	if s.size == 0 {
		return 0, false
	}
	return s.nextID - 1, true
}

func (s *RingStore) oldestID() (uint64, bool) {
	if s.size == 0 {
		return 0, false
	}
	return s.oldest(), true
}

func (s *RingStore) snapshotFrom(id uint64) ([]model.ScoreEvent, bool) {
	start, truncated := id, false
	if oldest := s.oldest(); id < oldest {
		start, truncated = oldest, true
	}
	if start >= s.nextID {
		return nil, truncated
	}

	out := make([]model.ScoreEvent, 0, s.nextID-start)
	for i := start; i < s.nextID; i++ {
		out = append(out, s.slots[s.index(i)])
	}
	return out, truncated
}

// ringReader exposes the unlocked accessors inside View.
type ringReader struct {
	s *RingStore
}

func (r ringReader) SnapshotFrom(id uint64) ([]model.ScoreEvent, bool) { return r.s.snapshotFrom(id) }
func (r ringReader) LatestID() (uint64, bool)                          { return r.s.latestID() }
func (r ringReader) OldestID() (uint64, bool)                          { return r.s.oldestID() }
func (r ringReader) NextID() uint64                                    { return r.s.nextID }
