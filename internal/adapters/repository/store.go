// Package repository defines the score ledger interface and its ring-buffer implementation.
package repository

import (
	"context"
	"encoding/json"

	"github.com/okian/scorews/internal/domain/model"
)

// Observer is told about every appended event. OnEvent runs while the
// ledger's write lock is held, so it must not block and must not call
// back into the ledger.
type Observer interface {
	OnEvent(ev model.ScoreEvent)
}

// Reader is a consistent view of the ledger handed out by Store.View.
// It is only valid inside the callback.
type Reader interface {
	SnapshotFrom(id uint64) ([]model.ScoreEvent, bool)
	LatestID() (uint64, bool)
	OldestID() (uint64, bool)
	NextID() uint64
}

// Store is the bounded, append-only, id-ordered score ledger.
type Store interface {
	// Append assigns the next id, stores the event and evicts the oldest
	// entries beyond capacity. It never blocks on readers' consumers.
	Append(ctx context.Context, ruleset model.Ruleset, sourceID uint64, payload json.RawMessage) model.ScoreEvent

	// SnapshotFrom returns every retained event with ID >= id in ascending
	// order. truncated is true when id is older than the oldest retained id.
	SnapshotFrom(ctx context.Context, id uint64) (events []model.ScoreEvent, truncated bool)

	// LatestID returns the id of the newest event; false if empty.
	LatestID(ctx context.Context) (uint64, bool)

	// OldestID returns the id of the oldest retained event; false if empty.
	OldestID(ctx context.Context) (uint64, bool)

	// NextID returns the id the next append will receive.
	NextID(ctx context.Context) uint64

	// Len returns the number of retained events.
	Len(ctx context.Context) int

	// Capacity returns the maximum number of retained events.
	Capacity() int

	// View runs fn while appends are excluded.
	View(ctx context.Context, fn func(r Reader))

	// SetObserver registers the single append observer.
	SetObserver(o Observer)
}
