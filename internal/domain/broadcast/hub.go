// Package broadcast fans ledger appends out to subscriber sessions and
// onboards new sessions with retained backlog.
package broadcast

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/scorews/internal/adapters/mq/queue"
	"github.com/okian/scorews/internal/adapters/repository"
	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/internal/domain/types"
	"github.com/okian/scorews/pkg/logger"
	"github.com/okian/scorews/pkg/metrics"
)

// Default hub configuration constants.
const (
	defaultQueueSize = 4096
)

// SessionInfo is a point-in-time view of one session.
type SessionInfo = types.Session

// Hub owns the session registry. It observes the ledger so every append
// reaches every registered session.
type Hub struct {
	ledger    repository.Store
	queueSize int
	newQueue  func(capacity int) queue.Queue
	logger    logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// New creates a hub and registers it as the ledger's observer.
func New(ledger repository.Store, opts ...Option) *Hub {
	h := &Hub{
		ledger:    ledger,
		queueSize: defaultQueueSize,
		sessions:  make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = logger.Get().Named("hub")
	}
	if h.newQueue == nil {
		h.newQueue = func(capacity int) queue.Queue {
			return queue.NewInMemoryQueue(queue.WithCapacity(capacity))
		}
	}

	ledger.SetObserver(h)
	return h
}

// Connect registers a new session. With resume nil the session receives
// only events appended after this call. Otherwise it first receives every
// retained event with id >= *resume.
//
// The snapshot and the registration happen inside one ledger view, so no
// append can fall between them.
func (h *Hub) Connect(ctx context.Context, resume *uint64) (*Session, Onboarding, error) {
	var (
		s   *Session
		ob  Onboarding
		err error
	)

	h.ledger.View(ctx, func(r repository.Reader) {
		s = newSession(h.newQueue(h.queueSize), h.logger)
		next := r.NextID()

		if resume == nil {
			s.cursor.Store(next)
			s.mode.Store(int32(ModeLive))
		} else {
			events, truncated := r.SnapshotFrom(*resume)
			oldest, ok := r.OldestID()
			if !ok {
				oldest = next
			}

			ob = Onboarding{
				Resumed:   true,
				Requested: *resume,
				Oldest:    oldest,
				Truncated: truncated,
				Backlog:   len(events),
			}

			cursor := *resume
			if truncated {
				cursor = oldest
			}
			s.backlog = events
			s.cursor.Store(cursor)
			if len(events) == 0 {
				s.mode.Store(int32(ModeLive))
			}
			metrics.RecordSnapshot(len(events), truncated)
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			err = ErrHubClosed
			return
		}
		h.sessions[s.id] = s
		metrics.UpdateSessionsConnected(len(h.sessions))
	})

	if err != nil {
		metrics.RecordSessionRejected("hub_closed")
		return nil, Onboarding{}, err
	}

	metrics.RecordSessionOpened()
	h.logger.Debug(ctx, "session connected",
		logger.String("session", s.id),
		logger.Bool("resumed", ob.Resumed),
		logger.Uint64("cursor", s.Cursor()),
		logger.Int("backlog", ob.Backlog),
		logger.Bool("truncated", ob.Truncated))

	return s, ob, nil
}

// OnEvent enqueues ev into every registered session. Sessions whose queue
// is full are dropped. It is called by the ledger under its write lock and
// never blocks.
func (h *Hub) OnEvent(ev model.ScoreEvent) { //nolint:gocritic // hugeParam: observer contract passes by value
	ctx := context.Background()

	var slow []*Session
	h.mu.RLock()
	for _, s := range h.sessions {
		if !s.queue.Enqueue(ctx, ev) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		if h.remove(s, "slow_consumer") {
			s.end(ErrSlowConsumer, true)
			h.logger.Warn(ctx, "dropping slow session",
				logger.String("session", s.id),
				logger.Uint64("cursor", s.Cursor()),
				logger.Uint64("event_id", ev.ID))
		}
	}
}

// Disconnect removes s and discards its queue.
func (h *Hub) Disconnect(s *Session) {
	if s == nil {
		return
	}
	if h.remove(s, "client_gone") {
		s.end(ErrSessionClosed, true)
	}
}

// Close ends every session after its queued events are delivered and
// rejects further connects.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	metrics.UpdateSessionsConnected(0)
	h.mu.Unlock()

	for _, s := range sessions {
		metrics.RecordSessionClosed("shutdown")
		s.end(ErrHubClosed, false)
	}
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions returns a snapshot of registered sessions ordered by creation time.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, SessionInfo{
			ID:        s.id,
			Mode:      s.Mode().String(),
			Cursor:    s.Cursor(),
			Pending:   s.Pending(),
			CreatedAt: s.createdAt,
		})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (h *Hub) remove(s *Session, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.id]; !ok {
		return false
	}
	delete(h.sessions, s.id)
	metrics.UpdateSessionsConnected(len(h.sessions))
	metrics.RecordSessionClosed(reason)
	return true
}
