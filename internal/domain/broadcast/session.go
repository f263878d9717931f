package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/scorews/internal/adapters/mq/queue"
	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
	"github.com/okian/scorews/pkg/metrics"
)

// Mode is the delivery phase of a session.
type Mode int32

const (
	// ModeReplay means retained backlog is still being delivered.
	ModeReplay Mode = iota
	// ModeLive means the session only receives newly appended events.
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "replay"
}

// Onboarding describes how a session was brought up to date.
type Onboarding struct {
	Resumed   bool
	Requested uint64
	Oldest    uint64
	Truncated bool
	Backlog   int
}

// Session is one subscriber. The hub fills its live queue; a single
// delivery loop drains backlog then queue through Deliver.
type Session struct {
	id        string
	createdAt time.Time

	backlog    []model.ScoreEvent
	backlogPos atomic.Int64
	queue      queue.Queue
	logger     logger.Logger

	cursor atomic.Uint64
	mode   atomic.Int32

	kill    chan struct{}
	endOnce sync.Once
	endErr  error
}

func newSession(q queue.Queue, log logger.Logger) *Session {
	return &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		queue:     q,
		logger:    log,
		kill:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Cursor returns the next id this session has not been delivered.
func (s *Session) Cursor() uint64 { return s.cursor.Load() }

// Mode returns the current delivery phase.
func (s *Session) Mode() Mode { return Mode(s.mode.Load()) }

// Pending returns the number of events accepted for this session but not yet delivered.
func (s *Session) Pending() int {
	return len(s.backlog) - int(s.backlogPos.Load()) + s.queue.Len(context.Background())
}

// Deliver drains the backlog and then the live queue, calling send for
// each event in ascending id order. It returns when ctx is done, send
// fails, or the session ends; in the last case the error says why.
func (s *Session) Deliver(ctx context.Context, send func(model.ScoreEvent) error) error {
	for i := int(s.backlogPos.Load()); i < len(s.backlog); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kill:
			return s.endErr
		default:
		}
		if err := s.deliver(ctx, s.backlog[i], send); err != nil {
			return err
		}
		s.backlogPos.Store(int64(i + 1))
	}
	s.mode.Store(int32(ModeLive))

	events := s.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kill:
			return s.endErr
		case ev, ok := <-events:
			if !ok {
				return s.endErr
			}
			metrics.RecordQueueDequeue()
			if err := s.deliver(ctx, ev, send); err != nil {
				return err
			}
		}
	}
}

func (s *Session) deliver(ctx context.Context, ev model.ScoreEvent, send func(model.ScoreEvent) error) error {
	// Ids below the cursor were already delivered or explicitly skipped.
	if ev.ID < s.cursor.Load() {
		return nil
	}
	if err := send(ev); err != nil {
		return fmt.Errorf("send event %d: %w", ev.ID, err)
	}
	s.cursor.Store(ev.ID + 1)
	metrics.RecordEventDelivered()
	s.logger.Trace(ctx, "event delivered",
		logger.String("session", s.id),
		logger.Uint64("id", ev.ID),
		logger.String("mode", s.Mode().String()))
	return nil
}

// end records why the session finished. When abort is set the delivery
// loop stops at once; otherwise it first drains what is queued.
func (s *Session) end(err error, abort bool) {
	s.endOnce.Do(func() {
		s.endErr = err
		if abort {
			close(s.kill)
		}
		_ = s.queue.Close()
	})
}
