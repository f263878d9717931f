package broadcast

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scorews/internal/adapters/mq/queue"
	"github.com/okian/scorews/internal/adapters/repository"
	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
)

func init() { //nolint:gochecknoinits // tests need the global logger
	_ = logger.Init()
}

func newLedger(capacity int) *repository.RingStore {
	return repository.NewRingStore(context.Background(),
		repository.WithCapacity(capacity),
		repository.WithInitialID(1))
}

func appendN(ledger *repository.RingStore, n int) {
	for i := 0; i < n; i++ {
		ledger.Append(context.Background(), model.RulesetOsu, uint64(i), nil)
	}
}

// collect runs the delivery loop until the session ends and returns the ids.
func collect(s *Session) ([]uint64, error) {
	var got []uint64
	err := s.Deliver(context.Background(), func(ev model.ScoreEvent) error {
		got = append(got, ev.ID)
		return nil
	})
	return got, err
}

func span(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, id)
	}
	return out
}

func ptr(v uint64) *uint64 { return &v }

func TestHubLiveOnly(t *testing.T) {
	Convey("Given a ledger whose latest id is 10", t, func() {
		ledger := newLedger(100)
		appendN(ledger, 10)
		hub := New(ledger)

		Convey("When a client connects without a resume id and 11, 12 are appended", func() {
			s, ob, err := hub.Connect(context.Background(), nil)
			So(err, ShouldBeNil)
			So(ob.Resumed, ShouldBeFalse)
			So(s.Cursor(), ShouldEqual, 11)
			So(s.Mode(), ShouldEqual, ModeLive)

			appendN(ledger, 2)
			hub.Close()
			got, err := collect(s)

			Convey("Then it receives exactly 11 and 12", func() {
				So(errors.Is(err, ErrHubClosed), ShouldBeTrue)
				So(got, ShouldResemble, []uint64{11, 12})
				So(s.Cursor(), ShouldEqual, 13)
			})
		})
	})
}

func TestHubResume(t *testing.T) {
	Convey("Given a ledger of capacity 3 holding 2, 3, 4", t, func() {
		ledger := newLedger(3)
		appendN(ledger, 4)
		hub := New(ledger)

		Convey("When resuming from an evicted id", func() {
			s, ob, err := hub.Connect(context.Background(), ptr(1))
			So(err, ShouldBeNil)

			Convey("Then onboarding reports truncation from the oldest id", func() {
				So(ob.Resumed, ShouldBeTrue)
				So(ob.Truncated, ShouldBeTrue)
				So(ob.Requested, ShouldEqual, 1)
				So(ob.Oldest, ShouldEqual, 2)
				So(ob.Backlog, ShouldEqual, 3)
				So(s.Mode(), ShouldEqual, ModeReplay)

				appendN(ledger, 1)
				hub.Close()
				got, _ := collect(s)
				So(got, ShouldResemble, []uint64{2, 3, 4, 5})
			})
		})

		Convey("When resuming from a retained id", func() {
			s, ob, err := hub.Connect(context.Background(), ptr(3))
			So(err, ShouldBeNil)
			So(ob.Truncated, ShouldBeFalse)

			hub.Close()
			got, _ := collect(s)

			Convey("Then only the tail is replayed", func() {
				So(got, ShouldResemble, []uint64{3, 4})
				So(s.Mode(), ShouldEqual, ModeLive)
			})
		})

		Convey("When resuming from beyond the latest id", func() {
			s, ob, err := hub.Connect(context.Background(), ptr(7))
			So(err, ShouldBeNil)
			So(ob.Truncated, ShouldBeFalse)
			So(ob.Backlog, ShouldEqual, 0)

			appendN(ledger, 4) // ids 5..8
			hub.Close()
			got, _ := collect(s)

			Convey("Then delivery starts at the requested id", func() {
				So(got, ShouldResemble, []uint64{7, 8})
			})
		})
	})
}

func TestHubNoGapNoDuplicate(t *testing.T) {
	Convey("Given sessions connecting while the writer appends", t, func() {
		const total = 2000
		ledger := newLedger(total)
		hub := New(ledger, WithQueueSize(total))

		type result struct {
			start uint64
			ids   []uint64
		}
		results := make(chan result, 64)
		var wg sync.WaitGroup

		done := make(chan struct{})
		go func() {
			defer close(done)
			appendN(ledger, total)
		}()

		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 40; i++ {
			var resume *uint64
			if i%2 == 0 {
				resume = ptr(uint64(rng.Intn(total)) + 1)
			}
			s, _, err := hub.Connect(context.Background(), resume)
			So(err, ShouldBeNil)
			start := s.Cursor()

			wg.Add(1)
			go func() {
				defer wg.Done()
				ids, _ := collect(s)
				results <- result{start: start, ids: ids}
			}()
			time.Sleep(time.Duration(rng.Intn(200)) * time.Microsecond)
		}

		<-done
		hub.Close()
		wg.Wait()
		close(results)

		Convey("Then every session sees a contiguous run ending at the last append", func() {
			for r := range results {
				if r.start > total {
					So(r.ids, ShouldBeEmpty)
					continue
				}
				So(r.ids, ShouldResemble, span(r.start, total))
			}
		})
	})
}

func TestHubSlowConsumer(t *testing.T) {
	Convey("Given a hub with a queue of two events", t, func() {
		ledger := newLedger(100)
		hub := New(ledger, WithQueueSize(2))
		slow, _, err := hub.Connect(context.Background(), nil)
		So(err, ShouldBeNil)
		fast, _, err := hub.Connect(context.Background(), nil)
		So(err, ShouldBeNil)

		fastIDs := make(chan []uint64, 1)
		var mu sync.Mutex
		var seen []uint64
		go func() {
			_ = fast.Deliver(context.Background(), func(ev model.ScoreEvent) error {
				mu.Lock()
				seen = append(seen, ev.ID)
				n := len(seen)
				mu.Unlock()
				if n == 3 {
					fastIDs <- []uint64{1, 2, 3}
				}
				return nil
			})
		}()

		Convey("When more events arrive than the idle session can hold", func() {
			for i := 0; i < 3; i++ {
				appendN(ledger, 1)
				time.Sleep(10 * time.Millisecond)
			}

			Convey("Then only the idle session is dropped", func() {
				So(<-fastIDs, ShouldResemble, []uint64{1, 2, 3})
				So(hub.Count(), ShouldEqual, 1)
				_, err := collect(slow)
				So(errors.Is(err, ErrSlowConsumer), ShouldBeTrue)
			})
		})

		Reset(func() { hub.Close() })
	})
}

func TestHubDisconnectAndClose(t *testing.T) {
	Convey("Given a hub with one session", t, func() {
		ledger := newLedger(10)
		hub := New(ledger)
		s, _, err := hub.Connect(context.Background(), nil)
		So(err, ShouldBeNil)
		So(hub.Count(), ShouldEqual, 1)
		So(hub.Sessions(), ShouldHaveLength, 1)
		So(hub.Sessions()[0].ID, ShouldEqual, s.ID())

		Convey("When the session disconnects", func() {
			hub.Disconnect(s)
			hub.Disconnect(s)

			Convey("Then it is removed and its loop stops", func() {
				So(hub.Count(), ShouldEqual, 0)
				_, err := collect(s)
				So(errors.Is(err, ErrSessionClosed), ShouldBeTrue)
			})
		})

		Convey("When the hub is closed", func() {
			hub.Close()
			_, _, err := hub.Connect(context.Background(), nil)

			Convey("Then new connects are rejected", func() {
				So(errors.Is(err, ErrHubClosed), ShouldBeTrue)
				So(hub.Count(), ShouldEqual, 0)
			})
		})
	})
}

func TestSessionSendFailure(t *testing.T) {
	Convey("Given a session with backlog", t, func() {
		ledger := newLedger(10)
		appendN(ledger, 3)
		hub := New(ledger)
		s, _, err := hub.Connect(context.Background(), ptr(1))
		So(err, ShouldBeNil)

		Convey("When the second send fails", func() {
			boom := errors.New("broken pipe")
			calls := 0
			err := s.Deliver(context.Background(), func(ev model.ScoreEvent) error {
				calls++
				if calls == 2 {
					return boom
				}
				return nil
			})

			Convey("Then delivery stops and the cursor points at the failed event", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(s.Cursor(), ShouldEqual, 2)
			})
		})

		Reset(func() { hub.Close() })
	})
}

// countingQueue counts what passes through a session's live queue.
type countingQueue struct {
	queue.Queue
	enqueued *atomic.Int64
}

func (q countingQueue) Enqueue(ctx context.Context, e queue.Event) bool {
	ok := q.Queue.Enqueue(ctx, e)
	if ok {
		q.enqueued.Add(1)
	}
	return ok
}

func TestHubQueueFactory(t *testing.T) {
	Convey("Given a hub with its own queue factory", t, func() {
		var enqueued atomic.Int64
		var capacity int
		ledger := newLedger(10)
		hub := New(ledger, WithQueueSize(8), WithQueueFactory(func(n int) queue.Queue {
			capacity = n
			return countingQueue{Queue: queue.NewInMemoryQueue(queue.WithCapacity(n)), enqueued: &enqueued}
		}))

		Convey("When a live session receives two events", func() {
			s, _, err := hub.Connect(context.Background(), nil)
			So(err, ShouldBeNil)
			appendN(ledger, 2)
			hub.Close()
			ids, err := collect(s)

			Convey("Then they went through the factory's queue", func() {
				So(capacity, ShouldEqual, 8)
				So(enqueued.Load(), ShouldEqual, 2)
				So(ids, ShouldResemble, []uint64{1, 2})
				So(errors.Is(err, ErrHubClosed), ShouldBeTrue)
			})
		})
	})
}

func TestSessionTrace(t *testing.T) {
	Convey("Given a hub logging at trace level", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithWriter(&buf)), ShouldBeNil)
		logger.SetLevel(logger.LevelTrace)
		ledger := newLedger(10)
		appendN(ledger, 2)
		hub := New(ledger)

		Convey("When a resumed session drains its backlog", func() {
			s, _, err := hub.Connect(context.Background(), ptr(1))
			So(err, ShouldBeNil)
			hub.Close()
			ids, _ := collect(s)

			Convey("Then every delivery is traced", func() {
				So(ids, ShouldResemble, []uint64{1, 2})
				So(strings.Count(buf.String(), "event delivered"), ShouldEqual, 2)
				So(buf.String(), ShouldContainSubstring, "level=TRACE")
			})
		})

		Reset(func() { _ = logger.Init() })
	})
}
