package poller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	poller "github.com/okian/scorews/internal/adapters/poller"
	repository "github.com/okian/scorews/internal/adapters/repository"
	upstream "github.com/okian/scorews/internal/adapters/upstream"
	model "github.com/okian/scorews/internal/domain/model"
	logging "github.com/okian/scorews/pkg/logger"
)

// scriptedSource returns one scripted result per Fetch, then empty batches.
type scriptedSource struct {
	mu      sync.Mutex
	batches [][]upstream.Record
	errs    []error
	calls   int
}

func (s *scriptedSource) Fetch(_ context.Context) ([]upstream.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	return nil, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func rec(id uint64, r model.Ruleset) upstream.Record {
	return upstream.Record{ID: id, Ruleset: r, Payload: []byte(fmt.Sprintf(`{"id":%d}`, id))}
}

func newLedger() *repository.RingStore {
	return repository.NewRingStore(context.Background(),
		repository.WithCapacity(100),
		repository.WithInitialID(1))
}

func setupLogger() {
	if err := logging.Init(); err != nil {
		panic(err)
	}
}

func TestPollIngest(t *testing.T) {
	setupLogger()

	convey.Convey("Given a poller over a scripted source", t, func() {
		ctx := context.Background()
		ledger := newLedger()

		convey.Convey("When a batch arrives newest first", func() {
			src := &scriptedSource{batches: [][]upstream.Record{
				{rec(30, model.RulesetOsu), rec(20, model.RulesetTaiko), rec(10, model.RulesetOsu)},
			}}
			p := poller.New(src, ledger)
			convey.So(p.Poll(ctx), convey.ShouldBeNil)

			convey.Convey("Then it is appended in ascending upstream order", func() {
				events, _ := ledger.SnapshotFrom(ctx, 1)
				convey.So(events, convey.ShouldHaveLength, 3)
				convey.So(events[0].SourceID, convey.ShouldEqual, 10)
				convey.So(events[1].SourceID, convey.ShouldEqual, 20)
				convey.So(events[2].SourceID, convey.ShouldEqual, 30)
				convey.So(events[1].Ruleset, convey.ShouldEqual, model.RulesetTaiko)
				convey.So(string(events[2].Payload), convey.ShouldEqual, `{"id":30}`)
				convey.So(p.Status().Ingested, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When a ruleset filter is configured and the source is mixed", func() {
			src := &scriptedSource{batches: [][]upstream.Record{
				{rec(1, model.RulesetOsu), rec(2, model.RulesetMania), rec(3, model.RulesetTaiko), rec(4, model.RulesetMania)},
			}}
			p := poller.New(src, ledger, poller.WithRuleset(model.RulesetMania))
			convey.So(p.Poll(ctx), convey.ShouldBeNil)

			convey.Convey("Then only that ruleset reaches the ledger", func() {
				events, _ := ledger.SnapshotFrom(ctx, 0)
				convey.So(events, convey.ShouldHaveLength, 2)
				for _, ev := range events {
					convey.So(ev.Ruleset, convey.ShouldEqual, model.RulesetMania)
				}
			})
		})

		convey.Convey("When consecutive batches overlap", func() {
			src := &scriptedSource{batches: [][]upstream.Record{
				{rec(2, model.RulesetOsu), rec(1, model.RulesetOsu)},
				{rec(3, model.RulesetOsu), rec(2, model.RulesetOsu)},
			}}
			p := poller.New(src, ledger)
			convey.So(p.Poll(ctx), convey.ShouldBeNil)
			convey.So(p.Poll(ctx), convey.ShouldBeNil)

			convey.Convey("Then each upstream score is appended once", func() {
				events, _ := ledger.SnapshotFrom(ctx, 0)
				convey.So(events, convey.ShouldHaveLength, 3)
				convey.So(events[2].SourceID, convey.ShouldEqual, 3)
				latest, _ := ledger.LatestID(ctx)
				convey.So(latest, convey.ShouldEqual, 3)
			})
		})
	})
}

func TestPollFailures(t *testing.T) {
	setupLogger()

	convey.Convey("Given a source that fails three times and then recovers", t, func() {
		ctx := context.Background()
		ledger := newLedger()
		ledger.Append(ctx, model.RulesetOsu, 99, nil)

		transient := fmt.Errorf("%w: status 503", upstream.ErrFetch)
		src := &scriptedSource{
			errs: []error{transient, transient, transient},
			batches: [][]upstream.Record{
				nil, nil, nil,
				{rec(100, model.RulesetOsu)},
			},
		}
		p := poller.New(src, ledger)

		convey.Convey("When the first two polls fail", func() {
			convey.So(errors.Is(p.Poll(ctx), upstream.ErrFetch), convey.ShouldBeTrue)
			convey.So(errors.Is(p.Poll(ctx), upstream.ErrFetch), convey.ShouldBeTrue)

			convey.Convey("Then the poller is still running", func() {
				convey.So(p.Status().State, convey.ShouldEqual, poller.StateRunning)
				convey.So(p.Status().ConsecutiveFailures, convey.ShouldEqual, 2)
			})

			convey.Convey("When the third poll fails", func() {
				_ = p.Poll(ctx)

				convey.Convey("Then the poller is degraded and the ledger untouched", func() {
					status := p.Status()
					convey.So(status.State, convey.ShouldEqual, poller.StateDegraded)
					convey.So(status.ConsecutiveFailures, convey.ShouldEqual, 3)
					convey.So(status.LastError, convey.ShouldContainSubstring, "503")
					convey.So(ledger.Len(ctx), convey.ShouldEqual, 1)
				})

				convey.Convey("Then a fourth successful poll resumes ingestion", func() {
					convey.So(p.Poll(ctx), convey.ShouldBeNil)
					status := p.Status()
					convey.So(status.State, convey.ShouldEqual, poller.StateRunning)
					convey.So(status.ConsecutiveFailures, convey.ShouldEqual, 0)
					convey.So(status.LastError, convey.ShouldBeEmpty)
					convey.So(ledger.Len(ctx), convey.ShouldEqual, 2)
				})
			})
		})
	})
}

func TestRunStopsOnAuthFailure(t *testing.T) {
	setupLogger()

	convey.Convey("Given a source whose credentials are rejected on the second poll", t, func() {
		ctx := context.Background()
		ledger := newLedger()
		src := &scriptedSource{
			errs:    []error{nil, fmt.Errorf("%w: 401", upstream.ErrUnauthorized)},
			batches: [][]upstream.Record{{rec(1, model.RulesetOsu)}},
		}
		p := poller.New(src, ledger, poller.WithInterval(5*time.Millisecond))

		convey.Convey("When the loop runs", func() {
			go p.Run(ctx)

			select {
			case <-p.Done():
			case <-time.After(2 * time.Second):
			}

			convey.Convey("Then polling stops with a persistent auth_failed state", func() {
				convey.So(p.Status().State, convey.ShouldEqual, poller.StateAuthFailed)
				convey.So(src.Calls(), convey.ShouldEqual, 2)
				convey.So(ledger.Len(ctx), convey.ShouldEqual, 1)

				shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				convey.So(p.Shutdown(shutdownCtx), convey.ShouldBeNil)
				convey.So(p.Status().State, convey.ShouldEqual, poller.StateAuthFailed)
			})
		})
	})
}

func TestRunShutdown(t *testing.T) {
	setupLogger()

	convey.Convey("Given a running poller", t, func() {
		ctx := context.Background()
		src := &scriptedSource{}
		p := poller.New(src, newLedger(), poller.WithInterval(time.Hour))
		go p.Run(ctx)

		convey.Convey("When shutdown is requested", func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			err := p.Shutdown(shutdownCtx)

			convey.Convey("Then the loop exits after its first poll", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(src.Calls(), convey.ShouldEqual, 1)
				convey.So(p.Status().State, convey.ShouldEqual, poller.StateStopped)
				convey.So(p.Status().State.String(), convey.ShouldEqual, "stopped")
			})
		})
	})
}

func TestStateNames(t *testing.T) {
	convey.Convey("State names are stable", t, func() {
		convey.So(poller.StateRunning.String(), convey.ShouldEqual, "running")
		convey.So(poller.StateDegraded.String(), convey.ShouldEqual, "degraded")
		convey.So(poller.StateAuthFailed.String(), convey.ShouldEqual, "auth_failed")
		text, err := poller.StateStopped.MarshalText()
		convey.So(err, convey.ShouldBeNil)
		convey.So(string(text), convey.ShouldEqual, "stopped")
	})
}
