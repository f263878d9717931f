// Package poller runs the ingest loop that feeds the score ledger.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/scorews/internal/adapters/upstream"
	"github.com/okian/scorews/internal/domain/dedupe"
	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
	"github.com/okian/scorews/pkg/metrics"
)

// Default poller configuration constants.
const (
	defaultInterval      = 60 * time.Second
	defaultDegradedAfter = 3
	defaultDedupeSize    = 200_000
)

// Appender is the ledger write side.
type Appender interface {
	Append(ctx context.Context, ruleset model.Ruleset, sourceID uint64, payload json.RawMessage) model.ScoreEvent
}

// Status is a point-in-time view of the poller.
type Status struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastPoll            time.Time `json:"last_poll"`
	LastSuccess         time.Time `json:"last_success"`
	Ingested            uint64    `json:"ingested"`
}

// Poller fetches from the upstream source on a fixed period and appends
// new scores to the ledger. Cycles never overlap.
type Poller struct {
	source        upstream.Source
	ledger        Appender
	dedupe        dedupe.Deduper
	interval      time.Duration
	ruleset       *model.Ruleset
	degradedAfter int

	mu     sync.RWMutex
	status Status

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// New creates a poller reading from source and writing to ledger.
func New(source upstream.Source, ledger Appender, opts ...Option) *Poller {
	p := &Poller{
		source:        source,
		ledger:        ledger,
		interval:      defaultInterval,
		degradedAfter: defaultDegradedAfter,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.dedupe == nil {
		p.dedupe = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(defaultDedupeSize))
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("poller")
	}

	metrics.UpdatePollerState(StateRunning.gauge())
	metrics.UpdatePollConsecutiveFailures(0)

	return p
}

// Run polls immediately and then every interval until ctx is canceled,
// Shutdown is called, or the upstream rejects the credentials.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); errors.Is(err, upstream.ErrUnauthorized) {
			p.logger.Error(ctx, "upstream rejected credentials; polling stopped", logger.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			p.setState(StateStopped)
			return
		case <-p.shutdown:
			p.setState(StateStopped)
			return
		case <-ticker.C:
		}
	}
}

// Shutdown stops the loop and waits for the current cycle to finish.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() { close(p.shutdown) })

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Status returns the current poller status.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Poll runs one fetch, filter, dedupe and append cycle.
func (p *Poller) Poll(ctx context.Context) error {
	start := time.Now()
	records, err := p.source.Fetch(ctx)
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		p.recordFailure(ctx, err, latency)
		return err
	}

	// The API lists newest first.
	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	appended := 0
	for _, rec := range records {
		if p.ruleset != nil && rec.Ruleset != *p.ruleset {
			metrics.RecordScoreFiltered()
			continue
		}
		if p.dedupe.SeenAndRecord(ctx, rec.ID) {
			metrics.RecordScoreDuplicate()
			continue
		}
		p.ledger.Append(ctx, rec.Ruleset, rec.ID, rec.Payload)
		metrics.RecordScoreIngested()
		appended++
	}

	p.recordSuccess(ctx, appended, latency)
	return nil
}

func (p *Poller) recordFailure(ctx context.Context, err error, latency float64) {
	p.mu.Lock()
	p.status.ConsecutiveFailures++
	p.status.LastError = err.Error()
	p.status.LastPoll = time.Now()
	failures := p.status.ConsecutiveFailures
	prev := p.status.State
	p.mu.Unlock()

	metrics.UpdatePollConsecutiveFailures(failures)

	if errors.Is(err, upstream.ErrUnauthorized) {
		metrics.RecordPoll("unauthorized", latency)
		metrics.RecordErrorByComponent("poller", "unauthorized")
		metrics.RecordErrorByType("unauthorized", "critical")
		p.setState(StateAuthFailed)
		return
	}

	metrics.RecordPoll("error", latency)
	metrics.RecordErrorByComponent("poller", "fetch")
	metrics.RecordErrorByType("fetch", "medium")

	if failures >= p.degradedAfter {
		if prev != StateDegraded {
			p.logger.Warn(ctx, "upstream failing repeatedly; poller degraded",
				logger.Int("consecutive_failures", failures),
				logger.Error(err))
		}
		p.setState(StateDegraded)
		return
	}

	p.logger.Error(ctx, "poll failed; retrying next tick",
		logger.Int("consecutive_failures", failures),
		logger.Error(err))
}

func (p *Poller) recordSuccess(ctx context.Context, appended int, latency float64) {
	p.mu.Lock()
	recovered := p.status.State == StateDegraded
	p.status.ConsecutiveFailures = 0
	p.status.LastError = ""
	p.status.LastPoll = time.Now()
	p.status.LastSuccess = p.status.LastPoll
	p.status.Ingested += uint64(appended)
	p.mu.Unlock()

	metrics.RecordPoll("ok", latency)
	metrics.UpdatePollConsecutiveFailures(0)
	p.setState(StateRunning)

	if recovered {
		p.logger.Info(ctx, "upstream recovered")
	}
	p.logger.Debug(ctx, "poll complete", logger.Int("appended", appended))
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	// auth_failed is terminal.
	if p.status.State == StateAuthFailed {
		p.mu.Unlock()
		return
	}
	p.status.State = s
	p.mu.Unlock()
	metrics.UpdatePollerState(s.gauge())
}
