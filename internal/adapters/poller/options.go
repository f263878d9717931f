package poller

import (
	"time"

	"github.com/okian/scorews/internal/domain/dedupe"
	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
)

// Option applies a configuration option to the Poller.
type Option func(*Poller)

// WithInterval sets the time between polls.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRuleset restricts ingestion to one ruleset.
func WithRuleset(r model.Ruleset) Option {
	return func(p *Poller) {
		p.ruleset = &r
	}
}

// WithDeduper sets the upstream id seen-set.
func WithDeduper(d dedupe.Deduper) Option {
	return func(p *Poller) {
		if d != nil {
			p.dedupe = d
		}
	}
}

// WithDegradedAfter sets how many consecutive failures mark the poller degraded.
func WithDegradedAfter(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.degradedAfter = n
		}
	}
}

// WithLogger sets a custom logger for the poller.
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}
