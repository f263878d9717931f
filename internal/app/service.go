// Package service wires the ledger, ingest poller, broadcast hub and HTTP
// surfaces into one runnable unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/scorews/internal/adapters/http/api"
	"github.com/okian/scorews/internal/adapters/http/swagger"
	"github.com/okian/scorews/internal/adapters/http/ws"
	"github.com/okian/scorews/internal/adapters/poller"
	"github.com/okian/scorews/internal/adapters/repository"
	"github.com/okian/scorews/internal/adapters/upstream"
	"github.com/okian/scorews/internal/config"
	"github.com/okian/scorews/internal/domain/broadcast"
	"github.com/okian/scorews/internal/domain/dedupe"
	"github.com/okian/scorews/internal/domain/types"
	"github.com/okian/scorews/pkg/logger"
)

// Service owns every long-lived component of the process.
type Service struct {
	mu sync.RWMutex

	// Core components
	ledger *repository.RingStore
	hub    *broadcast.Hub
	poller *poller.Poller
	stream *ws.Handler
	api    *api.Server

	// Configuration
	cfg     *config.Config
	source  upstream.Source
	ruleset string

	// State
	started   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithSource replaces the upstream client, mainly for tests.
func WithSource(src upstream.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, err := cfg.RulesetFilter()
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.source == nil {
		s.source = upstream.NewClient(cfg.ClientID, cfg.ClientSecret,
			upstream.WithBaseURL(cfg.APIBaseURL),
			upstream.WithTimeout(cfg.RequestTimeout()),
		)
	}

	s.ledger = repository.NewRingStore(ctx,
		repository.WithCapacity(cfg.HistoryLength),
		repository.WithInitialID(cfg.ResumeScoreID),
	)
	s.hub = broadcast.New(s.ledger, broadcast.WithQueueSize(cfg.ClientQueueSize))

	pollOpts := []poller.Option{
		poller.WithInterval(cfg.PollInterval()),
		poller.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
	}
	if filter != nil {
		pollOpts = append(pollOpts, poller.WithRuleset(*filter))
		s.ruleset = filter.String()
	}
	s.poller = poller.New(s.source, s.ledger, pollOpts...)

	s.stream = ws.NewHandler(s.hub,
		ws.WithHandshakeTimeout(cfg.HandshakeTimeout()),
		ws.WithAuthSecret(cfg.AuthSecret),
	)
	s.api = api.NewServer(s, s.stream)

	return s, nil
}

// Start launches the ingest loop. A stopped service cannot be restarted.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}

	s.logger.Info(ctx, "starting score stream service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.poller.Run(runCtx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "score stream service started",
		logger.Int("historyLength", s.cfg.HistoryLength),
		logger.Uint64("firstID", s.cfg.ResumeScoreID),
		logger.Int("interval", s.cfg.Interval),
		logger.String("ruleset", s.ruleset),
	)
	return nil
}

// Stop halts ingestion, closes the hub so connected clients drain, and
// waits until every stream has written its going-away close or ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info(ctx, "stopping score stream service...")

	var err error
	if shutdownErr := s.poller.Shutdown(ctx); shutdownErr != nil {
		err = fmt.Errorf("stop poller: %w", shutdownErr)
	}
	s.cancel()
	s.hub.Close()

	s.started = false
	s.stopped = true
	s.mu.Unlock()

	// Stats stay readable while streams flush.
	if drainErr := s.stream.Drain(ctx); drainErr != nil {
		s.logger.Warn(ctx, "streams still open at shutdown deadline",
			logger.Int("active", s.stream.Active()))
		err = errors.Join(err, fmt.Errorf("drain streams: %w", drainErr))
	}

	s.logger.Info(ctx, "score stream service stopped")
	return err
}

// Register mounts the stream, operational endpoints and API document on mux.
func (s *Service) Register(mux *http.ServeMux) {
	s.api.Register(mux)
	swagger.Register(mux)
}

// Handler returns a mux serving every endpoint.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Hub exposes the broadcast hub.
func (s *Service) Hub() *broadcast.Hub {
	return s.hub
}

// Ledger exposes the score ledger.
func (s *Service) Ledger() repository.Store {
	return s.ledger
}

// Poller exposes the ingest loop.
func (s *Service) Poller() *poller.Poller {
	return s.poller
}

// GetStats returns a snapshot of ledger, poller and session state.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	started, startedAt := s.started, s.startedAt
	s.mu.RUnlock()

	var ledger types.LedgerStats
	s.ledger.View(ctx, func(r repository.Reader) {
		ledger.Next = r.NextID()
		if id, ok := r.OldestID(); ok {
			ledger.Oldest = &id
		}
		if id, ok := r.LatestID(); ok {
			ledger.Latest = &id
		}
	})
	ledger.Len = s.ledger.Len(ctx)
	ledger.Capacity = s.ledger.Capacity()

	st := s.poller.Status()
	sessions := s.hub.Sessions()
	streams := s.stream.Active()

	stats := types.Stats{
		Ledger: ledger,
		Poller: types.PollerStats{
			State:               st.State.String(),
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastError:           st.LastError,
			LastPoll:            st.LastPoll,
			LastSuccess:         st.LastSuccess,
			Ingested:            st.Ingested,
			Ruleset:             s.ruleset,
		},
		Sessions: types.SessionStats{
			Connected: len(sessions),
			Streams:   streams,
			Sessions:  sessions,
		},
	}
	if started {
		stats.Uptime = time.Since(startedAt).Truncate(time.Second).String()
	}
	return stats
}
