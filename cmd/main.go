package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"gopkg.in/natefinch/lumberjack.v2"

	app "github.com/okian/scorews/internal/app"
	"github.com/okian/scorews/internal/config"
	"github.com/okian/scorews/pkg/logger"
	"github.com/okian/scorews/pkg/metrics"
)

// HTTP server timeout constants. There is no WriteTimeout: it would cut
// long-lived websocket streams.
const (
	readHeaderTimeout         = 5 * time.Second
	idleTimeout               = 60 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// Log file rotation settings.
const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 5
	logFileMaxAgeDays = 14
)

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if cfg.LogFile != "" {
		rotating := newLogFile(cfg.LogFile)
		defer func() { _ = rotating.Close() }()
		if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, rotating))); err != nil {
			os.Stderr.WriteString("failed to initialize log file: " + err.Error() + "\n")
			return 1
		}
	}
	// Validated by config.Load.
	_ = logger.SetLevelString(cfg.Log)

	log := logger.Get()
	for _, w := range cfg.Warnings() {
		log.Warn(ctx, w)
	}

	metrics.Configure(metricsOptions(cfg)...)

	svc, err := app.New(ctx, cfg, app.WithLogger(log.Named("service")))
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return 1
	}

	if metrics.Enabled() {
		go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           svc.Handler(),
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}

	// Wait for shutdown signal
	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			code = 1
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop ingest and flush sessions before the listener goes away.
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return code
}

// newLogFile returns a size-rotated log file writer.
func newLogFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}
}

// metricsOptions maps the metrics settings onto the global metrics manager.
func metricsOptions(cfg *config.Config) []metrics.Option {
	return []metrics.Option{
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithRefreshInterval(cfg.MetricsRefresh()),
		metrics.WithCustomLabels(cfg.MetricsLabels),
	}
}

// startSystemMetricsUpdater samples runtime and process gauges every interval.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		logger.Get().Warn(ctx, "process metrics unavailable", logger.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
			if proc != nil {
				updateProcessMetrics(ctx, proc)
			}
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateProcessMetrics samples RSS and CPU for this process.
func updateProcessMetrics(ctx context.Context, proc *process.Process) {
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return
	}
	metrics.UpdateProcessStats(mem.RSS, cpu)
}
