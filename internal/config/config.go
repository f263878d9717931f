// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - Errors wrap this package's sentinels so callers can use errors.Is.
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
)

// Recommended poll interval bounds in seconds. Values outside are allowed
// but reported by Warnings.
const (
	recommendedIntervalMin = 15
	recommendedIntervalMax = 150
)

// Config contains process configuration.
type Config struct {
	// Port is the listen port for the websocket and operational endpoints.
	Port int `koanf:"port"`

	// Log controls verbosity: off, error, warn, info, debug, trace.
	Log string `koanf:"log"`

	// LogFile, when set, also writes logs to a rotating file.
	LogFile string `koanf:"log_file"`

	// Interval is the poll period in seconds.
	Interval int `koanf:"interval"`

	// HistoryLength is the number of score events retained for resume.
	HistoryLength int `koanf:"history_length"`

	// ResumeScoreID is the id the first ingested score receives.
	ResumeScoreID uint64 `koanf:"resume_score_id"`

	// ClientID and ClientSecret are the upstream OAuth credentials.
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`

	// Ruleset optionally restricts ingestion to one game mode.
	Ruleset string `koanf:"ruleset"`

	// ClientQueueSize caps each session's live queue.
	ClientQueueSize int `koanf:"client_queue_size"`

	// HandshakeTimeoutMS bounds the wait for a client's first message.
	HandshakeTimeoutMS int `koanf:"handshake_timeout_ms"`

	// DedupeSize is the number of upstream score ids remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// APIBaseURL is the upstream API root.
	APIBaseURL string `koanf:"api_base_url"`

	// RequestTimeoutMS bounds each upstream HTTP request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// AuthSecret, when set, requires clients to present an HS256 token.
	AuthSecret string `koanf:"auth_secret"`

	// MetricsEnabled turns Prometheus collection on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsRefreshMS is the period of the process and runtime gauges.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`

	// MetricsLabels are constant labels attached to every metric (YAML only).
	MetricsLabels map[string]string `koanf:"metrics_labels"`
}

// New creates a Config with defaults. Credentials have no default.
func New(_ context.Context) *Config {
	return &Config{
		Port:               7727,
		Log:                "info",
		Interval:           60,
		HistoryLength:      100_000,
		ClientQueueSize:    4096,
		HandshakeTimeoutMS: 5000,
		DedupeSize:         200_000,
		APIBaseURL:         "https://osu.ppy.sh",
		RequestTimeoutMS:   10_000,
		MetricsEnabled:     true,
		MetricsRefreshMS:   10_000,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range 1..65535", c.Port))
	}
	if _, err := logger.ParseLevel(c.Log); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if c.HistoryLength <= 0 {
		problems = append(problems, "history_length must be positive")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		problems = append(problems, "client_id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		problems = append(problems, "client_secret is required")
	}
	if _, err := c.RulesetFilter(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.ClientQueueSize <= 0 {
		problems = append(problems, "client_queue_size must be positive")
	}
	if c.HandshakeTimeoutMS <= 0 {
		problems = append(problems, "handshake_timeout_ms must be positive")
	}
	if c.DedupeSize <= 0 {
		problems = append(problems, "dedupe_size must be positive")
	}
	if c.MetricsRefreshMS <= 0 {
		problems = append(problems, "metrics_refresh_ms must be positive")
	}
	if c.RequestTimeoutMS <= 0 {
		problems = append(problems, "request_timeout_ms must be positive")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		problems = append(problems, fmt.Sprintf("api_base_url %q must be an http(s) URL", c.APIBaseURL))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Warnings lists valid but discouraged settings.
func (c *Config) Warnings() []string {
	var out []string
	if c.Interval > 0 && (c.Interval < recommendedIntervalMin || c.Interval > recommendedIntervalMax) {
		out = append(out, fmt.Sprintf("interval %ds is outside the recommended %d-%ds",
			c.Interval, recommendedIntervalMin, recommendedIntervalMax))
	}
	return out
}

// RulesetFilter returns the configured ruleset, or nil when unset.
func (c *Config) RulesetFilter() (*model.Ruleset, error) {
	if strings.TrimSpace(c.Ruleset) == "" {
		return nil, nil
	}
	r, err := model.ParseRuleset(c.Ruleset)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// PollInterval returns Interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// HandshakeTimeout returns HandshakeTimeoutMS as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}
