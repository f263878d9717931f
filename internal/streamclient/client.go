// Package streamclient is a websocket consumer for the score stream used
// for smoke tests and manual resume checks.
package streamclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/scorews/internal/adapters/http/ws"
	"github.com/okian/scorews/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Run connects, streams until Duration elapses or ctx ends, then asks the
// server for a resume id and returns what it saw. Each score is written to
// out as "<id> <ruleset> <score json>".
func Run(ctx context.Context, cfg *Config, out io.Writer) (*Stats, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	stats := &Stats{StartTime: time.Now(), ByRuleset: make(map[string]int)}
	defer stats.finish()

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return stats, fmt.Errorf("%w: %s", ErrUnauthorized, cfg.URL)
		}
		return stats, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(handshake(cfg.Resume))); err != nil {
		return stats, fmt.Errorf("handshake: %w", err)
	}
	logger.Get().Info(ctx, "connected",
		logger.String("url", cfg.URL),
		logger.String("handshake", handshake(cfg.Resume)))

	stop := make(chan struct{})
	defer close(stop)
	go requestDisconnect(ctx, conn, cfg.Duration, timeout, stop)

	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				return stats, nil
			case errors.As(err, &closeErr):
				return stats, fmt.Errorf("%w: %d %s", ErrServerClosed, closeErr.Code, closeErr.Text)
			default:
				return stats, fmt.Errorf("read: %w", err)
			}
		}
		stats.observe(msg)
		if msg.Type == ws.TypeScore && !cfg.Quiet {
			fmt.Fprintf(out, "%d %s %s\n", msg.ID, msg.Ruleset, msg.Score)
		}
		if msg.Type == ws.TypeTruncated {
			logger.Get().Warn(ctx, "history truncated",
				logger.Uint64("requested", msg.Requested),
				logger.Uint64("oldest", msg.Oldest))
		}
	}
}

// requestDisconnect sends "disconnect" when the run is over and bounds the
// wait for the server's answer.
func requestDisconnect(ctx context.Context, conn *websocket.Conn, after, timeout time.Duration, stop <-chan struct{}) {
	var expired <-chan time.Time
	if after > 0 {
		t := time.NewTimer(after)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-expired:
	case <-ctx.Done():
	case <-stop:
		return
	}

	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(ws.MessageDisconnect))
	_ = conn.SetReadDeadline(deadline)
}

func handshake(resume *uint64) string {
	if resume == nil {
		return ws.HandshakeConnect
	}
	return strconv.FormatUint(*resume, 10)
}

func (s *Stats) observe(msg ws.Message) {
	switch msg.Type {
	case ws.TypeScore:
		if s.ScoresReceived == 0 {
			s.FirstID = msg.ID
		} else if msg.ID != s.LastID+1 {
			s.Gaps++
		}
		s.LastID = msg.ID
		s.ScoresReceived++
		s.ByRuleset[msg.Ruleset]++
	case ws.TypeTruncated:
		s.Truncated = true
		s.Requested = msg.Requested
		s.Oldest = msg.Oldest
	case ws.TypeResume:
		id := msg.ID
		s.ResumeID = &id
	}
}

func (s *Stats) finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}
