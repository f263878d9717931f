package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/scorews/internal/domain/broadcast"
	"github.com/okian/scorews/internal/domain/model"
	"github.com/okian/scorews/pkg/logger"
	"github.com/okian/scorews/pkg/metrics"
)

// Default connection configuration constants.
const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	maxClientMessageSize    = 512
	closeGrace              = time.Second
)

// Hub is the session registry the handler subscribes through.
type Hub interface {
	Connect(ctx context.Context, resume *uint64) (*broadcast.Session, broadcast.Onboarding, error)
	Disconnect(s *broadcast.Session)
}

// Handler upgrades requests and streams scores to each client.
type Handler struct {
	hub              Hub
	upgrader         websocket.Upgrader
	auth             *Authenticator
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	logger           logger.Logger

	// Connections still being served. Hijacked connections are invisible to
	// http.Server.Shutdown, so Drain waits on these instead.
	mu        sync.Mutex
	active    int
	draining  bool
	drained   chan struct{}
	drainOnce sync.Once
}

// NewHandler creates a websocket handler serving sessions from hub.
func NewHandler(hub Hub, opts ...Option) *Handler {
	h := &Handler{
		hub:              hub,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		pingInterval:     defaultPingInterval,
		drained:          make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The stream is public read-only data; origin is not a trust boundary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}

	return h
}

// Active returns the number of connections currently being served.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Drain stops accepting connections and waits until every served one has
// written its last event and close frame, or ctx ends.
func (h *Handler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	if h.active == 0 {
		h.drainOnce.Do(func() { close(h.drained) })
	}
	h.mu.Unlock()

	select {
	case <-h.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.active++
	return true
}

func (h *Handler) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active--
	if h.draining && h.active == 0 {
		h.drainOnce.Do(func() { close(h.drained) })
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.acquire() {
		metrics.RecordSessionRejected("draining")
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.release()

	if h.auth != nil {
		if err := h.auth.Verify(tokenFromRequest(r)); err != nil {
			metrics.RecordSessionRejected("unauthorized")
			h.logger.Debug(ctx, "rejected connection", logger.String("remote", r.RemoteAddr), logger.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		metrics.RecordSessionRejected("upgrade")
		h.logger.Debug(ctx, "upgrade failed", logger.String("remote", r.RemoteAddr), logger.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxClientMessageSize)

	resume, err := h.handshake(conn)
	if err != nil {
		metrics.RecordSessionRejected("handshake")
		h.logger.Debug(ctx, "handshake failed", logger.String("remote", r.RemoteAddr), logger.Error(err))
		h.closeWith(conn, websocket.ClosePolicyViolation, "expected \"connect\" or a score id")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, ob, err := h.hub.Connect(ctx, resume)
	if err != nil {
		h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.hub.Disconnect(session)

	h.logger.Info(ctx, "client connected",
		logger.String("session", session.ID()),
		logger.String("remote", r.RemoteAddr),
		logger.Bool("resumed", ob.Resumed),
		logger.Uint64("cursor", session.Cursor()),
		logger.Int("backlog", ob.Backlog))

	if ob.Truncated {
		msg := TruncatedMessage{Type: TypeTruncated, Requested: ob.Requested, Oldest: ob.Oldest}
		if err := h.writeJSON(conn, msg); err != nil {
			return
		}
	}

	var disconnectRequested atomic.Bool
	go h.readLoop(conn, cancel, &disconnectRequested)
	go h.pingLoop(ctx, conn)

	err = session.Deliver(ctx, func(ev model.ScoreEvent) error {
		return h.writeJSON(conn, newScoreMessage(ev))
	})

	switch {
	case disconnectRequested.Load():
		_ = h.writeJSON(conn, ResumeMessage{Type: TypeResume, ID: session.Cursor()})
		h.closeWith(conn, websocket.CloseNormalClosure, "")
	case errors.Is(err, broadcast.ErrHubClosed):
		h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
	case errors.Is(err, broadcast.ErrSlowConsumer):
		h.closeWith(conn, websocket.CloseTryAgainLater, "client too slow; resume by id")
	}

	h.logger.Info(ctx, "client disconnected",
		logger.String("session", session.ID()),
		logger.Uint64("cursor", session.Cursor()),
		logger.Any("reason", err))
}

// handshake reads the first message under the handshake deadline.
func (h *Handler) handshake(conn *websocket.Conn) (*uint64, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		return nil, err
	}
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
		return nil, ErrBadHandshake
	}
	return ParseHandshake(string(data))
}

// readLoop watches for the disconnect message and for the peer going away.
// It owns every read after the handshake.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc, disconnect *atomic.Bool) {
	defer cancel()

	deadline := func() error { return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval)) }
	if err := deadline(); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error { return deadline() })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == MessageDisconnect {
			disconnect.Store(true)
			return
		}
		_ = deadline()
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
}
