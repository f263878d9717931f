package ws

import (
	"time"

	"github.com/okian/scorews/pkg/logger"
)

// Option applies a configuration option to the Handler.
type Option func(*Handler)

// WithHandshakeTimeout sets how long a client has to send its first message.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.handshakeTimeout = d
		}
	}
}

// WithWriteTimeout sets the deadline for a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive ping period. Clients that do not
// answer within two periods are disconnected.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithAuthSecret requires an HS256 token signed with secret.
func WithAuthSecret(secret string) Option {
	return func(h *Handler) {
		h.auth = NewAuthenticator(secret)
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}
