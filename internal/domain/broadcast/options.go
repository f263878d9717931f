package broadcast

import (
	"github.com/okian/scorews/internal/adapters/mq/queue"
	"github.com/okian/scorews/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithQueueSize sets the per-session live queue capacity.
func WithQueueSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.queueSize = size
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithQueueFactory replaces how each session's live queue is built. It is
// called with the configured queue size.
func WithQueueFactory(f func(capacity int) queue.Queue) Option {
	return func(h *Hub) {
		if f != nil {
			h.newQueue = f
		}
	}
}
