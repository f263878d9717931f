package broadcast

import "errors"

// Sentinel kinds for session termination.
var (
	ErrHubClosed     = errors.New("hub closed")
	ErrSlowConsumer  = errors.New("session queue overflow")
	ErrSessionClosed = errors.New("session closed")
)
