package streamclient

import "errors"

var (
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServerClosed is returned when the server ends the stream itself.
	ErrServerClosed = errors.New("server closed the stream")
	// ErrSequenceGap is returned by Verify when ids were skipped or repeated.
	ErrSequenceGap = errors.New("score ids not contiguous")
)
