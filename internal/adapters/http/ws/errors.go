package ws

import "errors"

// Sentinel kinds for rejected connections.
var (
	ErrBadHandshake = errors.New("invalid handshake")
	ErrUnauthorized = errors.New("unauthorized")
)
