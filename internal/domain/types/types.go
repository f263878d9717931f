// Package types contains read shapes shared between the service and the HTTP layer.
package types

import "time"

// Stats is the service snapshot served on /stats.
type Stats struct {
	Ledger   LedgerStats  `json:"ledger"`
	Poller   PollerStats  `json:"poller"`
	Sessions SessionStats `json:"sessions"`
	Uptime   string       `json:"uptime"`
}

// LedgerStats describes retained history. Oldest and Latest are nil while empty.
type LedgerStats struct {
	Len      int     `json:"len"`
	Capacity int     `json:"capacity"`
	Oldest   *uint64 `json:"oldest"`
	Latest   *uint64 `json:"latest"`
	Next     uint64  `json:"next"`
}

// PollerStats describes the ingest loop.
type PollerStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastPoll            time.Time `json:"last_poll"`
	LastSuccess         time.Time `json:"last_success"`
	Ingested            uint64    `json:"ingested"`
	Ruleset             string    `json:"ruleset,omitempty"`
}

// SessionStats lists connected clients. Streams also counts connections
// still handshaking or flushing after their session ended.
type SessionStats struct {
	Connected int       `json:"connected"`
	Streams   int       `json:"streams"`
	Sessions  []Session `json:"sessions"`
}

// Session is a point-in-time view of one subscriber.
type Session struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Cursor    uint64    `json:"cursor"`
	Pending   int       `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
}
