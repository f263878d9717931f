// Package ws serves the score stream over websocket connections.
package ws

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/scorews/internal/domain/model"
)

// Client text messages.
const (
	HandshakeConnect  = "connect"
	MessageDisconnect = "disconnect"
)

// Server message types.
const (
	TypeScore     = "score"
	TypeTruncated = "truncated"
	TypeResume    = "resume"
)

// ScoreMessage carries one ledger event.
type ScoreMessage struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id"`
	Ruleset model.Ruleset   `json:"ruleset"`
	Score   json.RawMessage `json:"score"`
}

// TruncatedMessage precedes the backlog when the requested id was evicted.
type TruncatedMessage struct {
	Type      string `json:"type"`
	Requested uint64 `json:"requested"`
	Oldest    uint64 `json:"oldest"`
}

// ResumeMessage answers a client disconnect with the id to resume from.
type ResumeMessage struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

// Message is the envelope a client decodes before switching on Type.
type Message struct {
	Type      string          `json:"type"`
	ID        uint64          `json:"id,omitempty"`
	Ruleset   string          `json:"ruleset,omitempty"`
	Score     json.RawMessage `json:"score,omitempty"`
	Requested uint64          `json:"requested,omitempty"`
	Oldest    uint64          `json:"oldest,omitempty"`
}

func newScoreMessage(ev model.ScoreEvent) ScoreMessage { //nolint:gocritic // hugeParam: events are passed by value
	score := ev.Payload
	if len(score) == 0 {
		score = json.RawMessage("null")
	}
	return ScoreMessage{Type: TypeScore, ID: ev.ID, Ruleset: ev.Ruleset, Score: score}
}

// ParseHandshake interprets the first client message. "connect" asks for
// live events only; a decimal id asks for every retained event from it.
func ParseHandshake(msg string) (*uint64, error) {
	msg = strings.TrimSpace(msg)
	if msg == HandshakeConnect {
		return nil, nil
	}
	id, err := strconv.ParseUint(msg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadHandshake, truncateMsg(msg))
	}
	return &id, nil
}

func truncateMsg(s string) string {
	const limit = 32
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
