// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRuleset is returned when a ruleset name or id is not recognised.
var ErrUnknownRuleset = errors.New("unknown ruleset")

// Ruleset is the game mode a score was set in.
type Ruleset uint8

// Known rulesets, numbered like the upstream ruleset_id.
const (
	RulesetOsu Ruleset = iota
	RulesetTaiko
	RulesetFruits
	RulesetMania
)

var rulesetNames = [...]string{
	RulesetOsu:    "osu",
	RulesetTaiko:  "taiko",
	RulesetFruits: "fruits",
	RulesetMania:  "mania",
}

// String returns the upstream name of the ruleset.
func (r Ruleset) String() string {
	if int(r) < len(rulesetNames) {
		return rulesetNames[r]
	}
	return fmt.Sprintf("ruleset(%d)", uint8(r))
}

// Valid reports whether r is one of the known rulesets.
func (r Ruleset) Valid() bool {
	return int(r) < len(rulesetNames)
}

// MarshalText encodes the ruleset by name.
func (r Ruleset) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRuleset, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a ruleset by name.
func (r *Ruleset) UnmarshalText(b []byte) error {
	parsed, err := ParseRuleset(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRuleset maps a name to a Ruleset. "catch" and "fruits" are the same mode.
func ParseRuleset(name string) (Ruleset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "osu", "standard":
		return RulesetOsu, nil
	case "taiko":
		return RulesetTaiko, nil
	case "fruits", "catch":
		return RulesetFruits, nil
	case "mania":
		return RulesetMania, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRuleset, name)
	}
}

// RulesetFromID maps an upstream ruleset_id to a Ruleset.
func RulesetFromID(id int) (Ruleset, error) {
	if id < 0 || id >= len(rulesetNames) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRuleset, id)
	}
	return Ruleset(id), nil
}

// ScoreEvent is one accepted score in the ledger. Events are immutable once appended.
type ScoreEvent struct {
	ID       uint64          // ledger id, strictly increasing
	Ruleset  Ruleset         // game mode
	SourceID uint64          // upstream score id
	Payload  json.RawMessage // upstream score JSON, treated as opaque
}
