package streamclient

import "time"

// Config holds configuration for one streaming run.
type Config struct {
	URL      string        // websocket URL of the service
	Resume   *uint64       // nil sends "connect"
	Duration time.Duration // how long to stream before disconnecting; 0 streams until ctx ends
	Token    string        // bearer token when the server requires one
	Timeout  time.Duration // dial and close timeout
	Quiet    bool          // suppress per-score output
}

// Stats holds what one run observed.
type Stats struct {
	ScoresReceived int
	ByRuleset      map[string]int
	FirstID        uint64
	LastID         uint64
	Gaps           int
	Truncated      bool
	Requested      uint64
	Oldest         uint64
	ResumeID       *uint64
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}

// NextResume is the id to pass on the next connection: the server's
// resume answer when it sent one, else one past the last score seen.
func (s *Stats) NextResume() (uint64, bool) {
	switch {
	case s.ResumeID != nil:
		return *s.ResumeID, true
	case s.ScoresReceived > 0:
		return s.LastID + 1, true
	default:
		return 0, false
	}
}
