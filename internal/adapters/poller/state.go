package poller

import "github.com/okian/scorews/pkg/metrics"

// State is the health of the polling task.
type State int32

// Poller states.
const (
	StateRunning State = iota
	StateDegraded
	StateAuthFailed
	StateStopped
)

var stateNames = [...]string{
	StateRunning:    "running",
	StateDegraded:   "degraded",
	StateAuthFailed: "auth_failed",
	StateStopped:    "stopped",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) gauge() int {
	switch s {
	case StateDegraded:
		return metrics.PollerStateDegraded
	case StateAuthFailed:
		return metrics.PollerStateAuthFailed
	case StateStopped:
		return metrics.PollerStateStopped
	default:
		return metrics.PollerStateRunning
	}
}
