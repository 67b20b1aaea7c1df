package devices

import "time"

// SessionState is the explicit form of the device streaming state that used
// to be encoded as an isStreaming flag plus a lastActive timestamp.
type SessionState int

const (
	// StateIdle: not streaming.
	StateIdle SessionState = iota
	// StateStreaming: streaming and heartbeating within the TTL.
	StateStreaming
	// StateExpired: flagged as streaming but the last heartbeat is older
	// than the TTL. Treated as Idle for arbitration; the stale flag is
	// cleared lazily on the next observation rather than by a sweep.
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateExpired:
		return "expired"
	default:
		return "idle"
	}
}

// Classify maps the stored flag+timestamp pair onto a session state.
// A zero lastActive on a streaming device counts as expired.
func Classify(now, lastActive time.Time, isStreaming bool, ttl time.Duration) SessionState {
	if !isStreaming {
		return StateIdle
	}
	if lastActive.IsZero() || now.Sub(lastActive) > ttl {
		return StateExpired
	}
	return StateStreaming
}
