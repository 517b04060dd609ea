package hostlink

import "sync/atomic"

// State enumerates the connector channel lifecycle.
type State int32

const (
	// StateDisconnected means the connector was never started or was closed.
	StateDisconnected State = iota
	// StateConnecting means a dial/handshake attempt is in progress.
	StateConnecting
	// StateConnected means the handshake completed and the channel is live.
	StateConnected
	// StateDegraded means the channel was lost and reconnects are underway.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) load() State {
	return State(s.v.Load())
}

func (s *stateVar) store(next State) {
	s.v.Store(int32(next))
}
