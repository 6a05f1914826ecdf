package lifecycle

import "sync/atomic"

// State is where the connection supervisor currently is.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Tracker is a tiny process lifecycle holder shared between the supervisor and
// anything that wants to observe it. The zero value reports Connecting.
type Tracker struct {
	state    atomic.Int32
	sessions atomic.Int64
	draining atomic.Bool
}

func (t *Tracker) Set(s State) {
	if t == nil {
		return
	}
	if s == StateStreaming {
		t.sessions.Add(1)
	}
	t.state.Store(int32(s))
}

func (t *Tracker) Current() State {
	if t == nil {
		return StateConnecting
	}
	return State(t.state.Load())
}

// Sessions counts how many times Streaming was entered.
func (t *Tracker) Sessions() int64 {
	if t == nil {
		return 0
	}
	return t.sessions.Load()
}

func (t *Tracker) SetDraining(draining bool) {
	if t == nil {
		return
	}
	t.draining.Store(draining)
}

func (t *Tracker) IsDraining() bool {
	if t == nil {
		return false
	}
	return t.draining.Load()
}
