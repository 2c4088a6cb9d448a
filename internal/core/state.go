package core

import "time"

// State is the connection-lifecycle state of the appliance. Exactly one
// value at a time, mutated only by the main loop.
type State int

const (
	// StateIdle: capture runs, nothing is encoded or served.
	StateIdle State = iota
	// StateWaiting: listening endpoint open, no client yet; bounded by the
	// wait timeout so an unattended start does not hold resources forever.
	StateWaiting
	// StateStreaming: at least one client attached at some point; frames
	// are encoded and broadcast. Persists through an empty connection set
	// until an explicit stop.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting_for_connection"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// StateMachine gates whether incoming frames are spent on encoding work.
// Not safe for concurrent use: the main loop is the only mutator.
type StateMachine struct {
	state     State
	waitStart time.Time
}

// NewStateMachine starts in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// State returns the current state.
func (m *StateMachine) State() State {
	return m.state
}

// StartWaiting handles StartStream: Idle → WaitingForConnection, recording
// the wait-start time. Returns false (no-op) in any other state.
func (m *StateMachine) StartWaiting(now time.Time) bool {
	if m.state != StateIdle {
		return false
	}
	m.state = StateWaiting
	m.waitStart = now
	return true
}

// ConnectionAccepted handles the first accepted client:
// WaitingForConnection → Streaming. Returns false in any other state
// (further clients while Streaming are adopted without a transition).
func (m *StateMachine) ConnectionAccepted() bool {
	if m.state != StateWaiting {
		return false
	}
	m.state = StateStreaming
	m.waitStart = time.Time{}
	return true
}

// WaitExpired reports whether the wait window has elapsed. Only meaningful
// in WaitingForConnection.
func (m *StateMachine) WaitExpired(now time.Time, timeout time.Duration) bool {
	return m.state == StateWaiting && now.Sub(m.waitStart) > timeout
}

// StopToIdle handles StopStream and the wait timeout: any non-idle state
// returns to Idle. Returns false when already Idle.
func (m *StateMachine) StopToIdle() bool {
	if m.state == StateIdle {
		return false
	}
	m.state = StateIdle
	m.waitStart = time.Time{}
	return true
}
