package voice

import (
	"fmt"
	"sync"
)

// State is a connection's lifecycle stage.
type State int

const (
	StateConnected State = iota
	StateAwaitingStart
	StateStreaming
	StateInterrupted
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateStreaming:
		return "streaming"
	case StateInterrupted:
		return "interrupted"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal moves. AwaitingStart may go straight to Ending
// when the client leaves or the start times out.
var transitions = map[State][]State{
	StateConnected:     {StateAwaitingStart, StateEnding},
	StateAwaitingStart: {StateStreaming, StateEnding},
	StateStreaming:     {StateInterrupted, StateEnding},
	StateInterrupted:   {StateStreaming, StateEnding},
	StateEnding:        {StateClosed},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine guards the current State. onChange runs outside the lock.
type stateMachine struct {
	mu       sync.Mutex
	cur      State
	onChange func(from, to State)
}

// To moves to next if legal and reports whether it did. Moving to the
// current state is a silent no-op.
func (m *stateMachine) To(next State) bool {
	m.mu.Lock()
	from := m.cur
	if from == next || !allowed(from, next) {
		m.mu.Unlock()
		return false
	}
	m.cur = next
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange(from, next)
	}
	return true
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}
