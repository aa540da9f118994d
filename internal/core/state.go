package core

import "sync/atomic"

// State is the service lifecycle state machine: INITIALIZING -> READY ->
// STOPPING -> STOPPED. Every transition is one-way; there is no path back
// to an earlier state.
type State int32

const (
	StateInitializing State = iota
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) get() State { return State(m.v.Load()) }
func (m *stateMachine) set(s State) { m.v.Store(int32(s)) }
