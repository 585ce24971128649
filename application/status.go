package application

import "sync/atomic"

// State is the coarse run state of an application.
type State int32

const (
	Running State = iota
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the aspect holding the current [State]. The default pause and
// resume handlers flip it between Running and Paused, and the default
// termination behaviour sets Stopped.
type Status struct {
	state atomic.Int32
}

// NewStatus returns a Status initialised to s.
func NewStatus(s State) *Status {
	st := &Status{}
	st.state.Store(int32(s))
	return st
}

// State returns the current state.
func (s *Status) State() State {
	return State(s.state.Load())
}

// Set stores state and returns the previous one.
func (s *Status) Set(state State) State {
	return State(s.state.Swap(int32(state)))
}

// Transition moves the state from from to to, reporting whether the current
// state was from.
func (s *Status) Transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}
