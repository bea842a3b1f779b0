package domain

import "fmt"

// State is the lifecycle state of a session
type State string

const (
	StateActive   State = "active"
	StateFinished State = "finished"
)

// Transition is an operation that may change a session's state
type Transition string

const (
	TransitionAddEvent Transition = "add_event"
	TransitionFinish   Transition = "finish"
)

// NextState computes the state reached by applying a transition.
// Finished is terminal: every transition out of it fails with
// ErrSessionAlreadyFinished.
func NextState(current State, t Transition) (State, error) {
	switch current {
	case StateActive:
		switch t {
		case TransitionAddEvent:
			return StateActive, nil
		case TransitionFinish:
			return StateFinished, nil
		}
		return current, fmt.Errorf("%w: unknown transition %q", ErrValidation, t)
	case StateFinished:
		return current, ErrSessionAlreadyFinished
	default:
		return current, fmt.Errorf("%w: unknown state %q", ErrValidation, current)
	}
}

// State derives the session's lifecycle state from its finish timestamp
func (s *Session) State() State {
	if s.FinishedAt != nil {
		return StateFinished
	}
	return StateActive
}

// CanApply checks whether the transition is legal for the session right now
func (s *Session) CanApply(t Transition) error {
	_, err := NextState(s.State(), t)
	return err
}
