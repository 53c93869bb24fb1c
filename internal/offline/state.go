package offline

import (
	"errors"
	"fmt"
)

// State is a position in the worker lifecycle.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	// StateRedundant is terminal: the install failed or a newer worker replaced this one.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when a lifecycle step is invoked out of order.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var transitions = map[State][]State{
	StateParsed:     {StateInstalling},
	StateInstalling: {StateInstalled, StateRedundant},
	StateInstalled:  {StateActivating, StateRedundant},
	StateActivating: {StateActivated, StateRedundant},
	StateActivated:  {StateRedundant},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
