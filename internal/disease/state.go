// Package disease provides the agent data model and the SEIR progression state machine.
package disease

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when a transition targets a value outside the
// four defined states, or would move an agent backwards.
var ErrInvalidState = errors.New("invalid disease state")

// State is a disease compartment. The numeric order is the progression order.
type State uint8

const (
	Susceptible State = iota + 1 // Never infected
	Exposed                      // Infected, still latent
	Infectious                   // Spreads to neighbors
	Removed                      // Recovered or dead; absorbing
)

// NumStates is the number of defined compartments.
const NumStates = 4

// States lists every compartment in progression order.
var States = [NumStates]State{Susceptible, Exposed, Infectious, Removed}

var stateNames = [...]string{
	Susceptible: "susceptible",
	Exposed:     "exposed",
	Infectious:  "infectious",
	Removed:     "removed",
}

// Valid reports whether s is one of the four compartments.
func (s State) Valid() bool {
	return s >= Susceptible && s <= Removed
}

func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("state(%d)", uint8(s))
	}
	return stateNames[s]
}

// Index returns the zero-based position of s in States.
func (s State) Index() int {
	return int(s) - 1
}

// ParseState parses a state name, case-insensitively.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidState, name)
}
