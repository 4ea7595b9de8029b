package disease

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/seir-lattice/internal/entropy"
)

// ErrInvalidRange is returned when a duration range is empty or non-positive.
var ErrInvalidRange = errors.New("invalid duration range")

// AgentID indexes the agent arena. Stable for the life of a simulation.
type AgentID int32

// NoAgent marks an empty cell in the occupancy index.
const NoAgent AgentID = -1

// Cell is an integer lattice coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Range is a closed interval of durations in days.
type Range struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Validate checks that the range is finite, positive and non-empty.
func (r Range) Validate() error {
	if math.IsNaN(r.Low) || math.IsNaN(r.High) || math.IsInf(r.Low, 0) || math.IsInf(r.High, 0) {
		return fmt.Errorf("%w: [%v, %v] not finite", ErrInvalidRange, r.Low, r.High)
	}
	if r.Low <= 0 || r.High <= 0 {
		return fmt.Errorf("%w: [%v, %v] not positive", ErrInvalidRange, r.Low, r.High)
	}
	if r.Low > r.High {
		return fmt.Errorf("%w: [%v, %v] is empty", ErrInvalidRange, r.Low, r.High)
	}
	return nil
}

// sampleRate draws a duration from r and returns its reciprocal.
func (r Range) sampleRate(src entropy.Source) float64 {
	return 1 / src.FloatRange(r.Low, r.High)
}

// Agent is one individual on the lattice.
type Agent struct {
	ID  AgentID `json:"id"`
	Pos Cell    `json:"pos"`

	State       State `json:"state"`
	TimeInState int   `json:"time_in_state"` // Days since the last transition

	// Sampled once at creation as 1/duration.
	LatencyRate     float64 `json:"latency_rate"`     // Exposed → Infectious
	ProgressionRate float64 `json:"progression_rate"` // Infectious → Removed
}

// NewAgent creates a susceptible agent at pos with rates sampled from the
// latency and progression ranges.
func NewAgent(id AgentID, pos Cell, latency, progression Range, src entropy.Source) (*Agent, error) {
	if err := latency.Validate(); err != nil {
		return nil, fmt.Errorf("latency: %w", err)
	}
	if err := progression.Validate(); err != nil {
		return nil, fmt.Errorf("progression: %w", err)
	}
	return &Agent{
		ID:              id,
		Pos:             pos,
		State:           Susceptible,
		LatencyRate:     latency.sampleRate(src),
		ProgressionRate: progression.sampleRate(src),
	}, nil
}

// AdvanceDay counts one more day in the current state.
func (a *Agent) AdvanceDay() {
	a.TimeInState++
}

// TransitionTo moves the agent into s and resets its time in state.
// This is the only place State changes.
func (a *Agent) TransitionTo(s State) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, uint8(s))
	}
	if s < a.State {
		return fmt.Errorf("%w: agent %d cannot go from %s to %s", ErrInvalidState, a.ID, a.State, s)
	}
	a.State = s
	a.TimeInState = 0
	return nil
}

// LatencyElapsed reports whether an exposed agent has incubated long enough.
func (a *Agent) LatencyElapsed() bool {
	return float64(a.TimeInState)*a.LatencyRate >= 1
}

// ProgressionElapsed reports whether an infectious agent is due for removal.
func (a *Agent) ProgressionElapsed() bool {
	return float64(a.TimeInState)*a.ProgressionRate >= 1
}
