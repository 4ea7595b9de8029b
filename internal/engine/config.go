package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/lattice"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid simulation config")

// LockdownTravelFactor scales the travel count on lockdown days.
const LockdownTravelFactor = 0.05

// Config holds everything needed to build a Simulation.
type Config struct {
	Seed int64 // Random seed (0 = draw one from crypto/rand)

	Width  int
	Height int

	Population        int
	InitialInfectious int

	Latency     disease.Range // Days from exposure to infectiousness
	Progression disease.Range // Days from infectiousness to removal

	TravelChance     float64 // Fraction of the population relocating per day, in [0, 1]
	InfectiousRadius int     // Chebyshev contact radius

	// Lockdown covers days LockdownStart through LockdownStart+LockdownDuration
	// inclusive, so a zero duration still damps the start day.
	LockdownStart    int
	LockdownDuration int

	MaxRetries   int              // Rejection-sampling bound (0 = lattice.DefaultMaxRetries)
	EdgeMode     lattice.EdgeMode // Neighborhood clipping at the border
	ClusterScale float64          // Simplex density scale for placement (0 = uniform)
}

// DefaultConfig returns a mid-sized town with a slow-moving population.
func DefaultConfig() Config {
	return Config{
		Width:             100,
		Height:            100,
		Population:        3300,
		InitialInfectious: 1,
		Latency:           disease.Range{Low: 3.7, High: 5.2},
		Progression:       disease.Range{Low: 2.1, High: 2.9},
		TravelChance:      0.05,
		InfectiousRadius:  2,
	}
}

// SmallTestConfig returns a tiny grid for rapid iteration.
func SmallTestConfig() Config {
	return Config{
		Seed:              42,
		Width:             20,
		Height:            20,
		Population:        120,
		InitialInfectious: 2,
		Latency:           disease.Range{Low: 3.7, High: 5.2},
		Progression:       disease.Range{Low: 2.1, High: 2.9},
		TravelChance:      0.1,
		InfectiousRadius:  1,
	}
}

// Capacity returns the number of cells.
func (c Config) Capacity() int {
	return c.Width * c.Height
}

// Retries returns the effective rejection-sampling bound.
func (c Config) Retries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return lattice.DefaultMaxRetries(c.Capacity())
}

// LockdownActive reports whether travel is damped on day.
func (c Config) LockdownActive(day int) bool {
	return day >= c.LockdownStart && day <= c.LockdownStart+c.LockdownDuration
}

// TravelCount returns how many relocations happen on day.
func (c Config) TravelCount(day int) int {
	reducer := 1.0
	if c.LockdownActive(day) {
		reducer = LockdownTravelFactor
	}
	return int(math.Floor(c.TravelChance * float64(c.Population) * reducer))
}

// Validate checks the configuration for a runnable simulation.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Population < 0 || c.Population > c.Capacity() {
		return fmt.Errorf("%w: population %d not in [0, %d]", ErrInvalidConfig, c.Population, c.Capacity())
	}
	if c.InitialInfectious < 0 || c.InitialInfectious > c.Population {
		return fmt.Errorf("%w: initial infectious %d not in [0, %d]", ErrInvalidConfig, c.InitialInfectious, c.Population)
	}
	if err := c.Latency.Validate(); err != nil {
		return fmt.Errorf("%w: latency: %w", ErrInvalidConfig, err)
	}
	if err := c.Progression.Validate(); err != nil {
		return fmt.Errorf("%w: progression: %w", ErrInvalidConfig, err)
	}
	if math.IsNaN(c.TravelChance) || c.TravelChance < 0 || c.TravelChance > 1 {
		return fmt.Errorf("%w: travel chance %v not in [0, 1]", ErrInvalidConfig, c.TravelChance)
	}
	if c.InfectiousRadius < 0 {
		return fmt.Errorf("%w: negative infectious radius %d", ErrInvalidConfig, c.InfectiousRadius)
	}
	if c.LockdownStart < 0 || c.LockdownDuration < 0 {
		return fmt.Errorf("%w: lockdown %d+%d", ErrInvalidConfig, c.LockdownStart, c.LockdownDuration)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: negative retry bound %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.EdgeMode != lattice.EdgeClip && c.EdgeMode != lattice.EdgeLegacy {
		return fmt.Errorf("%w: edge mode %s", ErrInvalidConfig, c.EdgeMode)
	}
	if math.IsNaN(c.ClusterScale) || c.ClusterScale < 0 {
		return fmt.Errorf("%w: cluster scale %v", ErrInvalidConfig, c.ClusterScale)
	}
	return nil
}
