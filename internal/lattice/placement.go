// Initial placement: seeds agents onto unique random cells and marks the
// initially infectious ones.
package lattice

import (
	"fmt"
	"log/slog"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/entropy"
)

// Placement controls initial population seeding.
type Placement struct {
	Count       int
	Latency     disease.Range // Days exposed before becoming infectious
	Progression disease.Range // Days infectious before removal
	MaxRetries  int           // Draws per agent before ErrGridFull (0 = DefaultMaxRetries)
	Density     *Density      // Optional clustering; nil places uniformly
}

// Density biases placement toward high-noise regions so the population forms
// towns and empty country instead of a uniform scatter.
type Density struct {
	noise opensimplex.Noise
	scale float64
}

// NewDensity builds a density field from simplex noise. Scale is the noise
// frequency per cell; 0.05–0.2 gives clusters a few dozen cells wide.
func NewDensity(seed int64, scale float64) *Density {
	return &Density{
		noise: opensimplex.NewNormalized(seed),
		scale: scale,
	}
}

// At returns the acceptance probability for c, in [0, 1).
func (d *Density) At(c disease.Cell) float64 {
	return d.noise.Eval2(float64(c.X)*d.scale, float64(c.Y)*d.scale)
}

func (d *Density) accept(c disease.Cell, src entropy.Source) bool {
	return src.FloatRange(0, 1) < d.At(c)
}

// PlaceRandomly creates p.Count agents, each on a uniformly drawn empty cell.
// Each agent gets at most p.MaxRetries draws; if they all land on occupied
// (or density-rejected) cells the grid is cleared and ErrGridFull returned.
func (g *Grid) PlaceRandomly(p Placement, src entropy.Source) error {
	if err := p.Latency.Validate(); err != nil {
		return fmt.Errorf("latency: %w", err)
	}
	if err := p.Progression.Validate(); err != nil {
		return fmt.Errorf("progression: %w", err)
	}
	if p.Count+len(g.agents) > len(g.cells) {
		return fmt.Errorf("%w: %d agents exceed capacity %d", ErrGridFull, p.Count+len(g.agents), len(g.cells))
	}
	retries := p.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries(len(g.cells))
	}

	for i := 0; i < p.Count; i++ {
		c, ok := g.findEmpty(src, retries, p.Density)
		if !ok {
			placed := len(g.agents)
			g.reset()
			return fmt.Errorf("%w: no empty cell for agent %d after %d draws (%d placed)",
				ErrGridFull, i, retries, placed)
		}
		a, err := disease.NewAgent(disease.AgentID(len(g.agents)), c, p.Latency, p.Progression, src)
		if err != nil {
			g.reset()
			return err
		}
		g.insert(a)
	}
	return nil
}

func (g *Grid) findEmpty(src entropy.Source, retries int, density *Density) (disease.Cell, bool) {
	for attempt := 0; attempt < retries; attempt++ {
		c := g.randomCell(src)
		if g.cells[g.index(c)] != disease.NoAgent {
			continue
		}
		if density != nil && !density.accept(c, src) {
			continue
		}
		return c, true
	}
	return disease.Cell{}, false
}

// SeedInfectious turns count distinct randomly chosen agents infectious.
// Agents already infectious are redrawn; the draw count is bounded by
// maxRetries per seeded agent.
func (g *Grid) SeedInfectious(count int, src entropy.Source, maxRetries int) error {
	if count > len(g.agents) {
		return fmt.Errorf("cannot seed %d infectious among %d agents", count, len(g.agents))
	}
	for i := 0; i < count; i++ {
		var picked *disease.Agent
		for attempt := 0; attempt < maxRetries; attempt++ {
			a, err := g.PickRandomOccupied(src, maxRetries)
			if err != nil {
				return err
			}
			if a.State != disease.Infectious {
				picked = a
				break
			}
		}
		if picked == nil {
			picked = g.pickNotInfectious(src)
		}
		if err := picked.TransitionTo(disease.Infectious); err != nil {
			return err
		}
	}
	slog.Debug("seeded infectious agents", "count", count, "population", len(g.agents))
	return nil
}

// pickNotInfectious picks uniformly among agents not yet infectious.
func (g *Grid) pickNotInfectious(src entropy.Source) *disease.Agent {
	var pool []*disease.Agent
	for _, a := range g.agents {
		if a.State != disease.Infectious {
			pool = append(pool, a)
		}
	}
	return entropy.Pick(src, pool)
}
