// Package lattice provides the occupancy index and the state lattice for the
// 2D agent grid. Cells are addressed by integer (x, y) with 0 <= x < Width and
// 0 <= y < Height; at most one agent occupies a cell.
package lattice

import (
	"errors"
	"fmt"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/entropy"
)

var (
	// ErrGridFull is returned when initial placement cannot find an empty
	// cell within its retry bound.
	ErrGridFull = errors.New("grid full")
	// ErrSaturatedGrid is returned when a relocation has no empty cell to go to.
	ErrSaturatedGrid = errors.New("grid saturated")
	// ErrNoOccupants is returned when selecting an agent from an empty grid.
	ErrNoOccupants = errors.New("grid has no occupants")
)

// MinRetries is the floor of DefaultMaxRetries.
const MinRetries = 300

// DefaultMaxRetries returns the rejection-sampling bound used when the
// configuration leaves it at zero: twice the capacity, at least MinRetries.
func DefaultMaxRetries(capacity int) int {
	if n := 2 * capacity; n > MinRetries {
		return n
	}
	return MinRetries
}

// Grid is the occupancy index: an arena of agents plus a dense cell array of
// agent IDs. Cells are stored x-major (index = x*Height + y).
type Grid struct {
	Width  int
	Height int

	cells  []disease.AgentID
	agents []*disease.Agent
}

// NewGrid creates an empty grid.
func NewGrid(width, height int) *Grid {
	cells := make([]disease.AgentID, width*height)
	for i := range cells {
		cells[i] = disease.NoAgent
	}
	return &Grid{
		Width:  width,
		Height: height,
		cells:  cells,
	}
}

// Capacity returns the number of cells.
func (g *Grid) Capacity() int {
	return len(g.cells)
}

// Population returns the number of agents on the grid.
func (g *Grid) Population() int {
	return len(g.agents)
}

// InBounds returns true if the cell lies on the grid.
func (g *Grid) InBounds(c disease.Cell) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

func (g *Grid) index(c disease.Cell) int {
	return c.X*g.Height + c.Y
}

func (g *Grid) cellAt(i int) disease.Cell {
	return disease.Cell{X: i / g.Height, Y: i % g.Height}
}

// At returns the agent occupying c, or nil if c is empty or off the grid.
func (g *Grid) At(c disease.Cell) *disease.Agent {
	if !g.InBounds(c) {
		return nil
	}
	id := g.cells[g.index(c)]
	if id == disease.NoAgent {
		return nil
	}
	return g.agents[id]
}

// Agent returns the agent with the given ID, or nil.
func (g *Grid) Agent(id disease.AgentID) *disease.Agent {
	if id < 0 || int(id) >= len(g.agents) {
		return nil
	}
	return g.agents[id]
}

// Agents returns the agent arena in ID order. Callers must not append to it.
func (g *Grid) Agents() []*disease.Agent {
	return g.agents
}

// Occupied returns the IDs of all agents in x-major cell order.
func (g *Grid) Occupied() []disease.AgentID {
	ids := make([]disease.AgentID, 0, len(g.agents))
	for _, id := range g.cells {
		if id != disease.NoAgent {
			ids = append(ids, id)
		}
	}
	return ids
}

// insert places a new agent at its position. The cell must be empty.
func (g *Grid) insert(a *disease.Agent) {
	g.agents = append(g.agents, a)
	g.cells[g.index(a.Pos)] = a.ID
}

// move clears the agent's old cell and occupies to.
func (g *Grid) move(a *disease.Agent, to disease.Cell) {
	g.cells[g.index(a.Pos)] = disease.NoAgent
	a.Pos = to
	g.cells[g.index(to)] = a.ID
}

// reset removes every agent.
func (g *Grid) reset() {
	for i := range g.cells {
		g.cells[i] = disease.NoAgent
	}
	g.agents = g.agents[:0]
}

// Verify checks that occupied cells and agents form a bijection.
func (g *Grid) Verify() error {
	seen := 0
	for i, id := range g.cells {
		if id == disease.NoAgent {
			continue
		}
		seen++
		a := g.Agent(id)
		if a == nil {
			return fmt.Errorf("cell %v holds unknown agent %d", g.cellAt(i), id)
		}
		if a.Pos != g.cellAt(i) {
			return fmt.Errorf("agent %d at %v but indexed at %v", id, a.Pos, g.cellAt(i))
		}
	}
	if seen != len(g.agents) {
		return fmt.Errorf("%d occupied cells for %d agents", seen, len(g.agents))
	}
	for i, a := range g.agents {
		if a.ID != disease.AgentID(i) {
			return fmt.Errorf("arena slot %d holds agent %d", i, a.ID)
		}
	}
	return nil
}

// randomCell draws a uniform cell: x first, then y.
func (g *Grid) randomCell(src entropy.Source) disease.Cell {
	x := src.IntN(g.Width)
	y := src.IntN(g.Height)
	return disease.Cell{X: x, Y: y}
}

// PickRandomOccupied returns a uniformly chosen agent. It rejection-samples
// up to maxRetries cells, then falls back to a uniform pick over the
// occupied cells so that it never spins on a sparse grid.
func (g *Grid) PickRandomOccupied(src entropy.Source, maxRetries int) (*disease.Agent, error) {
	if len(g.agents) == 0 {
		return nil, ErrNoOccupants
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		if a := g.At(g.randomCell(src)); a != nil {
			return a, nil
		}
	}
	id := entropy.Pick(src, g.Occupied())
	return g.agents[id], nil
}

// Relocate moves the agent to a uniformly chosen empty cell, using the same
// bounded rejection sampling with an exhaustive fallback.
func (g *Grid) Relocate(a *disease.Agent, src entropy.Source, maxRetries int) error {
	if len(g.agents) >= len(g.cells) {
		return fmt.Errorf("%w: relocate agent %d: %d agents on %d cells",
			ErrSaturatedGrid, a.ID, len(g.agents), len(g.cells))
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		c := g.randomCell(src)
		if g.cells[g.index(c)] == disease.NoAgent {
			g.move(a, c)
			return nil
		}
	}
	empty := make([]int, 0, len(g.cells)-len(g.agents))
	for i, id := range g.cells {
		if id == disease.NoAgent {
			empty = append(empty, i)
		}
	}
	g.move(a, g.cellAt(entropy.Pick(src, empty)))
	return nil
}
