package lattice

import "github.com/talgya/seir-lattice/internal/disease"

// Code is a lattice cell value: the occupant's disease.State, or Empty.
type Code uint8

// Empty marks a cell with no occupant.
const Empty Code = 0

// CodeOf returns the lattice code for a state.
func CodeOf(s disease.State) Code {
	return Code(s)
}

// State returns the disease state encoded by c, or false for Empty and
// unknown codes.
func (c Code) State() (disease.State, bool) {
	s := disease.State(c)
	return s, s.Valid()
}

// Snapshot is the state lattice: one Code per cell, x-major like Grid.
type Snapshot struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Cells  []Code `json:"cells"`
}

// NewSnapshot creates an all-empty lattice.
func NewSnapshot(width, height int) Snapshot {
	return Snapshot{
		Width:  width,
		Height: height,
		Cells:  make([]Code, width*height),
	}
}

// At returns the code at c. c must be in bounds.
func (s Snapshot) At(c disease.Cell) Code {
	return s.Cells[c.X*s.Height+c.Y]
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	cells := make([]Code, len(s.Cells))
	copy(cells, s.Cells)
	return Snapshot{Width: s.Width, Height: s.Height, Cells: cells}
}

// Counts returns the number of cells in each state, indexed by State.Index.
func (s Snapshot) Counts() [disease.NumStates]int {
	var counts [disease.NumStates]int
	for _, c := range s.Cells {
		if st, ok := c.State(); ok {
			counts[st.Index()]++
		}
	}
	return counts
}

// Stamp clears dst and writes every occupant's current state into it.
// dst must have the grid's dimensions.
func (g *Grid) Stamp(dst *Snapshot) {
	for i := range dst.Cells {
		dst.Cells[i] = Empty
	}
	for _, a := range g.agents {
		dst.Cells[g.index(a.Pos)] = CodeOf(a.State)
	}
}
