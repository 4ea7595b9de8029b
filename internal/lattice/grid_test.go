package lattice

import (
	"errors"
	"testing"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/entropy"
)

var (
	testLatency     = disease.Range{Low: 2, High: 4}
	testProgression = disease.Range{Low: 3, High: 5}
)

func placed(t *testing.T, w, h, n int, seed int64) *Grid {
	t.Helper()
	g := NewGrid(w, h)
	err := g.PlaceRandomly(Placement{
		Count:       n,
		Latency:     testLatency,
		Progression: testProgression,
	}, entropy.NewRand(seed))
	if err != nil {
		t.Fatalf("PlaceRandomly: %v", err)
	}
	return g
}

func TestPlaceRandomly_UniqueCells(t *testing.T) {
	g := placed(t, 10, 8, 60, 1)
	if g.Population() != 60 {
		t.Fatalf("population: got %d want 60", g.Population())
	}
	if err := g.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	seen := map[disease.Cell]bool{}
	for _, a := range g.Agents() {
		if seen[a.Pos] {
			t.Fatalf("two agents at %v", a.Pos)
		}
		seen[a.Pos] = true
		if a.State != disease.Susceptible {
			t.Fatalf("agent %d placed as %s", a.ID, a.State)
		}
	}
}

func TestPlaceRandomly_FillsGridExactly(t *testing.T) {
	g := placed(t, 4, 4, 16, 3)
	if err := g.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(g.Occupied()) != 16 {
		t.Fatalf("occupied: got %d want 16", len(g.Occupied()))
	}
}

func TestPlaceRandomly_OverCapacity(t *testing.T) {
	g := NewGrid(2, 2)
	err := g.PlaceRandomly(Placement{Count: 5, Latency: testLatency, Progression: testProgression}, entropy.NewRand(1))
	if !errors.Is(err, ErrGridFull) {
		t.Fatalf("got %v, want ErrGridFull", err)
	}
}

func TestPlaceRandomly_RetriesExhausted(t *testing.T) {
	// Every draw lands on (0,0): the first agent takes it, the second gives up
	// after five draws (ten ints).
	ints := make([]int, 12)
	src := &entropy.Script{Ints: ints, Fallback: entropy.NewRand(1)}
	src.Floats = []float64{0.5, 0.5}

	g := NewGrid(2, 2)
	err := g.PlaceRandomly(Placement{
		Count:       2,
		Latency:     testLatency,
		Progression: testProgression,
		MaxRetries:  5,
	}, src)
	if !errors.Is(err, ErrGridFull) {
		t.Fatalf("got %v, want ErrGridFull", err)
	}
	if g.Population() != 0 {
		t.Fatalf("partial population kept: %d", g.Population())
	}
	if g.At(disease.Cell{X: 0, Y: 0}) != nil {
		t.Fatalf("cell (0,0) still occupied after failure")
	}
}

func TestPlaceRandomly_BadRange(t *testing.T) {
	g := NewGrid(3, 3)
	err := g.PlaceRandomly(Placement{Count: 1, Latency: disease.Range{Low: 3, High: 1}, Progression: testProgression}, entropy.NewRand(1))
	if !errors.Is(err, disease.ErrInvalidRange) {
		t.Fatalf("got %v, want ErrInvalidRange", err)
	}
}

func TestPlaceRandomly_Density(t *testing.T) {
	g := NewGrid(20, 20)
	err := g.PlaceRandomly(Placement{
		Count:       50,
		Latency:     testLatency,
		Progression: testProgression,
		Density:     NewDensity(9, 0.1),
	}, entropy.NewRand(9))
	if err != nil {
		t.Fatalf("PlaceRandomly: %v", err)
	}
	if err := g.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	d := NewDensity(9, 0.1)
	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			if v := d.At(disease.Cell{X: x, Y: y}); v < 0 || v >= 1 {
				t.Fatalf("density at (%d,%d) = %v out of [0,1)", x, y, v)
			}
		}
	}
}

func TestPickRandomOccupied(t *testing.T) {
	g := NewGrid(3, 3)
	if _, err := g.PickRandomOccupied(entropy.NewRand(1), 10); !errors.Is(err, ErrNoOccupants) {
		t.Fatalf("empty grid: got %v, want ErrNoOccupants", err)
	}

	// One agent at (2,2); with no rejection draws the exhaustive pick finds it.
	src := &entropy.Script{Ints: []int{2, 2}, Floats: []float64{0, 0}}
	if err := g.PlaceRandomly(Placement{Count: 1, Latency: testLatency, Progression: testProgression}, src); err != nil {
		t.Fatalf("PlaceRandomly: %v", err)
	}
	a, err := g.PickRandomOccupied(entropy.NewRand(1), 0)
	if err != nil {
		t.Fatalf("PickRandomOccupied: %v", err)
	}
	if a.Pos != (disease.Cell{X: 2, Y: 2}) {
		t.Fatalf("picked agent at %v", a.Pos)
	}
}

func TestRelocate(t *testing.T) {
	g := placed(t, 6, 6, 20, 4)
	src := entropy.NewRand(5)
	for i := 0; i < 200; i++ {
		a, err := g.PickRandomOccupied(src, 100)
		if err != nil {
			t.Fatalf("PickRandomOccupied: %v", err)
		}
		from := a.Pos
		if err := g.Relocate(a, src, 100); err != nil {
			t.Fatalf("Relocate: %v", err)
		}
		if a.Pos == from {
			t.Fatalf("agent %d relocated onto its own cell", a.ID)
		}
		if g.At(from) == a {
			t.Fatalf("old cell %v still points at agent %d", from, a.ID)
		}
		if err := g.Verify(); err != nil {
			t.Fatalf("Verify after move %d: %v", i, err)
		}
	}
}

func TestRelocate_ExhaustiveFallback(t *testing.T) {
	g := placed(t, 2, 1, 1, 1)
	a := g.Agent(0)
	from := a.Pos
	if err := g.Relocate(a, entropy.NewRand(2), 0); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if a.Pos == from {
		t.Fatalf("agent did not move")
	}
}

func TestRelocate_Saturated(t *testing.T) {
	g := placed(t, 2, 2, 4, 1)
	err := g.Relocate(g.Agent(0), entropy.NewRand(1), 10)
	if !errors.Is(err, ErrSaturatedGrid) {
		t.Fatalf("got %v, want ErrSaturatedGrid", err)
	}
}

func TestSeedInfectious_Distinct(t *testing.T) {
	g := placed(t, 5, 5, 10, 2)
	if err := g.SeedInfectious(10, entropy.NewRand(3), 50); err != nil {
		t.Fatalf("SeedInfectious: %v", err)
	}
	for _, a := range g.Agents() {
		if a.State != disease.Infectious {
			t.Fatalf("agent %d is %s", a.ID, a.State)
		}
	}
	if err := g.SeedInfectious(11, entropy.NewRand(3), 50); err == nil {
		t.Fatalf("seeding more than the population succeeded")
	}
}

func TestStamp(t *testing.T) {
	g := placed(t, 4, 3, 5, 6)
	if err := g.Agent(1).TransitionTo(disease.Infectious); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	snap := NewSnapshot(4, 3)
	for i := range snap.Cells {
		snap.Cells[i] = CodeOf(disease.Removed)
	}
	g.Stamp(&snap)

	counts := snap.Counts()
	if counts != [disease.NumStates]int{4, 0, 1, 0} {
		t.Fatalf("counts: got %v", counts)
	}
	if got := snap.At(g.Agent(1).Pos); got != CodeOf(disease.Infectious) {
		t.Fatalf("cell of agent 1: got %d", got)
	}
	empty := 0
	for _, c := range snap.Cells {
		if c == Empty {
			empty++
		}
	}
	if empty != 7 {
		t.Fatalf("empty cells: got %d want 7", empty)
	}

	clone := snap.Clone()
	clone.Cells[0] = CodeOf(disease.Removed)
	if &clone.Cells[0] == &snap.Cells[0] {
		t.Fatalf("Clone shares cell storage")
	}
}
