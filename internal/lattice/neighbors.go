package lattice

import (
	"fmt"
	"strings"

	"github.com/talgya/seir-lattice/internal/disease"
)

// EdgeMode selects how a contact neighborhood is clipped at the grid border.
type EdgeMode uint8

const (
	// EdgeClip drops every cell outside [0, Width) x [0, Height).
	EdgeClip EdgeMode = iota
	// EdgeLegacy only drops cells past the upper bounds. Negative coordinates
	// wrap to the far edge (x-1 becomes Width-1), so agents near x=0 or y=0
	// can reach the opposite side while agents near the upper edges cannot.
	EdgeLegacy
)

func (m EdgeMode) String() string {
	switch m {
	case EdgeClip:
		return "clip"
	case EdgeLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("edge(%d)", uint8(m))
	}
}

// ParseEdgeMode parses "clip" or "legacy". The empty string means clip.
func ParseEdgeMode(s string) (EdgeMode, error) {
	switch strings.ToLower(s) {
	case "", "clip":
		return EdgeClip, nil
	case "legacy":
		return EdgeLegacy, nil
	}
	return 0, fmt.Errorf("unknown edge mode %q", s)
}

// Neighbors returns the cells within Chebyshev distance radius of center,
// excluding center itself, in x-major order. Radius 0 yields nothing.
func (g *Grid) Neighbors(center disease.Cell, radius int, mode EdgeMode) []disease.Cell {
	if radius <= 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]disease.Cell, 0, side*side-1)
	for x := center.X - radius; x <= center.X+radius; x++ {
		for y := center.Y - radius; y <= center.Y+radius; y++ {
			if x == center.X && y == center.Y {
				continue
			}
			c, ok := g.clip(x, y, mode)
			if !ok || c == center {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

func (g *Grid) clip(x, y int, mode EdgeMode) (disease.Cell, bool) {
	if x >= g.Width || y >= g.Height {
		return disease.Cell{}, false
	}
	if mode == EdgeLegacy {
		if x < 0 {
			x += g.Width
		}
		if y < 0 {
			y += g.Height
		}
	}
	if x < 0 || y < 0 {
		return disease.Cell{}, false
	}
	return disease.Cell{X: x, Y: y}, true
}
