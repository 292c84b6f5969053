package l2grid

import "github.com/banshee-data/exit.guide/internal/guide/l1detect"

// ExitRegistry is the ordered list of exit cells for the current cycle. It
// is rebuilt from scratch every cycle and never frozen. Duplicate cells are
// kept; they cost the planner one extra search and nothing else.
type ExitRegistry struct {
	cells []Cell
}

// Rebuild replaces the registry with the cells containing each rectangle's
// centre.
func (e *ExitRegistry) Rebuild(g *Grid, rects []l1detect.Rect) {
	e.cells = e.cells[:0]
	for _, r := range rects {
		c := r.Center()
		e.cells = append(e.cells, g.CellOf(c.X, c.Y))
	}
	tracef("exit registry rebuilt: %d exits", len(e.cells))
}

// Cells returns a copy of the exit cells in registration order.
func (e *ExitRegistry) Cells() []Cell {
	out := make([]Cell, len(e.cells))
	copy(out, e.cells)
	return out
}

// Len returns the number of registered exits.
func (e *ExitRegistry) Len() int { return len(e.cells) }
