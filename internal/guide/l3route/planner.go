package l3route

import (
	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
)

// Path is a sequence of pixel waypoints at cell centres, from the start
// cell to an exit cell inclusive. An empty Path means unreachable.
type Path []l1detect.Point

// Moves returns the number of steps along the path.
func (p Path) Moves() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Result describes one planning query.
type Result struct {
	Path Path
	// ExitIndex is the registry position of the chosen exit, or -1.
	ExitIndex int
	// Expanded counts A* node expansions across all exits.
	Expanded int
}

// Found reports whether any exit was reachable.
func (r Result) Found() bool { return len(r.Path) > 0 }

// Planner finds the nearest reachable exit. The zero value is ready to use.
// A Planner reuses scratch buffers between queries and must not be shared
// between goroutines; it keeps no state that affects results.
type Planner struct {
	s search
}

// ShortestPath returns the shortest path from start to any exit. A start
// inside an obstacle, an empty exit list and unreachable exits all give an
// empty Path. Exits are searched in order and only a strictly shorter path
// replaces the best so far, so ties go to the lowest exit index.
func (p *Planner) ShortestPath(g *l2grid.Grid, exits []l2grid.Cell, start l1detect.Point) Result {
	res := Result{ExitIndex: -1}
	if g == nil || len(exits) == 0 {
		return res
	}
	sc := g.CellOf(start.X, start.Y)
	if g.IsObstacleCell(sc.Col, sc.Row) {
		return res
	}

	var best []l2grid.Cell
	for i, exit := range exits {
		exit = g.ClampCell(exit.Col, exit.Row)
		cells, n := p.s.astar(g, sc, exit)
		res.Expanded += n
		if cells == nil {
			continue
		}
		if best == nil || len(cells) < len(best) {
			best = cells
			res.ExitIndex = i
		}
	}
	if best == nil {
		return res
	}
	res.Path = make(Path, len(best))
	for i, c := range best {
		res.Path[i] = g.CellCenter(c)
	}
	return res
}

// ShortestPath is a convenience wrapper returning only the path.
func ShortestPath(g *l2grid.Grid, exits []l2grid.Cell, start l1detect.Point) Path {
	var p Planner
	return p.ShortestPath(g, exits, start).Path
}
