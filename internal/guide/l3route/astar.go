package l3route

import (
	"container/heap"

	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
)

type step struct{ dc, dr int }

// 4-connected moves only, in a fixed order so expansion is reproducible.
var steps = [...]step{
	{dc: 0, dr: -1},
	{dc: 1, dr: 0},
	{dc: 0, dr: 1},
	{dc: -1, dr: 0},
}

func manhattan(a, b l2grid.Cell) int {
	dx := a.Col - b.Col
	if dx < 0 {
		dx = -dx
	}
	dy := a.Row - b.Row
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

type pathNode struct {
	cell   l2grid.Cell
	g      int
	h      int
	seq    int
	index  int
	parent *pathNode
}

// pathQueue orders by f = g+h, then by h (prefer nodes nearer the goal),
// then by insertion order.
type pathQueue []*pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool {
	fi, fj := pq[i].g+pq[i].h, pq[j].g+pq[j].h
	if fi != fj {
		return fi < fj
	}
	if pq[i].h != pq[j].h {
		return pq[i].h < pq[j].h
	}
	return pq[i].seq < pq[j].seq
}

func (pq pathQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pathQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pathNode)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// search holds per-search scratch state sized to the grid.
type search struct {
	gScore []int
	closed []bool
	open   pathQueue
}

func (s *search) reset(n int) {
	if cap(s.gScore) < n {
		s.gScore = make([]int, n)
		s.closed = make([]bool, n)
	}
	s.gScore = s.gScore[:n]
	s.closed = s.closed[:n]
	for i := range s.gScore {
		s.gScore[i] = -1
		s.closed[i] = false
	}
	s.open = s.open[:0]
}

// astar runs a single-source single-target search with unit step cost and
// a Manhattan heuristic. It returns the cell sequence start..goal inclusive
// and the number of nodes expanded; nil when goal is unreachable.
func (s *search) astar(g *l2grid.Grid, start, goal l2grid.Cell) ([]l2grid.Cell, int) {
	if g.IsObstacleCell(goal.Col, goal.Row) {
		return nil, 0
	}
	s.reset(len(g.Cells))
	seq := 0
	heap.Push(&s.open, &pathNode{cell: start, h: manhattan(start, goal), seq: seq})
	s.gScore[g.Idx(start.Col, start.Row)] = 0
	expanded := 0

	for s.open.Len() > 0 {
		current := heap.Pop(&s.open).(*pathNode)
		currIdx := g.Idx(current.cell.Col, current.cell.Row)
		if s.closed[currIdx] {
			continue
		}
		s.closed[currIdx] = true
		expanded++
		if current.cell == goal {
			return reconstructPath(current), expanded
		}

		for _, d := range steps {
			nc, nr := current.cell.Col+d.dc, current.cell.Row+d.dr
			if nc < 0 || nr < 0 || nc >= g.Cols || nr >= g.Rows {
				continue
			}
			idx := g.Idx(nc, nr)
			if s.closed[idx] || g.Cells[idx] == l2grid.Obstacle {
				continue
			}
			tentativeG := current.g + 1
			if prev := s.gScore[idx]; prev >= 0 && tentativeG >= prev {
				continue
			}
			s.gScore[idx] = tentativeG
			seq++
			next := l2grid.Cell{Col: nc, Row: nr}
			heap.Push(&s.open, &pathNode{
				cell:   next,
				g:      tentativeG,
				h:      manhattan(next, goal),
				seq:    seq,
				parent: current,
			})
		}
	}
	return nil, expanded
}

func reconstructPath(end *pathNode) []l2grid.Cell {
	path := make([]l2grid.Cell, 0, end.g+1)
	for node := end; node != nil; node = node.parent {
		path = append(path, node.cell)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}
