package l2grid

// Layer is a detached copy of a grid's cell array. Treat it as immutable:
// values handed out by Grid.Layer and WallLock never alias live state, and
// callers must not mutate them in place.
type Layer struct {
	Cols     int         `json:"cols"`
	Rows     int         `json:"rows"`
	CellSize int         `json:"cell_size"`
	Cells    []CellState `json:"cells"`
}

// Clone returns a deep copy.
func (l Layer) Clone() Layer {
	cells := make([]CellState, len(l.Cells))
	copy(cells, l.Cells)
	l.Cells = cells
	return l
}

// Empty reports whether the layer carries no cells.
func (l Layer) Empty() bool { return len(l.Cells) == 0 }

// At returns the state of (col, row). Out-of-range cells read as Free.
func (l Layer) At(col, row int) CellState {
	if col < 0 || row < 0 || col >= l.Cols || row >= l.Rows {
		return Free
	}
	return l.Cells[row*l.Cols+col]
}

// Equal compares dimensions and contents.
func (l Layer) Equal(o Layer) bool {
	if l.Cols != o.Cols || l.Rows != o.Rows || l.CellSize != o.CellSize || len(l.Cells) != len(o.Cells) {
		return false
	}
	for i := range l.Cells {
		if l.Cells[i] != o.Cells[i] {
			return false
		}
	}
	return true
}

// ObstacleCount returns how many cells are Obstacle.
func (l Layer) ObstacleCount() int {
	n := 0
	for _, s := range l.Cells {
		if s == Obstacle {
			n++
		}
	}
	return n
}
