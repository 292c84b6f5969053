package l2grid

import (
	"errors"
	"fmt"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
)

// ErrInvalidDimensions is returned when the map size and cell size leave no
// representable cells. It indicates a deployment misconfiguration.
var ErrInvalidDimensions = errors.New("invalid grid dimensions")

// CellState is the occupancy of one cell.
type CellState uint8

const (
	Free CellState = iota
	Obstacle
)

func (s CellState) String() string {
	if s == Obstacle {
		return "obstacle"
	}
	return "free"
}

// Cell is an integer (column, row) grid coordinate.
type Cell struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// Grid is a fixed-size occupancy grid over the map plane. Cols and Rows are
// floor(width/cellSize) and floor(height/cellSize); any remainder strip of
// the plane is not represented. Every pixel-to-cell conversion clamps.
//
// A Grid has a single owner (the processing loop) and is not safe for
// concurrent use. Hand Layer copies to other goroutines instead.
type Grid struct {
	Cols     int
	Rows     int
	CellSize int
	Cells    []CellState
}

// NewGrid allocates a grid covering a width×height pixel plane.
func NewGrid(width, height, cellSize int) (*Grid, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("%w: cell size %d", ErrInvalidDimensions, cellSize)
	}
	cols, rows := width/cellSize, height/cellSize
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: %dx%d px at cell size %d gives %dx%d cells",
			ErrInvalidDimensions, width, height, cellSize, cols, rows)
	}
	return &Grid{
		Cols:     cols,
		Rows:     rows,
		CellSize: cellSize,
		Cells:    make([]CellState, cols*rows),
	}, nil
}

// Idx returns the flat index of (col, row). Arguments must be in range.
func (g *Grid) Idx(col, row int) int {
	return row*g.Cols + col
}

// Reset clears every cell to Free.
func (g *Grid) Reset() {
	clear(g.Cells)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// floorDiv rounds toward negative infinity so negative pixels clamp to 0.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ClampCell forces (col, row) into the grid.
func (g *Grid) ClampCell(col, row int) Cell {
	return Cell{Col: clamp(col, 0, g.Cols-1), Row: clamp(row, 0, g.Rows-1)}
}

// CellOf maps a pixel to its containing cell, clamped into bounds.
func (g *Grid) CellOf(px, py int) Cell {
	return g.ClampCell(floorDiv(px, g.CellSize), floorDiv(py, g.CellSize))
}

// CellCenter returns the pixel centre of a cell.
func (g *Grid) CellCenter(c Cell) l1detect.Point {
	return l1detect.Point{
		X: c.Col*g.CellSize + g.CellSize/2,
		Y: c.Row*g.CellSize + g.CellSize/2,
	}
}

// InBounds reports whether a pixel lies on the represented part of the plane.
func (g *Grid) InBounds(px, py int) bool {
	return px >= 0 && py >= 0 && px < g.Cols*g.CellSize && py < g.Rows*g.CellSize
}

// ApplyMask downsamples mask to grid resolution by nearest-neighbour
// sampling and marks every sampled set pixel as Obstacle. Sampling instead
// of averaging keeps one-pixel walls; a false obstacle can be routed around
// but a vanished wall cannot. A nil mask is a no-op, and so is a mask
// whose pixel buffer is shorter than Width*Height.
func (g *Grid) ApplyMask(mask *l1detect.Mask) {
	if mask == nil || mask.Width <= 0 || mask.Height <= 0 {
		return
	}
	if len(mask.Pix) < mask.Width*mask.Height {
		opsf("wall mask ignored: %d bytes for %dx%d", len(mask.Pix), mask.Width, mask.Height)
		return
	}
	for r := 0; r < g.Rows; r++ {
		sy := r * mask.Height / g.Rows
		for c := 0; c < g.Cols; c++ {
			sx := c * mask.Width / g.Cols
			if mask.Pix[sy*mask.Width+sx] != 0 {
				g.Cells[g.Idx(c, r)] = Obstacle
			}
		}
	}
}

// ApplyRect marks every cell from CellOf(x, y) to CellOf(x+w, y+h)
// inclusive as Obstacle. Rectangles partly or wholly off the plane are
// clamped onto the border cells.
func (g *Grid) ApplyRect(x, y, w, h int) {
	lo := g.CellOf(x, y)
	hi := g.CellOf(x+w, y+h)
	for r := lo.Row; r <= hi.Row; r++ {
		for c := lo.Col; c <= hi.Col; c++ {
			g.Cells[g.Idx(c, r)] = Obstacle
		}
	}
}

// IsObstacle reports the state of the cell containing pixel (px, py).
func (g *Grid) IsObstacle(px, py int) bool {
	c := g.CellOf(px, py)
	return g.Cells[g.Idx(c.Col, c.Row)] == Obstacle
}

// IsObstacleCell reports the state of cell (col, row), clamped.
func (g *Grid) IsObstacleCell(col, row int) bool {
	c := g.ClampCell(col, row)
	return g.Cells[g.Idx(c.Col, c.Row)] == Obstacle
}

// SetCell marks a single cell. Out-of-range cells are clamped.
func (g *Grid) SetCell(col, row int, s CellState) {
	c := g.ClampCell(col, row)
	g.Cells[g.Idx(c.Col, c.Row)] = s
}

// Counts returns the number of obstacle and free cells.
func (g *Grid) Counts() (obstacles, free int) {
	for _, s := range g.Cells {
		if s == Obstacle {
			obstacles++
		}
	}
	return obstacles, len(g.Cells) - obstacles
}

// Layer returns a deep copy of the current cell array.
func (g *Grid) Layer() Layer {
	cells := make([]CellState, len(g.Cells))
	copy(cells, g.Cells)
	return Layer{Cols: g.Cols, Rows: g.Rows, CellSize: g.CellSize, Cells: cells}
}

// Load overwrites the grid with a copy of l.
func (g *Grid) Load(l Layer) error {
	if l.Cols != g.Cols || l.Rows != g.Rows || len(l.Cells) != len(g.Cells) {
		return fmt.Errorf("%w: layer %dx%d does not fit grid %dx%d",
			ErrInvalidDimensions, l.Cols, l.Rows, g.Cols, g.Rows)
	}
	copy(g.Cells, l.Cells)
	return nil
}
