package l1detect

import (
	"context"
	"fmt"
)

// Point is a pixel coordinate on the corrected map plane. Y grows downward.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Rect is an axis-aligned rectangle in map-plane pixels.
type Rect struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// Center returns the rectangle centre in whole pixels, (X + W/2, Y + H/2)
// with W/2 and H/2 truncated.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// PadRect grows r by margin pixels on every side. The padding applied to
// hazards is a caller policy, the grid never inflates rectangles itself.
func PadRect(r Rect, margin int) Rect {
	return Rect{
		X: r.X - margin,
		Y: r.Y - margin,
		W: r.W + 2*margin,
		H: r.H + 2*margin,
	}
}

// Detections is the evidence produced for one processing cycle.
type Detections struct {
	// WallMask marks static structure. Nil means no wall evidence this cycle.
	WallMask *Mask
	// Fires are localized hazards. They are always live evidence and are
	// never frozen by the wall lock.
	Fires []Rect
	// Exits are refreshed every cycle.
	Exits []Rect
}

// FireDetected reports whether any hazard rectangle is present.
func (d Detections) FireDetected() bool { return len(d.Fires) > 0 }

// Source yields one Detections value per camera frame. Next returns io.EOF
// when a finite source is exhausted.
type Source interface {
	Next(ctx context.Context) (Detections, error)
	Close() error
}

// GuidancePoint is a fixed physical indicator location on the map plane.
type GuidancePoint struct {
	ID int `json:"id" yaml:"id"`
	X  int `json:"x" yaml:"x"`
	Y  int `json:"y" yaml:"y"`
}

// Pos returns the point's pixel position.
func (g GuidancePoint) Pos() Point { return Point{X: g.X, Y: g.Y} }
