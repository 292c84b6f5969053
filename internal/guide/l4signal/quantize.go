package l4signal

import (
	"math"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
)

// Deadband is the per-axis pixel distance below which the signal is STOP.
const Deadband = 5

// Sector boundaries in degrees, counter-clockwise from the +x axis. The
// table is not a uniform compass rose: [292.5, 337.5) maps to STOP.
const (
	rightUpperBound = 25.0
	upUpperBound    = 157.5
	leftUpperBound  = 202.5
	downUpperBound  = 292.5
	gapUpperBound   = 337.5
)

// DefaultLookahead is the path index used when none is configured.
const DefaultLookahead = 5

// Quantize maps the vector from cur to look into a Direction. Image
// coordinates have y growing downward, so dy is negated before atan2.
func Quantize(cur, look l1detect.Point) Direction {
	dx := look.X - cur.X
	dy := look.Y - cur.Y
	if abs(dx) < Deadband && abs(dy) < Deadband {
		return Stop
	}
	return FromAngle(Angle(dx, dy))
}

// Angle returns atan2(-dy, dx) in degrees normalised to [0, 360).
func Angle(dx, dy int) float64 {
	deg := math.Atan2(float64(-dy), float64(dx)) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

// FromAngle applies the sector table to an angle in [0, 360).
func FromAngle(deg float64) Direction {
	switch {
	case deg < rightUpperBound:
		return Right
	case deg < upUpperBound:
		return Up
	case deg < leftUpperBound:
		return Left
	case deg < downUpperBound:
		return Down
	case deg < gapUpperBound:
		return Stop
	default:
		return Right
	}
}

// LookaheadPoint returns path[index], clamped to the last waypoint. The
// path must not be empty.
func LookaheadPoint(path []l1detect.Point, index int) l1detect.Point {
	if index >= len(path) {
		index = len(path) - 1
	}
	if index < 0 {
		index = 0
	}
	return path[index]
}

// ForPath quantizes the near-term heading of path as seen from start. A
// path with fewer than two waypoints (unreachable, or already on the exit)
// gives STOP.
func ForPath(start l1detect.Point, path []l1detect.Point, lookahead int) Direction {
	if len(path) <= 1 {
		return Stop
	}
	return Quantize(start, LookaheadPoint(path, lookahead))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
