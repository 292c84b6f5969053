// Package status carries per-cycle guidance results from the processing
// loop to readers on other goroutines.
//
// The loop builds a fresh Snapshot each cycle and publishes it with a single
// pointer swap. A published Snapshot is never mutated again, so readers may
// hold on to it without locking.
package status

import (
	"strconv"
	"time"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
)

// PointStatus is the result for one guidance point.
type PointStatus struct {
	ID        int                `json:"id"`
	X         int                `json:"x"`
	Y         int                `json:"y"`
	Direction l4signal.Direction `json:"direction"`

	// PathLength is the number of moves to the chosen exit; -1 when none.
	PathLength int              `json:"path_length"`
	ExitIndex  int              `json:"exit_index"`
	InBounds   bool             `json:"in_bounds"`
	Path       []l1detect.Point `json:"path,omitempty"`
}

// Snapshot is the immutable result of one processing cycle.
type Snapshot struct {
	Seq          uint64        `json:"seq"`
	RunID        string        `json:"run_id"`
	TakenAt      time.Time     `json:"taken_at"`
	CycleTime    time.Duration `json:"cycle_time_ns"`
	FireDetected bool          `json:"fire_detected"`
	Locked       bool          `json:"locked"`
	LockedSince  time.Time     `json:"locked_since,omitempty"`
	Points       []PointStatus `json:"points"`

	// Debug views.
	Grid  l2grid.Layer    `json:"-"`
	Exits []l2grid.Cell   `json:"-"`
	Fires []l1detect.Rect `json:"-"`
}

// Direction returns the signal for guidance point id. Unknown ids and a nil
// snapshot give STOP and false.
func (s *Snapshot) Direction(id int) (l4signal.Direction, bool) {
	if s == nil {
		return l4signal.Stop, false
	}
	for _, p := range s.Points {
		if p.ID == id {
			return p.Direction, true
		}
	}
	return l4signal.Stop, false
}

// Directions returns the id → direction table keyed by decimal id, the
// shape served by the status endpoint.
func (s *Snapshot) Directions() map[string]l4signal.Direction {
	out := make(map[string]l4signal.Direction)
	if s == nil {
		return out
	}
	for _, p := range s.Points {
		out[strconv.Itoa(p.ID)] = p.Direction
	}
	return out
}

// Summary is the compact status document shared by HTTP, websocket and
// gRPC readers.
type Summary struct {
	FireDetected bool                          `json:"fire_detected"`
	Locked       bool                          `json:"locked"`
	Seq          uint64                        `json:"seq"`
	Directions   map[string]l4signal.Direction `json:"directions"`
}

// Summarize builds the compact form. A nil snapshot yields the safe
// default: no hazard, unlocked, no directions.
func (s *Snapshot) Summarize() Summary {
	if s == nil {
		return Summary{Directions: map[string]l4signal.Direction{}}
	}
	return Summary{
		FireDetected: s.FireDetected,
		Locked:       s.Locked,
		Seq:          s.Seq,
		Directions:   s.Directions(),
	}
}
