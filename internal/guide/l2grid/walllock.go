package l2grid

import (
	"time"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
)

// LockState is the wall lock's state: Scanning or Locked. The interface is
// sealed so a locked state without a snapshot cannot be built.
type LockState interface {
	isLockState()
	// IsLocked is true for Locked.
	IsLocked() bool
}

// Scanning recomputes the wall layer from fresh detections every cycle.
type Scanning struct{}

func (Scanning) isLockState()   {}
func (Scanning) IsLocked() bool { return false }
func (Scanning) String() string { return "scanning" }

// Locked reuses a frozen wall layer captured at Since.
type Locked struct {
	Snapshot Layer
	Since    time.Time
}

func (Locked) isLockState()   {}
func (Locked) IsLocked() bool { return true }
func (Locked) String() string { return "locked" }

// WallLock decides which wall layer each cycle uses. It only changes state
// on an explicit Toggle or Restore. Fire evidence is never frozen; the lock
// governs the wall layer alone.
type WallLock struct {
	state LockState
	now   func() time.Time
}

// NewWallLock returns a lock in Scanning. A nil now uses time.Now.
func NewWallLock(now func() time.Time) *WallLock {
	if now == nil {
		now = time.Now
	}
	return &WallLock{state: Scanning{}, now: now}
}

// State returns the current state.
func (w *WallLock) State() LockState { return w.state }

// Toggle flips the lock. Entering Locked captures a deep copy of current so
// later grid mutations cannot reach the frozen layer.
func (w *WallLock) Toggle(current Layer) LockState {
	switch w.state.(type) {
	case Locked:
		w.state = Scanning{}
		diagf("wall lock released; scanning")
	default:
		w.state = Locked{Snapshot: current.Clone(), Since: w.now()}
		diagf("wall lock engaged; %d obstacle cells frozen", current.ObstacleCount())
	}
	return w.state
}

// Restore enters Locked with a previously persisted snapshot, for example
// after a restart.
func (w *WallLock) Restore(snapshot Layer, since time.Time) {
	if since.IsZero() {
		since = w.now()
	}
	w.state = Locked{Snapshot: snapshot.Clone(), Since: since}
	diagf("wall lock restored; %d obstacle cells frozen since %s",
		snapshot.ObstacleCount(), since.Format(time.RFC3339))
}

// WallContribution returns the wall layer for this cycle. When Locked it is
// a copy of the snapshot and fresh is ignored. When Scanning, g is cleared,
// fresh is applied to it and the result copied out.
func (w *WallLock) WallContribution(g *Grid, fresh *l1detect.Mask) Layer {
	if l, ok := w.state.(Locked); ok {
		return l.Snapshot.Clone()
	}
	g.Reset()
	g.ApplyMask(fresh)
	return g.Layer()
}
