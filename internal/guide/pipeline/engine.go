package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/guide/l3route"
	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/status"
)

// EngineConfig holds the fixed parameters of a deployment.
type EngineConfig struct {
	Width    int
	Height   int
	CellSize int
	// FirePadding grows every fire rectangle by this many pixels per side.
	FirePadding int
	// Lookahead is the path index the direction is computed towards.
	Lookahead int
	Points    []l1detect.GuidancePoint
	// RunID tags snapshots and persisted rows. Generated when empty.
	RunID string
	// Now defaults to time.Now.
	Now func() time.Time
	// Store, when set, receives the lock state on every toggle.
	Store l2grid.SnapshotStore
}

// Engine owns the grid, wall lock and exit registry and runs one cycle per
// call to Step. Step must be called from a single goroutine; RequestToggle
// and PendingToggles may be called from anywhere.
type Engine struct {
	cfg     EngineConfig
	grid    *l2grid.Grid
	lock    *l2grid.WallLock
	exits   l2grid.ExitRegistry
	planner l3route.Planner
	seq     uint64

	pending atomic.Int64
	locked  atomic.Bool
}

// NewEngine validates cfg and allocates the grid.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	g, err := l2grid.NewGrid(cfg.Width, cfg.Height, cfg.CellSize)
	if err != nil {
		return nil, fmt.Errorf("create grid: %w", err)
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = l4signal.DefaultLookahead
	}
	if cfg.FirePadding < 0 {
		return nil, fmt.Errorf("fire padding must be non-negative, got %d", cfg.FirePadding)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	cfg.Points = append([]l1detect.GuidancePoint(nil), cfg.Points...)
	return &Engine{
		cfg:  cfg,
		grid: g,
		lock: l2grid.NewWallLock(cfg.Now),
	}, nil
}

// RunID identifies this engine's run.
func (e *Engine) RunID() string { return e.cfg.RunID }

// Points returns the configured guidance points.
func (e *Engine) Points() []l1detect.GuidancePoint {
	return append([]l1detect.GuidancePoint(nil), e.cfg.Points...)
}

// GridSize returns the grid's column and row counts.
func (e *Engine) GridSize() (cols, rows int) { return e.grid.Cols, e.grid.Rows }

// RequestToggle queues one lock toggle. It is applied at the end of the next
// cycle, so each press is consumed exactly once.
func (e *Engine) RequestToggle() int64 {
	n := e.pending.Add(1)
	diagf("lock toggle requested (%d pending)", n)
	return n
}

// PendingToggles returns the number of toggles not yet applied.
func (e *Engine) PendingToggles() int64 { return e.pending.Load() }

// Locked reports the lock state as of the last completed cycle.
func (e *Engine) Locked() bool { return e.locked.Load() }

// RestoreLock resumes a persisted Locked state, if any.
func (e *Engine) RestoreLock() (bool, error) {
	ok, err := e.lock.RestoreFrom(e.cfg.Store, e.grid)
	if err != nil {
		return false, err
	}
	if ok {
		e.locked.Store(true)
		opsf("resumed locked wall layer from store")
	}
	return ok, nil
}

// Step runs one processing cycle: wall layer, fire hazards, exits, then a
// route and direction per guidance point. The returned snapshot owns all of
// its data.
func (e *Engine) Step(det l1detect.Detections) *status.Snapshot {
	start := e.cfg.Now()
	e.seq++

	wall := e.lock.WallContribution(e.grid, det.WallMask)
	if err := e.grid.Load(wall); err != nil {
		opsf("cycle %d: wall layer rejected: %v", e.seq, err)
		e.grid.Reset()
	}
	for _, f := range det.Fires {
		r := l1detect.PadRect(f, e.cfg.FirePadding)
		e.grid.ApplyRect(r.X, r.Y, r.W, r.H)
	}
	e.exits.Rebuild(e.grid, det.Exits)
	exitCells := e.exits.Cells()

	points := make([]status.PointStatus, 0, len(e.cfg.Points))
	for _, gp := range e.cfg.Points {
		ps := status.PointStatus{
			ID:         gp.ID,
			X:          gp.X,
			Y:          gp.Y,
			Direction:  l4signal.Stop,
			PathLength: -1,
			ExitIndex:  -1,
			InBounds:   e.grid.InBounds(gp.X, gp.Y),
		}
		if ps.InBounds {
			res := e.planner.ShortestPath(e.grid, exitCells, gp.Pos())
			ps.Direction = l4signal.ForPath(gp.Pos(), res.Path, e.cfg.Lookahead)
			ps.ExitIndex = res.ExitIndex
			if res.Found() {
				ps.PathLength = res.Path.Moves()
				ps.Path = res.Path
			}
		}
		points = append(points, ps)
	}

	snap := &status.Snapshot{
		Seq:          e.seq,
		RunID:        e.cfg.RunID,
		TakenAt:      start,
		FireDetected: det.FireDetected(),
		Points:       points,
		Grid:         e.grid.Layer(),
		Exits:        exitCells,
		Fires:        append([]l1detect.Rect(nil), det.Fires...),
	}

	// Locked reports the state after this cycle's toggles. Points and Grid
	// were computed before them, which is the same routing either way: a
	// lock freezes exactly this cycle's wall layer, and a release only takes
	// effect on the next fresh mask.
	e.applyToggles(wall)

	if l, ok := e.lock.State().(l2grid.Locked); ok {
		snap.Locked = true
		snap.LockedSince = l.Since
	}
	e.locked.Store(snap.Locked)
	snap.CycleTime = e.cfg.Now().Sub(start)
	tracef("cycle %d: fire=%v locked=%v exits=%d took=%s",
		snap.Seq, snap.FireDetected, snap.Locked, len(exitCells), snap.CycleTime)
	return snap
}

// applyToggles consumes every pending request. Only the parity matters:
// two presses between cycles cancel out. The wall layer captured on lock is
// this cycle's wall contribution, without fire hazards.
func (e *Engine) applyToggles(wall l2grid.Layer) {
	n := e.pending.Swap(0)
	if n == 0 {
		return
	}
	if n%2 == 0 {
		diagf("cycle %d: %d toggles cancel out", e.seq, n)
		return
	}
	st := e.lock.Toggle(wall)
	opsf("wall lock now %v", st)
	if e.cfg.Store != nil {
		if err := e.lock.Persist(e.cfg.Store, e.cfg.RunID, "toggle"); err != nil {
			opsf("lock state not persisted: %v", err)
		}
	}
}

// PersistLock writes the current lock state with the given reason.
func (e *Engine) PersistLock(reason string) error {
	if e.cfg.Store == nil {
		return nil
	}
	return e.lock.Persist(e.cfg.Store, e.cfg.RunID, reason)
}
