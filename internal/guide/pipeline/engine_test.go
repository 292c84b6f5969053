package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/status"
	"github.com/banshee-data/exit.guide/internal/timeutil"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func now() time.Time { return epoch }

// Row 2 walled off except for column 0.
func gapWall() *l1detect.Mask {
	m := l1detect.NewMask(100, 100)
	m.FillRect(l1detect.Rect{X: 20, Y: 40, W: 80, H: 20})
	return m
}

func newEngine(t *testing.T, mutate func(*EngineConfig)) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Width:       100,
		Height:      100,
		CellSize:    20,
		FirePadding: 0,
		Lookahead:   1,
		Points:      []l1detect.GuidancePoint{{ID: 0, X: 10, Y: 10}},
		RunID:       "test-run",
		Now:         now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

var exitRect = []l1detect.Rect{{X: 80, Y: 80, W: 20, H: 20}}

func TestNewEngine_InvalidGrid(t *testing.T) {
	t.Parallel()
	_, err := NewEngine(EngineConfig{Width: 10, Height: 10, CellSize: 20})
	assert.ErrorIs(t, err, l2grid.ErrInvalidDimensions)

	_, err = NewEngine(EngineConfig{Width: 100, Height: 100, CellSize: 20, FirePadding: -1})
	assert.Error(t, err)
}

func TestNewEngine_Defaults(t *testing.T) {
	t.Parallel()
	e, err := NewEngine(EngineConfig{Width: 640, Height: 480, CellSize: 20})
	require.NoError(t, err)
	assert.NotEmpty(t, e.RunID())
	cols, rows := e.GridSize()
	assert.Equal(t, 32, cols)
	assert.Equal(t, 24, rows)
}

func TestEngine_RoutesThroughGap(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)
	snap := e.Step(l1detect.Detections{WallMask: gapWall(), Exits: exitRect})

	require.Len(t, snap.Points, 1)
	p := snap.Points[0]
	assert.True(t, p.InBounds)
	assert.Equal(t, l4signal.Down, p.Direction)
	assert.Equal(t, 8, p.PathLength)
	assert.Equal(t, 0, p.ExitIndex)
	assert.Contains(t, p.Path, l1detect.Point{X: 10, Y: 50})
	assert.False(t, snap.FireDetected)
	assert.False(t, snap.Locked)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, "test-run", snap.RunID)
	assert.Equal(t, 4, snap.Grid.ObstacleCount())
}

func TestEngine_NoExitsIsStop(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)
	snap := e.Step(l1detect.Detections{WallMask: gapWall()})
	p := snap.Points[0]
	assert.Equal(t, l4signal.Stop, p.Direction)
	assert.Equal(t, -1, p.PathLength)
	assert.Equal(t, -1, p.ExitIndex)
	assert.Empty(t, p.Path)
}

func TestEngine_FireIsPaddedAndLive(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *EngineConfig) {
		c.FirePadding = 20
		c.Points = []l1detect.GuidancePoint{{ID: 3, X: 10, Y: 10}, {ID: 4, X: 90, Y: 10}}
	})
	// A small fire at (45,5); padded it covers cells (1..3, 0..1).
	det := l1detect.Detections{
		Fires: []l1detect.Rect{{X: 45, Y: 5, W: 5, H: 5}},
		Exits: []l1detect.Rect{{X: 0, Y: 80, W: 20, H: 20}},
	}
	snap := e.Step(det)
	assert.True(t, snap.FireDetected)
	assert.True(t, snap.Grid.At(1, 0) == l2grid.Obstacle)
	assert.True(t, snap.Grid.At(3, 1) == l2grid.Obstacle)
	assert.True(t, snap.Grid.At(4, 0) == l2grid.Free)

	d, ok := snap.Direction(3)
	require.True(t, ok)
	assert.Equal(t, l4signal.Down, d)
	d, _ = snap.Direction(4)
	assert.Equal(t, l4signal.Down, d, "point beside the fire still routes down and around")

	// Next cycle without fire: the hazard is gone immediately.
	snap = e.Step(l1detect.Detections{Exits: det.Exits})
	assert.False(t, snap.FireDetected)
	assert.Zero(t, snap.Grid.ObstacleCount())
}

func TestEngine_PointInsideHazardStops(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *EngineConfig) { c.FirePadding = 20 })
	snap := e.Step(l1detect.Detections{
		Fires: []l1detect.Rect{{X: 5, Y: 5, W: 5, H: 5}},
		Exits: exitRect,
	})
	assert.Equal(t, l4signal.Stop, snap.Points[0].Direction)
	assert.Equal(t, -1, snap.Points[0].PathLength)
}

func TestEngine_OutOfBoundsPointSkipped(t *testing.T) {
	t.Parallel()
	e := newEngine(t, func(c *EngineConfig) {
		c.Points = []l1detect.GuidancePoint{{ID: 9, X: 150, Y: 10}, {ID: 1, X: 10, Y: 10}}
	})
	snap := e.Step(l1detect.Detections{Exits: exitRect})
	require.Len(t, snap.Points, 2)
	assert.False(t, snap.Points[0].InBounds)
	assert.Equal(t, l4signal.Stop, snap.Points[0].Direction)
	assert.True(t, snap.Points[1].InBounds)
	assert.NotEqual(t, l4signal.Stop, snap.Points[1].Direction)
}

func TestEngine_LockFreezesWallsNotFires(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)

	e.Step(l1detect.Detections{WallMask: gapWall(), Exits: exitRect})
	assert.Equal(t, int64(1), e.RequestToggle())
	snap := e.Step(l1detect.Detections{WallMask: gapWall(), Exits: exitRect})
	assert.True(t, snap.Locked)
	assert.True(t, e.Locked())
	assert.Equal(t, epoch, snap.LockedSince)
	assert.Zero(t, e.PendingToggles())

	// Walls vanish from the detections but the frozen layer still routes
	// through the gap. A live fire is still applied on top.
	snap = e.Step(l1detect.Detections{
		Fires: []l1detect.Rect{{X: 65, Y: 5, W: 5, H: 5}},
		Exits: exitRect,
	})
	assert.True(t, snap.Locked)
	assert.Equal(t, 8, snap.Points[0].PathLength)
	assert.Contains(t, snap.Points[0].Path, l1detect.Point{X: 10, Y: 50})
	assert.Equal(t, 5, snap.Grid.ObstacleCount(), "4 wall cells plus 1 fire cell")

	// The fire must not have been captured into the frozen layer.
	snap = e.Step(l1detect.Detections{Exits: exitRect})
	assert.Equal(t, 4, snap.Grid.ObstacleCount())

	// Two presses in one cycle cancel out.
	e.RequestToggle()
	e.RequestToggle()
	snap = e.Step(l1detect.Detections{Exits: exitRect})
	assert.True(t, snap.Locked)

	// One press releases; with no wall evidence the grid is empty again.
	e.RequestToggle()
	e.Step(l1detect.Detections{Exits: exitRect})
	snap = e.Step(l1detect.Detections{Exits: exitRect})
	assert.False(t, snap.Locked)
	assert.Zero(t, snap.Grid.ObstacleCount())
}

func TestEngine_ToggleCycleSnapshotMatchesFrozenState(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)

	e.RequestToggle()
	locking := e.Step(l1detect.Detections{WallMask: gapWall(), Exits: exitRect})
	require.True(t, locking.Locked)

	// Without wall evidence the next cycle runs purely on the frozen layer,
	// and it must route exactly as the locking cycle reported.
	frozen := e.Step(l1detect.Detections{Exits: exitRect})
	require.True(t, frozen.Locked)
	assert.True(t, locking.Grid.Equal(frozen.Grid))
	assert.Equal(t, locking.Points, frozen.Points)

	// The releasing cycle still routes on the frozen walls; the next fresh
	// mask (here: none) takes over afterwards.
	e.RequestToggle()
	releasing := e.Step(l1detect.Detections{Exits: exitRect})
	assert.False(t, releasing.Locked)
	assert.True(t, locking.Grid.Equal(releasing.Grid))
	assert.Zero(t, e.Step(l1detect.Detections{Exits: exitRect}).Grid.ObstacleCount())
}

func TestEngine_SnapshotIsDetached(t *testing.T) {
	t.Parallel()
	e := newEngine(t, nil)
	first := e.Step(l1detect.Detections{WallMask: gapWall(), Exits: exitRect})
	before := first.Grid.Clone()
	e.Step(l1detect.Detections{Exits: exitRect})
	assert.True(t, before.Equal(first.Grid), "later cycles must not mutate a published snapshot")
}

type memStore struct {
	mu   sync.Mutex
	rows []*l2grid.LockSnapshot
}

func (m *memStore) InsertLockSnapshot(s *l2grid.LockSnapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
	return int64(len(m.rows)), nil
}

func (m *memStore) LatestLockSnapshot() (*l2grid.LockSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) == 0 {
		return nil, nil
	}
	return m.rows[len(m.rows)-1], nil
}

func TestEngine_LockPersistsAndRestores(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	e := newEngine(t, func(c *EngineConfig) { c.Store = store })
	e.RequestToggle()
	e.Step(l1detect.Detections{WallMask: gapWall(), Exits: exitRect})
	require.Len(t, store.rows, 1)
	assert.True(t, store.rows[0].Locked)
	assert.Equal(t, "test-run", store.rows[0].RunID)

	restarted := newEngine(t, func(c *EngineConfig) { c.Store = store; c.RunID = "second" })
	ok, err := restarted.RestoreLock()
	require.NoError(t, err)
	assert.True(t, ok)
	snap := restarted.Step(l1detect.Detections{Exits: exitRect})
	assert.True(t, snap.Locked)
	assert.Equal(t, 4, snap.Grid.ObstacleCount())

	require.NoError(t, restarted.PersistLock("shutdown"))
	assert.Len(t, store.rows, 2)
}

func TestRunner_ReplaysUntilEOF(t *testing.T) {
	t.Parallel()
	sc, err := l1detect.ParseScenario([]byte(`
width: 100
height: 100
frames:
  - repeat: 3
    walls: [{x: 20, y: 40, w: 80, h: 20}]
    exits: [{x: 80, y: 80, w: 20, h: 20}]
`))
	require.NoError(t, err)
	src, err := l1detect.NewScenarioSource(sc)
	require.NoError(t, err)

	pub := status.NewPublisher()
	stats := monitoring.NewCycleStats(8)
	r := &Runner{Engine: newEngine(t, nil), Source: src, Publisher: pub, Stats: stats}
	require.NoError(t, r.Run(context.Background()))

	latest := pub.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, uint64(3), latest.Seq)
	assert.Equal(t, uint64(3), stats.Summary().Cycles)
}

type failingSource struct{ calls int }

func (f *failingSource) Next(ctx context.Context) (l1detect.Detections, error) {
	f.calls++
	return l1detect.Detections{}, errors.New("camera unplugged")
}

func (f *failingSource) Close() error { return nil }

func TestRunner_PersistentSourceErrorEndsRun(t *testing.T) {
	t.Parallel()
	src := &failingSource{}
	stats := monitoring.NewCycleStats(4)
	r := &Runner{
		Engine:          newEngine(t, nil),
		Source:          src,
		Publisher:       status.NewPublisher(),
		Stats:           stats,
		MaxSourceErrors: 3,
	}
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera unplugged")
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, uint64(3), stats.Summary().Skipped)
}

func TestRunner_PacedByClockAndCancellable(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(epoch)
	pub := status.NewPublisher()
	updates, cancelSub := pub.Subscribe(8)
	defer cancelSub()

	r := &Runner{
		Engine:    newEngine(t, nil),
		Source:    l1detect.StaticSource{Det: l1detect.Detections{Exits: exitRect}},
		Publisher: pub,
		Clock:     clock,
		Interval:  100 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	first := <-updates
	assert.Equal(t, uint64(1), first.Seq)

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	second := <-updates
	assert.Equal(t, uint64(2), second.Seq)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunner_RequiresDependencies(t *testing.T) {
	t.Parallel()
	assert.Error(t, (&Runner{}).Run(context.Background()))
}

func TestReplay_TogglesAtCycle(t *testing.T) {
	t.Parallel()
	sc, err := l1detect.ParseScenario([]byte(`
width: 100
height: 100
frames:
  - walls: [{x: 20, y: 40, w: 80, h: 20}]
    exits: [{x: 80, y: 80, w: 20, h: 20}]
  - no_walls: true
    repeat: 2
    exits: [{x: 80, y: 80, w: 20, h: 20}]
`))
	require.NoError(t, err)
	src, err := l1detect.NewScenarioSource(sc)
	require.NoError(t, err)

	cfg := EngineConfig{Width: 100, Height: 100, CellSize: 20, Lookahead: 1,
		Points: []l1detect.GuidancePoint{{ID: 0, X: 10, Y: 10}}, Now: now}
	snaps, err := Replay(context.Background(), cfg, src, map[uint64]bool{1: true})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for _, s := range snaps {
		assert.True(t, s.Locked, "cycle %d", s.Seq)
		assert.Equal(t, 8, s.Points[0].PathLength)
	}
}
