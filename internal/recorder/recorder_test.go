package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/status"
)

type memStore struct {
	mu       sync.Mutex
	runs     []Run
	finished map[string]uint64
	changes  []DirectionChange
	hazards  []HazardEvent
	err      error
}

func newMemStore() *memStore { return &memStore{finished: map[string]uint64{}} }

func (m *memStore) InsertRun(r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *r)
	return m.err
}

func (m *memStore) FinishRun(id string, _ int64, cycles uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[id] = cycles
	return nil
}

func (m *memStore) InsertDirectionChanges(c []DirectionChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.changes = append(m.changes, c...)
	return nil
}

func (m *memStore) InsertHazardEvent(e *HazardEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.hazards = append(m.hazards, *e)
	return nil
}

var t0 = time.Unix(1700000000, 0)

func snap(seq uint64, fire bool, dirs ...l4signal.Direction) *status.Snapshot {
	s := &status.Snapshot{Seq: seq, TakenAt: t0.Add(time.Duration(seq) * time.Second), FireDetected: fire}
	for i, d := range dirs {
		s.Points = append(s.Points, status.PointStatus{ID: i, Direction: d, PathLength: 3, ExitIndex: 0})
	}
	if fire {
		s.Fires = []l1detect.Rect{{X: 1, Y: 1, W: 2, H: 2}}
	}
	return s
}

func TestRecorder_DiffWritesOnlyChanges(t *testing.T) {
	t.Parallel()
	r := New(newMemStore(), "run-a")

	changes, hz := r.Diff(snap(1, false, l4signal.Up, l4signal.Left))
	require.Len(t, changes, 2)
	assert.Equal(t, "", changes[0].From)
	assert.Equal(t, "UP", changes[0].To)
	require.NotNil(t, hz, "first snapshot records the initial hazard state")
	assert.False(t, hz.FireDetected)

	changes, hz = r.Diff(snap(2, false, l4signal.Up, l4signal.Left))
	assert.Empty(t, changes)
	assert.Nil(t, hz)

	changes, hz = r.Diff(snap(3, true, l4signal.Up, l4signal.Stop))
	want := []DirectionChange{{
		RunID:          "run-a",
		Seq:            3,
		TakenUnixNanos: t0.Add(3 * time.Second).UnixNano(),
		PointID:        1,
		From:           "LEFT",
		To:             "STOP",
		PathLength:     3,
	}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
	require.NotNil(t, hz)
	assert.True(t, hz.FireDetected)
	assert.Equal(t, 1, hz.FireCount)

	changes, hz = r.Diff(nil)
	assert.Nil(t, changes)
	assert.Nil(t, hz)
}

func TestRecorder_RunConsumesUntilClosed(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	r := New(store, "run-b")
	require.NoError(t, r.Begin(Run{Version: "test", PointCount: 1}))

	ch := make(chan *status.Snapshot, 4)
	ch <- snap(1, false, l4signal.Up)
	ch <- snap(2, false, l4signal.Up)
	ch <- snap(3, true, l4signal.Down)
	close(ch)
	require.NoError(t, r.Run(context.Background(), ch))

	assert.Len(t, store.runs, 1)
	assert.Equal(t, "run-b", store.runs[0].RunID)
	assert.NotZero(t, store.runs[0].StartedUnixNanos)
	assert.Len(t, store.changes, 2)
	assert.Len(t, store.hazards, 2)
	assert.Equal(t, uint64(3), store.finished["run-b"])
	written, failed := r.Stats()
	assert.Equal(t, uint64(4), written)
	assert.Zero(t, failed)
}

func TestRecorder_StoreErrorsAreCounted(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.err = errors.New("read-only")
	r := New(store, "run-c")
	assert.Error(t, r.Begin(Run{}))
	assert.Error(t, r.Record(snap(1, false, l4signal.Up)))
	_, failed := r.Stats()
	assert.Equal(t, uint64(2), failed)

	// Directions are not retried; the initial hazard row is.
	store.err = nil
	require.NoError(t, r.Record(snap(2, false, l4signal.Up)))
	assert.Empty(t, store.changes)
	require.Len(t, store.hazards, 1)
	assert.False(t, store.hazards[0].FireDetected)
	assert.Equal(t, uint64(2), store.hazards[0].Seq)
}

// dirFailStore rejects direction inserts but accepts everything else.
type dirFailStore struct {
	*memStore
}

func (d dirFailStore) InsertDirectionChanges([]DirectionChange) error {
	return errors.New("direction table locked")
}

func TestRecorder_HazardSurvivesDirectionFailure(t *testing.T) {
	t.Parallel()
	store := dirFailStore{memStore: newMemStore()}
	r := New(store, "run-e")

	require.Error(t, r.Record(snap(1, false, l4signal.Up)))
	require.Error(t, r.Record(snap(2, true, l4signal.Left)))
	require.NoError(t, r.Record(snap(3, true, l4signal.Left)))

	require.Len(t, store.hazards, 2)
	assert.False(t, store.hazards[0].FireDetected)
	assert.True(t, store.hazards[1].FireDetected)
	assert.Equal(t, uint64(2), store.hazards[1].Seq)
	assert.Equal(t, 1, store.hazards[1].FireCount)

	written, failed := r.Stats()
	assert.Equal(t, uint64(2), written)
	assert.Equal(t, uint64(2), failed)
}

func TestRecorder_HazardRetriedAfterFailure(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	r := New(store, "run-f")
	require.NoError(t, r.Record(snap(1, false)))

	store.err = errors.New("disk full")
	require.Error(t, r.Record(snap(2, true)))

	store.err = nil
	require.NoError(t, r.Record(snap(3, true)))
	require.Len(t, store.hazards, 2)
	assert.True(t, store.hazards[1].FireDetected)
	assert.Equal(t, uint64(3), store.hazards[1].Seq)
}

func TestRecorder_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	r := New(store, "run-d")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, make(chan *status.Snapshot))
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := store.finished["run-d"]
	assert.True(t, ok)
}
