package l2grid

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"time"
)

// LockSnapshot matches the lock_snapshots table. A row with Locked false
// records a release, so the latest row always reflects the lock state.
type LockSnapshot struct {
	SnapshotID     *int64 // set by the store after insert
	RunID          string
	TakenUnixNanos int64
	Locked         bool
	Cols           int
	Rows           int
	CellSize       int
	GridBlob       []byte // gob+gzip Layer; nil when Locked is false
	ObstacleCells  int
	Reason         string // 'toggle', 'restore', 'shutdown'
}

// SnapshotStore persists lock snapshots. Implemented by db.DB and
// db.PostgresStore.
type SnapshotStore interface {
	InsertLockSnapshot(s *LockSnapshot) (int64, error)
	// LatestLockSnapshot returns (nil, nil) when nothing has been stored.
	LatestLockSnapshot() (*LockSnapshot, error)
}

// EncodeLayer compresses a layer using gob encoding and gzip compression.
func EncodeLayer(l Layer) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(l); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLayer decompresses and decodes a layer from a gob+gzip blob.
func DecodeLayer(blob []byte) (Layer, error) {
	if len(blob) == 0 {
		return Layer{}, fmt.Errorf("empty layer blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return Layer{}, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var l Layer
	if err := gob.NewDecoder(gz).Decode(&l); err != nil {
		return Layer{}, fmt.Errorf("failed to decode layer: %w", err)
	}
	if l.Cols*l.Rows != len(l.Cells) {
		return Layer{}, fmt.Errorf("corrupt layer: %dx%d with %d cells", l.Cols, l.Rows, len(l.Cells))
	}
	return l, nil
}

// NewLockSnapshot builds the persisted form of a lock state.
func NewLockSnapshot(state LockState, runID, reason string, now time.Time) (*LockSnapshot, error) {
	s := &LockSnapshot{
		RunID:          runID,
		TakenUnixNanos: now.UnixNano(),
		Reason:         reason,
	}
	l, ok := state.(Locked)
	if !ok {
		return s, nil
	}
	blob, err := EncodeLayer(l.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode lock snapshot: %w", err)
	}
	s.Locked = true
	s.Cols = l.Snapshot.Cols
	s.Rows = l.Snapshot.Rows
	s.CellSize = l.Snapshot.CellSize
	s.GridBlob = blob
	s.ObstacleCells = l.Snapshot.ObstacleCount()
	s.TakenUnixNanos = l.Since.UnixNano()
	return s, nil
}

// Persist writes the lock's current state via store.
func (w *WallLock) Persist(store SnapshotStore, runID, reason string) error {
	if w == nil || store == nil {
		return nil
	}
	s, err := NewLockSnapshot(w.state, runID, reason, w.now())
	if err != nil {
		return err
	}
	id, err := store.InsertLockSnapshot(s)
	if err != nil {
		opsf("failed to persist lock snapshot (%s): %v", reason, err)
		return fmt.Errorf("insert lock snapshot: %w", err)
	}
	diagf("persisted lock snapshot id=%d locked=%v reason=%s", id, s.Locked, reason)
	return nil
}

// ErrSnapshotMismatch is returned when a stored snapshot was taken with
// different grid dimensions than the running grid.
var ErrSnapshotMismatch = errors.New("lock snapshot does not match grid")

// RestoreFrom loads the latest stored snapshot into the lock when it was
// locked and fits g. It reports whether the lock was restored.
func (w *WallLock) RestoreFrom(store SnapshotStore, g *Grid) (bool, error) {
	if w == nil || store == nil {
		return false, nil
	}
	s, err := store.LatestLockSnapshot()
	if err != nil {
		return false, fmt.Errorf("load lock snapshot: %w", err)
	}
	if s == nil || !s.Locked {
		return false, nil
	}
	if s.Cols != g.Cols || s.Rows != g.Rows || s.CellSize != g.CellSize {
		return false, fmt.Errorf("%w: stored %dx%d@%d, grid %dx%d@%d", ErrSnapshotMismatch,
			s.Cols, s.Rows, s.CellSize, g.Cols, g.Rows, g.CellSize)
	}
	l, err := DecodeLayer(s.GridBlob)
	if err != nil {
		return false, err
	}
	w.Restore(l, time.Unix(0, s.TakenUnixNanos))
	return true, nil
}
