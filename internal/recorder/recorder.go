// Package recorder persists guidance history: which direction each
// indicator showed, when hazards appeared and cleared, and run metadata.
// Only changes are written, so a steady scene costs nothing.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/status"
)

// Run matches the runs table.
type Run struct {
	RunID            string
	StartedUnixNanos int64
	EndedUnixNanos   *int64
	Cycles           uint64
	Version          string
	ConfigJSON       string
	PointCount       int
}

// DirectionChange matches the direction_changes table. From is empty for
// the first observation of a point in a run.
type DirectionChange struct {
	RunID          string
	Seq            uint64
	TakenUnixNanos int64
	PointID        int
	From           string
	To             string
	PathLength     int
	ExitIndex      int
}

// HazardEvent matches the hazard_events table.
type HazardEvent struct {
	RunID          string
	Seq            uint64
	TakenUnixNanos int64
	FireDetected   bool
	FireCount      int
}

// Store is implemented by db.DB and db.PostgresStore.
type Store interface {
	InsertRun(r *Run) error
	FinishRun(runID string, endedUnixNanos int64, cycles uint64) error
	InsertDirectionChanges(changes []DirectionChange) error
	InsertHazardEvent(e *HazardEvent) error
}

// Recorder diffs consecutive snapshots and writes the differences. It is
// fed from a status.Publisher subscription so a slow store never blocks
// the processing loop; the publisher drops snapshots instead.
type Recorder struct {
	store Store
	runID string

	last     map[int]l4signal.Direction
	lastFire *bool
	lastSeq  uint64

	written atomic.Uint64
	failed  atomic.Uint64
}

// New returns a recorder for one run.
func New(store Store, runID string) *Recorder {
	return &Recorder{
		store: store,
		runID: runID,
		last:  make(map[int]l4signal.Direction),
	}
}

// Begin writes the run row.
func (r *Recorder) Begin(run Run) error {
	run.RunID = r.runID
	if run.StartedUnixNanos == 0 {
		run.StartedUnixNanos = time.Now().UnixNano()
	}
	if err := r.store.InsertRun(&run); err != nil {
		return fmt.Errorf("insert run %s: %w", r.runID, err)
	}
	return nil
}

// Diff returns the direction changes and hazard transition between the
// previous snapshot and s, and advances the recorder's view to s.
func (r *Recorder) Diff(s *status.Snapshot) ([]DirectionChange, *HazardEvent) {
	if s == nil {
		return nil, nil
	}
	at := s.TakenAt.UnixNano()
	var changes []DirectionChange
	for _, p := range s.Points {
		prev, seen := r.last[p.ID]
		if seen && prev == p.Direction {
			continue
		}
		from := ""
		if seen {
			from = prev.String()
		}
		changes = append(changes, DirectionChange{
			RunID:          r.runID,
			Seq:            s.Seq,
			TakenUnixNanos: at,
			PointID:        p.ID,
			From:           from,
			To:             p.Direction.String(),
			PathLength:     p.PathLength,
			ExitIndex:      p.ExitIndex,
		})
		r.last[p.ID] = p.Direction
	}

	var hazard *HazardEvent
	if r.lastFire == nil || *r.lastFire != s.FireDetected {
		fire := s.FireDetected
		r.lastFire = &fire
		hazard = &HazardEvent{
			RunID:          r.runID,
			Seq:            s.Seq,
			TakenUnixNanos: at,
			FireDetected:   fire,
			FireCount:      len(s.Fires),
		}
	}
	r.lastSeq = s.Seq
	return changes, hazard
}

// Record diffs s and writes whatever changed. Direction changes and the
// hazard transition are written independently, so one failing insert does
// not drop the other. A failed direction write is not retried; a failed
// hazard write is, because the hazard view only advances once it is stored.
func (r *Recorder) Record(s *status.Snapshot) error {
	prevFire := r.lastFire
	changes, hazard := r.Diff(s)
	var errs []error
	if len(changes) > 0 {
		if err := r.store.InsertDirectionChanges(changes); err != nil {
			r.failed.Add(1)
			errs = append(errs, fmt.Errorf("insert %d direction changes: %w", len(changes), err))
		} else {
			r.written.Add(uint64(len(changes)))
		}
	}
	if hazard != nil {
		if err := r.store.InsertHazardEvent(hazard); err != nil {
			r.failed.Add(1)
			r.lastFire = prevFire
			errs = append(errs, fmt.Errorf("insert hazard event: %w", err))
		} else {
			r.written.Add(1)
		}
	}
	return errors.Join(errs...)
}

// Run records snapshots from updates until ctx is cancelled or updates is
// closed, then closes the run row.
func (r *Recorder) Run(ctx context.Context, updates <-chan *status.Snapshot) error {
	defer r.finish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			if err := r.Record(s); err != nil {
				monitoring.Logf("[recorder] %v", err)
			}
		}
	}
}

func (r *Recorder) finish() {
	if err := r.store.FinishRun(r.runID, time.Now().UnixNano(), r.lastSeq); err != nil {
		monitoring.Logf("[recorder] finish run %s: %v", r.runID, err)
	}
}

// Stats reports rows written and failed writes.
func (r *Recorder) Stats() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}
