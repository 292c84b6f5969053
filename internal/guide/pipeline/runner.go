package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/status"
	"github.com/banshee-data/exit.guide/internal/timeutil"
)

// DefaultMaxSourceErrors bounds consecutive source failures before Run gives
// up.
const DefaultMaxSourceErrors = 50

// Runner drives an Engine from a Source, one cycle per frame, and publishes
// every snapshot. Cycles are strictly sequential; a slow cycle delays the
// next one.
type Runner struct {
	Engine    *Engine
	Source    l1detect.Source
	Publisher *status.Publisher
	// Clock paces cycles. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Interval is the minimum spacing between cycles. Zero runs as fast as
	// the source delivers frames.
	Interval time.Duration
	// Stats, when set, records cycle timing.
	Stats *monitoring.CycleStats
	// MaxSourceErrors ends the run after this many consecutive failures.
	MaxSourceErrors int
}

// Run loops until ctx is cancelled or the source reports io.EOF. Other
// source errors skip the cycle; they never abort the loop unless they
// persist past MaxSourceErrors.
func (r *Runner) Run(ctx context.Context) error {
	if r.Engine == nil || r.Source == nil || r.Publisher == nil {
		return fmt.Errorf("runner requires an engine, a source and a publisher")
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	maxErrs := r.MaxSourceErrors
	if maxErrs <= 0 {
		maxErrs = DefaultMaxSourceErrors
	}

	var tick <-chan time.Time
	if r.Interval > 0 {
		t := clock.NewTicker(r.Interval)
		defer t.Stop()
		tick = t.C()
	}

	diagf("run %s started (interval=%s)", r.Engine.RunID(), r.Interval)
	consecutive := 0
	for {
		det, err := r.Source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			diagf("run %s: source exhausted", r.Engine.RunID())
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			consecutive++
			if r.Stats != nil {
				r.Stats.Skip()
			}
			opsf("source error (%d consecutive): %v", consecutive, err)
			if consecutive >= maxErrs {
				return fmt.Errorf("source failed %d times in a row: %w", consecutive, err)
			}
		default:
			consecutive = 0
			snap := r.Engine.Step(det)
			r.Publisher.Publish(snap)
			if r.Stats != nil {
				r.Stats.Observe(snap.CycleTime, snap.TakenAt)
			}
		}

		if tick == nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}

// Replay runs every frame of src through a new engine without pacing and
// returns the snapshots. toggleAt lists the cycle numbers at which a lock
// toggle is requested before the cycle runs. Used by offline tools.
func Replay(ctx context.Context, cfg EngineConfig, src l1detect.Source, toggleAt map[uint64]bool) ([]*status.Snapshot, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	var out []*status.Snapshot
	for {
		det, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if toggleAt[e.seq+1] {
			e.RequestToggle()
		}
		out = append(out, e.Step(det))
	}
}
