package serialmux

import (
	"context"
	"fmt"

	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/status"
)

// SignalWriter drives the LED controller from published snapshots. It
// only sends what changed since the last snapshot, so a steady scene
// produces no serial traffic.
type SignalWriter struct {
	mux SerialMuxInterface

	dots   map[int]l4signal.Direction
	hazard *bool
	locked *bool
}

func NewSignalWriter(mux SerialMuxInterface) *SignalWriter {
	return &SignalWriter{mux: mux, dots: make(map[int]l4signal.Direction)}
}

// Commands returns the commands needed to bring the controller from the
// last applied snapshot to s, and records s as applied.
func (w *SignalWriter) Commands(s *status.Snapshot) []string {
	if s == nil {
		return nil
	}
	var cmds []string
	if w.hazard == nil || *w.hazard != s.FireDetected {
		v := s.FireDetected
		w.hazard = &v
		cmds = append(cmds, HazardCommand(v))
	}
	if w.locked == nil || *w.locked != s.Locked {
		v := s.Locked
		w.locked = &v
		cmds = append(cmds, LockCommand(v))
	}
	for _, p := range s.Points {
		if prev, ok := w.dots[p.ID]; ok && prev == p.Direction {
			continue
		}
		w.dots[p.ID] = p.Direction
		cmds = append(cmds, DotCommand(p.ID, p.Direction))
	}
	return cmds
}

// Apply sends the commands for s. On a write failure the remembered state
// is cleared so the next snapshot resends everything.
func (w *SignalWriter) Apply(s *status.Snapshot) error {
	for _, cmd := range w.Commands(s) {
		if err := w.mux.SendCommand(cmd); err != nil {
			w.reset()
			return fmt.Errorf("send %q: %w", cmd, err)
		}
	}
	return nil
}

func (w *SignalWriter) reset() {
	clear(w.dots)
	w.hazard = nil
	w.locked = nil
}

// Run applies snapshots from updates until ctx ends or updates closes.
// On exit every indicator is set to STOP.
func (w *SignalWriter) Run(ctx context.Context, updates <-chan *status.Snapshot) error {
	defer w.allStop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			if err := w.Apply(s); err != nil {
				monitoring.Logf("[serialmux] %v", err)
			}
		}
	}
}

func (w *SignalWriter) allStop() {
	for id, d := range w.dots {
		if d == l4signal.Stop {
			continue
		}
		if err := w.mux.SendCommand(DotCommand(id, l4signal.Stop)); err != nil {
			monitoring.Logf("[serialmux] stop indicator %d: %v", id, err)
			return
		}
		w.dots[id] = l4signal.Stop
	}
}

// Toggler receives lock button presses.
type Toggler interface {
	RequestToggle() int64
}

// ListenButtons subscribes to controller lines and turns BTN LOCK into
// toggle requests until ctx ends or the mux closes.
func ListenButtons(ctx context.Context, mux SerialMuxInterface, t Toggler) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch ClassifyLine(line) {
			case EventButtonLock:
				n := t.RequestToggle()
				monitoring.Logf("[serialmux] lock button pressed (%d pending)", n)
			case EventPing:
			default:
				monitoring.Logf("[serialmux] unrecognised controller line %q", line)
			}
		}
	}
}
