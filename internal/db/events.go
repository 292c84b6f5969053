package db

import (
	"fmt"

	"github.com/banshee-data/exit.guide/internal/recorder"
)

var _ recorder.Store = (*DB)(nil)

func (db *DB) InsertRun(r *recorder.Run) error {
	_, err := db.Exec(`INSERT INTO runs (
			run_id, started_unix_nanos, version, config_json, point_count
		) VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.StartedUnixNanos, r.Version, r.ConfigJSON, r.PointCount)
	return err
}

func (db *DB) FinishRun(runID string, endedUnixNanos int64, cycles uint64) error {
	res, err := db.Exec(`UPDATE runs SET ended_unix_nanos = ?, cycles = ? WHERE run_id = ?`,
		endedUnixNanos, int64(cycles), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// InsertDirectionChanges writes a batch of changes in one transaction.
func (db *DB) InsertDirectionChanges(changes []recorder.DirectionChange) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO direction_changes (
			run_id, seq, taken_unix_nanos, point_id, from_direction,
			to_direction, path_length, exit_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range changes {
		if _, err := stmt.Exec(c.RunID, int64(c.Seq), c.TakenUnixNanos, c.PointID,
			c.From, c.To, c.PathLength, c.ExitIndex); err != nil {
			return fmt.Errorf("point %d: %w", c.PointID, err)
		}
	}
	return tx.Commit()
}

func (db *DB) InsertHazardEvent(e *recorder.HazardEvent) error {
	_, err := db.Exec(`INSERT INTO hazard_events (
			run_id, seq, taken_unix_nanos, fire_detected, fire_count
		) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, int64(e.Seq), e.TakenUnixNanos, e.FireDetected, e.FireCount)
	return err
}

// Runs returns up to limit runs, newest first.
func (db *DB) Runs(limit int) ([]recorder.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT run_id, started_unix_nanos, ended_unix_nanos,
			cycles, version, config_json, point_count
		FROM runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recorder.Run
	for rows.Next() {
		var (
			r      recorder.Run
			cycles int64
		)
		if err := rows.Scan(&r.RunID, &r.StartedUnixNanos, &r.EndedUnixNanos,
			&cycles, &r.Version, &r.ConfigJSON, &r.PointCount); err != nil {
			return nil, err
		}
		r.Cycles = uint64(cycles)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DirectionHistory returns the changes recorded for one point in a run,
// oldest first.
func (db *DB) DirectionHistory(runID string, pointID int) ([]recorder.DirectionChange, error) {
	rows, err := db.Query(`SELECT run_id, seq, taken_unix_nanos, point_id,
			from_direction, to_direction, path_length, exit_index
		FROM direction_changes
		WHERE run_id = ? AND point_id = ?
		ORDER BY seq ASC, change_id ASC`, runID, pointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recorder.DirectionChange
	for rows.Next() {
		var (
			c   recorder.DirectionChange
			seq int64
		)
		if err := rows.Scan(&c.RunID, &seq, &c.TakenUnixNanos, &c.PointID,
			&c.From, &c.To, &c.PathLength, &c.ExitIndex); err != nil {
			return nil, err
		}
		c.Seq = uint64(seq)
		out = append(out, c)
	}
	return out, rows.Err()
}

// HazardEvents returns the hazard transitions of a run, oldest first.
func (db *DB) HazardEvents(runID string) ([]recorder.HazardEvent, error) {
	rows, err := db.Query(`SELECT run_id, seq, taken_unix_nanos, fire_detected, fire_count
		FROM hazard_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recorder.HazardEvent
	for rows.Next() {
		var (
			e   recorder.HazardEvent
			seq int64
		)
		if err := rows.Scan(&e.RunID, &seq, &e.TakenUnixNanos, &e.FireDetected, &e.FireCount); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		out = append(out, e)
	}
	return out, rows.Err()
}
