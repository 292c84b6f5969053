package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
)

var _ l2grid.SnapshotStore = (*DB)(nil)

// InsertLockSnapshot stores a lock snapshot and returns its row id.
func (db *DB) InsertLockSnapshot(s *l2grid.LockSnapshot) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil snapshot")
	}
	res, err := db.Exec(`INSERT INTO lock_snapshots (
			run_id, taken_unix_nanos, locked, cols, rows, cell_size,
			grid_blob, obstacle_cells, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.TakenUnixNanos, s.Locked, s.Cols, s.Rows, s.CellSize,
		s.GridBlob, s.ObstacleCells, s.Reason,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.SnapshotID = &id
	return id, nil
}

// LatestLockSnapshot returns the most recent snapshot, or nil if none.
func (db *DB) LatestLockSnapshot() (*l2grid.LockSnapshot, error) {
	row := db.QueryRow(`SELECT snapshot_id, run_id, taken_unix_nanos, locked,
			cols, rows, cell_size, grid_blob, obstacle_cells, reason
		FROM lock_snapshots
		ORDER BY taken_unix_nanos DESC, snapshot_id DESC
		LIMIT 1`)
	s, err := scanLockSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListLockSnapshots returns up to limit snapshots, newest first.
func (db *DB) ListLockSnapshots(limit int) ([]*l2grid.LockSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT snapshot_id, run_id, taken_unix_nanos, locked,
			cols, rows, cell_size, grid_blob, obstacle_cells, reason
		FROM lock_snapshots
		ORDER BY taken_unix_nanos DESC, snapshot_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*l2grid.LockSnapshot
	for rows.Next() {
		s, err := scanLockSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLockSnapshot(r scanner) (*l2grid.LockSnapshot, error) {
	var (
		s  l2grid.LockSnapshot
		id int64
	)
	if err := r.Scan(&id, &s.RunID, &s.TakenUnixNanos, &s.Locked,
		&s.Cols, &s.Rows, &s.CellSize, &s.GridBlob, &s.ObstacleCells, &s.Reason); err != nil {
		return nil, err
	}
	s.SnapshotID = &id
	return &s, nil
}
