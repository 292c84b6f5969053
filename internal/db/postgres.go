package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/recorder"
)

var (
	_ l2grid.SnapshotStore = (*PostgresStore)(nil)
	_ recorder.Store       = (*PostgresStore)(nil)
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id              TEXT PRIMARY KEY,
    started_unix_nanos  BIGINT NOT NULL,
    ended_unix_nanos    BIGINT,
    cycles              BIGINT NOT NULL DEFAULT 0,
    version             TEXT NOT NULL DEFAULT '',
    config_json         TEXT NOT NULL DEFAULT '',
    point_count         INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS lock_snapshots (
    snapshot_id         BIGSERIAL PRIMARY KEY,
    run_id              TEXT NOT NULL,
    taken_unix_nanos    BIGINT NOT NULL,
    locked              BOOLEAN NOT NULL,
    cols                INTEGER NOT NULL,
    rows                INTEGER NOT NULL,
    cell_size           INTEGER NOT NULL,
    grid_blob           BYTEA,
    obstacle_cells      INTEGER NOT NULL DEFAULT 0,
    reason              TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS direction_changes (
    change_id           BIGSERIAL PRIMARY KEY,
    run_id              TEXT NOT NULL,
    seq                 BIGINT NOT NULL,
    taken_unix_nanos    BIGINT NOT NULL,
    point_id            INTEGER NOT NULL,
    from_direction      TEXT NOT NULL,
    to_direction        TEXT NOT NULL,
    path_length         INTEGER NOT NULL,
    exit_index          INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS hazard_events (
    event_id            BIGSERIAL PRIMARY KEY,
    run_id              TEXT NOT NULL,
    seq                 BIGINT NOT NULL,
    taken_unix_nanos    BIGINT NOT NULL,
    fire_detected       BOOLEAN NOT NULL,
    fire_count          INTEGER NOT NULL
);
`

// PostgresStore is the shared-database backend used when several sites
// report into one server. It carries the same tables as the SQLite schema.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to dsn and creates the tables if needed.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if _, err := pq.ParseURL(dsn); err != nil && !isKeyValueDSN(dsn) {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// isKeyValueDSN reports whether dsn uses the "host=... dbname=..." form,
// which pq accepts directly without URL parsing.
func isKeyValueDSN(dsn string) bool {
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == '=' {
			return true
		}
		if dsn[i] == ':' {
			return false
		}
	}
	return false
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) InsertLockSnapshot(s *l2grid.LockSnapshot) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil snapshot")
	}
	var id int64
	err := p.db.QueryRow(`INSERT INTO lock_snapshots (
			run_id, taken_unix_nanos, locked, cols, rows, cell_size,
			grid_blob, obstacle_cells, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING snapshot_id`,
		s.RunID, s.TakenUnixNanos, s.Locked, s.Cols, s.Rows, s.CellSize,
		s.GridBlob, s.ObstacleCells, s.Reason,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	s.SnapshotID = &id
	return id, nil
}

func (p *PostgresStore) LatestLockSnapshot() (*l2grid.LockSnapshot, error) {
	row := p.db.QueryRow(`SELECT snapshot_id, run_id, taken_unix_nanos, locked,
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

func (p *PostgresStore) InsertRun(r *recorder.Run) error {
	_, err := p.db.Exec(`INSERT INTO runs (
			run_id, started_unix_nanos, version, config_json, point_count
		) VALUES ($1, $2, $3, $4, $5)`,
		r.RunID, r.StartedUnixNanos, r.Version, r.ConfigJSON, r.PointCount)
	return err
}

func (p *PostgresStore) FinishRun(runID string, endedUnixNanos int64, cycles uint64) error {
	_, err := p.db.Exec(`UPDATE runs SET ended_unix_nanos = $1, cycles = $2 WHERE run_id = $3`,
		endedUnixNanos, int64(cycles), runID)
	return err
}

// InsertDirectionChanges uses COPY for the batch.
func (p *PostgresStore) InsertDirectionChanges(changes []recorder.DirectionChange) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("direction_changes",
		"run_id", "seq", "taken_unix_nanos", "point_id", "from_direction",
		"to_direction", "path_length", "exit_index"))
	if err != nil {
		return err
	}
	for _, c := range changes {
		if _, err := stmt.Exec(c.RunID, int64(c.Seq), c.TakenUnixNanos, c.PointID,
			c.From, c.To, c.PathLength, c.ExitIndex); err != nil {
			stmt.Close()
			return fmt.Errorf("point %d: %w", c.PointID, err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) InsertHazardEvent(e *recorder.HazardEvent) error {
	_, err := p.db.Exec(`INSERT INTO hazard_events (
			run_id, seq, taken_unix_nanos, fire_detected, fire_count
		) VALUES ($1, $2, $3, $4, $5)`,
		e.RunID, int64(e.Seq), e.TakenUnixNanos, e.FireDetected, e.FireCount)
	return err
}
