package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/recorder"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	for _, table := range []string{"runs", "lock_snapshots", "direction_changes", "hazard_events"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}

	// Reopening is a no-op migration.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='runs'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='runs'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenDB_Pragmas(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestLockSnapshots_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	latest, err := db.LatestLockSnapshot()
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store returns nil")

	g, err := l2grid.NewGrid(60, 40, 10)
	require.NoError(t, err)
	g.ApplyRect(100, 100, 40, 20)
	lock := l2grid.NewWallLock(func() time.Time { return time.Unix(100, 0) })
	lock.Toggle(g.Layer())
	require.NoError(t, lock.Persist(db, "run-1", "toggle"))

	lock.Toggle(g.Layer())
	require.NoError(t, lock.Persist(db, "run-1", "toggle"))

	snaps, err := db.ListLockSnapshots(10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	// Release is the newest row, so restoring leaves the lock scanning.
	restored := l2grid.NewWallLock(nil)
	ok, err := restored.RestoreFrom(db, g)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, restored.State().IsLocked())
}

func TestLockSnapshots_RestoreLocked(t *testing.T) {
	db := newTestDB(t)
	g, err := l2grid.NewGrid(60, 40, 10)
	require.NoError(t, err)
	g.ApplyRect(0, 0, 30, 30)

	lock := l2grid.NewWallLock(func() time.Time { return time.Unix(200, 0) })
	lock.Toggle(g.Layer())
	require.NoError(t, lock.Persist(db, "run-2", "shutdown"))

	restored := l2grid.NewWallLock(nil)
	ok, err := restored.RestoreFrom(db, g)
	require.NoError(t, err)
	require.True(t, ok)
	st, isLocked := restored.State().(l2grid.Locked)
	require.True(t, isLocked)
	assert.True(t, st.Snapshot.Equal(g.Layer()))
	assert.Equal(t, time.Unix(200, 0).UnixNano(), st.Since.UnixNano())
}

func TestEvents_RoundTrip(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.InsertRun(&recorder.Run{RunID: "r1", StartedUnixNanos: 10, Version: "v", PointCount: 4}))
	require.NoError(t, db.InsertDirectionChanges([]recorder.DirectionChange{
		{RunID: "r1", Seq: 1, TakenUnixNanos: 11, PointID: 0, To: "UP", PathLength: 5},
		{RunID: "r1", Seq: 1, TakenUnixNanos: 11, PointID: 1, To: "LEFT", PathLength: 9, ExitIndex: 2},
		{RunID: "r1", Seq: 4, TakenUnixNanos: 14, PointID: 0, From: "UP", To: "STOP", PathLength: 0, ExitIndex: -1},
	}))
	require.NoError(t, db.InsertDirectionChanges(nil))
	require.NoError(t, db.InsertHazardEvent(&recorder.HazardEvent{RunID: "r1", Seq: 1, TakenUnixNanos: 11}))
	require.NoError(t, db.InsertHazardEvent(&recorder.HazardEvent{RunID: "r1", Seq: 4, TakenUnixNanos: 14, FireDetected: true, FireCount: 2}))
	require.NoError(t, db.FinishRun("r1", 20, 4))
	assert.Error(t, db.FinishRun("missing", 20, 4))

	runs, err := db.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].EndedUnixNanos)
	assert.Equal(t, int64(20), *runs[0].EndedUnixNanos)
	assert.Equal(t, uint64(4), runs[0].Cycles)

	hist, err := db.DirectionHistory("r1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "UP", hist[0].To)
	assert.Equal(t, "STOP", hist[1].To)
	assert.Equal(t, -1, hist[1].ExitIndex)

	events, err := db.HazardEvents("r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].FireDetected)
	assert.Equal(t, 2, events[1].FireCount)
}

func TestBackup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.InsertRun(&recorder.Run{RunID: "r1", StartedUnixNanos: 1}))

	dst := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, db.Backup(dst))
	assert.Error(t, db.Backup(dst), "refuses to overwrite")

	copyDB, err := OpenDB(dst)
	require.NoError(t, err)
	defer copyDB.Close()
	runs, err := copyDB.Runs(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))

	matches, _ := filepath.Glob(filepath.Join(os.TempDir(), "exitguide-backup-*.db"))
	assert.Empty(t, matches, "temporary backup removed")
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "current version: 0")
	assert.Contains(t, out.String(), "pending")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "applied")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.NotContains(t, out.String(), "pending")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
	require.NoError(t, RunMigrateCommand([]string{"force", "1"}, path, &out))
}

func TestIsKeyValueDSN(t *testing.T) {
	assert.True(t, isKeyValueDSN("host=localhost dbname=exits"))
	assert.False(t, isKeyValueDSN("postgres://u@h/db"))
	assert.False(t, isKeyValueDSN(""))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("EXITGUIDE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXITGUIDE_TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	runID := "pg-" + time.Now().Format("150405.000000")
	require.NoError(t, store.InsertRun(&recorder.Run{RunID: runID, StartedUnixNanos: 1}))
	require.NoError(t, store.InsertDirectionChanges([]recorder.DirectionChange{{RunID: runID, Seq: 1, To: "UP"}}))
	require.NoError(t, store.InsertHazardEvent(&recorder.HazardEvent{RunID: runID, Seq: 1}))
	require.NoError(t, store.FinishRun(runID, 2, 1))

	id, err := store.InsertLockSnapshot(&l2grid.LockSnapshot{RunID: runID, TakenUnixNanos: time.Now().UnixNano(), Cols: 1, Rows: 1, CellSize: 1})
	require.NoError(t, err)
	latest, err := store.LatestLockSnapshot()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, *latest.SnapshotID)
}
