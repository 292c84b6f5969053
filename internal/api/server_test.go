package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/httputil"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/status"
)

type fakeLock struct {
	locked  atomic.Bool
	pending atomic.Int64
}

func (f *fakeLock) RequestToggle() int64  { return f.pending.Add(1) }
func (f *fakeLock) PendingToggles() int64 { return f.pending.Load() }
func (f *fakeLock) Locked() bool          { return f.locked.Load() }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T, seq uint64) *status.Snapshot {
	t.Helper()
	g, err := l2grid.NewGrid(100, 60, 20)
	require.NoError(t, err)
	g.ApplyRect(40, 0, 10, 40)
	return &status.Snapshot{
		Seq:          seq,
		RunID:        "run-1",
		TakenAt:      t0,
		FireDetected: true,
		Locked:       true,
		LockedSince:  t0.Add(-time.Minute),
		Points: []status.PointStatus{
			{ID: 0, X: 10, Y: 10, Direction: l4signal.Down, PathLength: 6, InBounds: true,
				Path: []l1detect.Point{{X: 10, Y: 10}, {X: 10, Y: 30}, {X: 10, Y: 50}}},
			{ID: 3, X: 90, Y: 50, Direction: l4signal.Left, PathLength: 2, ExitIndex: 1, InBounds: true},
		},
		Grid:  g.Layer(),
		Exits: []l2grid.Cell{{Col: 0, Row: 2}, {Col: 4, Row: 2}},
		Fires: []l1detect.Rect{{X: 60, Y: 0, W: 40, H: 20}},
	}
}

type harness struct {
	pub   *status.Publisher
	lock  *fakeLock
	srv   *Server
	h     http.Handler
	stats *monitoring.CycleStats
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pub := status.NewPublisher()
	t.Cleanup(pub.Close)
	lock := &fakeLock{}
	stats := monitoring.NewCycleStats(16)
	srv := NewServer(Options{Publisher: pub, Lock: lock, Stats: stats})
	srv.now = func() time.Time { return t0.Add(2 * time.Second) }
	return &harness{pub: pub, lock: lock, srv: srv, h: srv.Handler(), stats: stats}
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus_BeforeFirstCycle(t *testing.T) {
	h := newHarness(t)
	rec := h.get(t, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fire_detected":false,"locked":false,"seq":0,"directions":{}}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus_Latest(t *testing.T) {
	h := newHarness(t)
	h.pub.Publish(testSnapshot(t, 4))
	rec := h.get(t, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fire_detected":true,"locked":true,"seq":4,"directions":{"0":"DOWN","3":"LEFT"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDirection(t *testing.T) {
	h := newHarness(t)

	// No snapshot yet: STOP.
	rec := h.get(t, "/direction/0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":0,"direction":"STOP"}`, rec.Body.String())

	h.pub.Publish(testSnapshot(t, 1))
	tests := []struct {
		path string
		code int
		body string
	}{
		{"/direction/0", http.StatusOK, `{"id":0,"direction":"DOWN"}`},
		{"/direction/3", http.StatusOK, `{"id":3,"direction":"LEFT"}`},
		{"/direction/99", http.StatusOK, `{"id":99,"direction":"STOP"}`},
		{"/direction/-1", http.StatusOK, `{"id":-1,"direction":"STOP"}`},
		{"/direction/abc", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := h.get(t, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestLockEndpoints(t *testing.T) {
	h := newHarness(t)
	h.lock.locked.Store(true)
	h.pub.Publish(testSnapshot(t, 1))

	rec := h.get(t, "/api/lock")
	require.Equal(t, http.StatusOK, rec.Code)
	var l lockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	assert.True(t, l.Locked)
	require.NotNil(t, l.LockedSince)
	assert.True(t, l.LockedSince.Equal(t0.Add(-time.Minute)))

	rec = h.get(t, "/api/lock/toggle")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lock/toggle", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	assert.Equal(t, int64(1), l.PendingToggles)
	assert.Equal(t, int64(1), h.lock.PendingToggles())
}

func TestLockToggle_NoController(t *testing.T) {
	pub := status.NewPublisher()
	srv := NewServer(Options{Publisher: pub})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lock/toggle", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGridAndPoints(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusServiceUnavailable, h.get(t, "/api/grid").Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.get(t, "/api/points").Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.get(t, "/debug/grid.html").Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.get(t, "/debug/grid.png").Code)

	snap := testSnapshot(t, 2)
	h.pub.Publish(snap)

	rec := h.get(t, "/api/grid")
	require.Equal(t, http.StatusOK, rec.Code)
	var g gridResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, 5, g.Cols)
	assert.Equal(t, 3, g.Rows)
	require.Len(t, g.Cells, 15)
	obstacles := 0
	for _, c := range g.Cells {
		obstacles += c
	}
	assert.Equal(t, snap.Grid.ObstacleCount(), obstacles)
	assert.Len(t, g.Exits, 2)

	rec = h.get(t, "/api/points")
	require.Equal(t, http.StatusOK, rec.Code)
	var pts []status.PointStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pts))
	require.Len(t, pts, 2)
	assert.Equal(t, l4signal.Down, pts[0].Direction)
	assert.Len(t, pts[0].Path, 3)
}

func TestDebugViews(t *testing.T) {
	h := newHarness(t)
	h.pub.Publish(testSnapshot(t, 3))

	rec := h.get(t, "/debug/grid.html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Occupancy grid")

	rec = h.get(t, "/debug/grid.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestGridHeatmapData(t *testing.T) {
	snap := testSnapshot(t, 1)
	data, xs, ys := gridHeatmapData(snap)
	assert.Len(t, data, 15)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, xs)
	assert.Equal(t, []string{"2", "1", "0"}, ys)

	byCell := map[[2]int]int{}
	for _, d := range data {
		v := d.Value.([3]interface{})
		byCell[[2]int{v[0].(int), v[1].(int)}] = v[2].(int)
	}
	// Row 0 is drawn at the top (y = rows-1).
	assert.Equal(t, heatPoint, byCell[[2]int{0, 2}])
	assert.Equal(t, heatExit, byCell[[2]int{0, 0}])
	assert.Equal(t, heatObstacle, byCell[[2]int{2, 2}])
	assert.Equal(t, heatPath, byCell[[2]int{0, 1}])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "starting", resp.Status)
	assert.Nil(t, resp.LastCycleAgeS)

	h.stats.Observe(4*time.Millisecond, t0)
	h.pub.Publish(testSnapshot(t, 9))
	rec = h.get(t, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(9), resp.Seq)
	require.NotNil(t, resp.LastCycleAgeS)
	assert.InDelta(t, 2.0, *resp.LastCycleAgeS, 1e-9)
	require.NotNil(t, resp.Cycles)
	assert.Equal(t, uint64(1), resp.Cycles.Cycles)
	assert.Equal(t, uint64(1), resp.Publisher.Published)
}

type fakeAdmin struct{ attached bool }

func (f *fakeAdmin) AttachAdminRoutes(mux *http.ServeMux) {
	f.attached = true
	mux.HandleFunc("/debug/fake", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestAdminRoutesMounted(t *testing.T) {
	admin := &fakeAdmin{}
	srv := NewServer(Options{Publisher: status.NewPublisher(), Admin: admin})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/fake", nil))
	assert.True(t, admin.attached)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	h := newHarness(t)
	h.pub.Publish(testSnapshot(t, 1))
	ts := httptest.NewServer(h.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() wsMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m wsMessage
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	first := read()
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, l4signal.Down, first.Directions["0"])
	require.Len(t, first.Points, 2)

	// The subscription is registered before the initial write, so a
	// publish after the first message is delivered.
	h.pub.Publish(testSnapshot(t, 2))
	next := read()
	assert.Equal(t, uint64(2), next.Seq)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestClient(t *testing.T) {
	h := newHarness(t)
	h.pub.Publish(testSnapshot(t, 5))
	ts := httptest.NewServer(h.h)
	defer ts.Close()

	c := NewClient(ts.URL+"/", nil)
	ctx := context.Background()

	sum, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, sum.FireDetected)
	assert.Equal(t, l4signal.Left, sum.Directions["3"])

	d, err := c.Direction(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, l4signal.Down, d)

	_, pending, err := c.ToggleLock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestClient_Errors(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusServiceUnavailable, `{"error":"warming up"}`).
		AddResponse(http.StatusOK, `not json`).
		AddResponse(http.StatusInternalServerError, ``)
	c := NewClient("http://guide", mock)
	ctx := context.Background()

	_, err := c.Status(ctx)
	assert.ErrorContains(t, err, "warming up")
	_, err = c.Direction(ctx, 1)
	assert.ErrorContains(t, err, "decode")
	_, _, err = c.ToggleLock(ctx)
	assert.ErrorContains(t, err, "unexpected status 500")
	assert.Equal(t, 3, mock.RequestCount())
	assert.Equal(t, "http://guide/status", mock.Requests[0].URL.String())
}
