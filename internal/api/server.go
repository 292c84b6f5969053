// Package api serves guidance state over HTTP for wall displays, the
// operator console and debugging.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
	"github.com/banshee-data/exit.guide/internal/httputil"
	"github.com/banshee-data/exit.guide/internal/monitoring"
	"github.com/banshee-data/exit.guide/internal/status"
	"github.com/banshee-data/exit.guide/internal/version"
)

// LockController is the part of the pipeline the lock endpoints drive.
type LockController interface {
	RequestToggle() int64
	PendingToggles() int64
	Locked() bool
}

// AdminRoutes mounts debug handlers, for example db.DB's tailsql console.
type AdminRoutes interface {
	AttachAdminRoutes(mux *http.ServeMux)
}

type Server struct {
	pub      *status.Publisher
	lock     LockController
	stats    *monitoring.CycleStats
	admin    AdminRoutes
	wsBuffer int
	upgrader websocket.Upgrader
	now      func() time.Time
}

// Options configures NewServer. Publisher is required; the rest may be nil.
type Options struct {
	Publisher *status.Publisher
	Lock      LockController
	Stats     *monitoring.CycleStats
	Admin     AdminRoutes

	// WSBuffer is the per-connection snapshot backlog before drops.
	WSBuffer int
}

func NewServer(opts Options) *Server {
	if opts.WSBuffer <= 0 {
		opts.WSBuffer = 8
	}
	return &Server{
		pub:      opts.Publisher,
		lock:     opts.Lock,
		stats:    opts.Stats,
		admin:    opts.Admin,
		wsBuffer: opts.WSBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		now: time.Now,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/direction/{id}", s.handleDirection)
	mux.HandleFunc("/api/lock", s.handleLock)
	mux.HandleFunc("/api/lock/toggle", s.handleLockToggle)
	mux.HandleFunc("/api/grid", s.handleGrid)
	mux.HandleFunc("/api/points", s.handlePoints)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/debug/grid.html", s.handleGridChart)
	mux.HandleFunc("/debug/grid.png", s.handleGridPNG)
	if s.admin != nil {
		s.admin.AttachAdminRoutes(mux)
	}
	return mux
}

// Handler wraps ServeMux in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	return httputil.LoggingMiddleware(httputil.CORS(httputil.NoCache(s.ServeMux())))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.pub.Latest().Summarize())
}

type directionResponse struct {
	ID        int                `json:"id"`
	Direction l4signal.Direction `json:"direction"`
}

// handleDirection answers STOP for ids it does not know, including before
// the first cycle, so a display never shows a stale arrow.
func (s *Server) handleDirection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid id %q", r.PathValue("id")))
		return
	}
	d, _ := s.pub.Latest().Direction(id)
	httputil.WriteJSONOK(w, directionResponse{ID: id, Direction: d})
}

type lockResponse struct {
	Locked         bool       `json:"locked"`
	LockedSince    *time.Time `json:"locked_since,omitempty"`
	PendingToggles int64      `json:"pending_toggles"`
}

func (s *Server) lockState() lockResponse {
	var resp lockResponse
	if s.lock != nil {
		resp.Locked = s.lock.Locked()
		resp.PendingToggles = s.lock.PendingToggles()
	}
	if snap := s.pub.Latest(); snap != nil && snap.Locked && !snap.LockedSince.IsZero() {
		since := snap.LockedSince
		resp.LockedSince = &since
	}
	return resp
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.lockState())
}

// handleLockToggle queues a toggle; it takes effect at the end of the next
// processing cycle.
func (s *Server) handleLockToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.lock == nil {
		httputil.Unavailable(w, "lock control not available")
		return
	}
	s.lock.RequestToggle()
	httputil.WriteJSON(w, http.StatusAccepted, s.lockState())
}

type gridResponse struct {
	Seq      uint64          `json:"seq"`
	Cols     int             `json:"cols"`
	Rows     int             `json:"rows"`
	CellSize int             `json:"cell_size"`
	Cells    []int           `json:"cells"` // 0 free, 1 obstacle; row-major
	Exits    []l2grid.Cell   `json:"exits"`
	Fires    []l1detect.Rect `json:"fires"`
}

func (s *Server) latestOrUnavailable(w http.ResponseWriter) *status.Snapshot {
	snap := s.pub.Latest()
	if snap == nil {
		httputil.Unavailable(w, "no guidance cycle has completed yet")
	}
	return snap
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.latestOrUnavailable(w)
	if snap == nil {
		return
	}
	cells := make([]int, len(snap.Grid.Cells))
	for i, c := range snap.Grid.Cells {
		cells[i] = int(c)
	}
	httputil.WriteJSONOK(w, gridResponse{
		Seq:      snap.Seq,
		Cols:     snap.Grid.Cols,
		Rows:     snap.Grid.Rows,
		CellSize: snap.Grid.CellSize,
		Cells:    cells,
		Exits:    snap.Exits,
		Fires:    snap.Fires,
	})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.latestOrUnavailable(w)
	if snap == nil {
		return
	}
	httputil.WriteJSONOK(w, snap.Points)
}

type healthResponse struct {
	Status        string                   `json:"status"`
	Version       version.Info             `json:"version"`
	Seq           uint64                   `json:"seq"`
	LastCycleAgeS *float64                 `json:"last_cycle_age_s,omitempty"`
	Cycles        *monitoring.CycleSummary `json:"cycles,omitempty"`
	Publisher     status.Stats             `json:"publisher"`
}

// handleHealth reports "starting" until the first snapshot exists.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   version.Current(),
		Publisher: s.pub.Stats(),
	}
	snap := s.pub.Latest()
	if snap == nil {
		resp.Status = "starting"
	} else {
		resp.Seq = snap.Seq
		age := s.now().Sub(snap.TakenAt).Seconds()
		resp.LastCycleAgeS = &age
	}
	if s.stats != nil {
		sum := s.stats.Summary()
		resp.Cycles = &sum
	}
	httputil.WriteJSONOK(w, resp)
}
