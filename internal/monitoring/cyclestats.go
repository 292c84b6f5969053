package monitoring

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// CycleStats keeps a rolling window of processing cycle durations. It is
// written by the processing loop and read by the health endpoint.
type CycleStats struct {
	mu      sync.Mutex
	window  []float64 // milliseconds, ring buffer
	next    int
	full    bool
	total   uint64
	skipped uint64
	last    time.Time
}

// NewCycleStats keeps the most recent size samples.
func NewCycleStats(size int) *CycleStats {
	if size < 1 {
		size = 1
	}
	return &CycleStats{window: make([]float64, size)}
}

// Observe records one completed cycle.
func (c *CycleStats) Observe(d time.Duration, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window[c.next] = float64(d) / float64(time.Millisecond)
	c.next++
	if c.next == len(c.window) {
		c.next = 0
		c.full = true
	}
	c.total++
	c.last = at
}

// Skip records a cycle abandoned because the source failed.
func (c *CycleStats) Skip() {
	c.mu.Lock()
	c.skipped++
	c.mu.Unlock()
}

// CycleSummary is a point-in-time view of CycleStats.
type CycleSummary struct {
	Cycles    uint64    `json:"cycles"`
	Skipped   uint64    `json:"skipped"`
	MeanMs    float64   `json:"mean_ms"`
	StdDevMs  float64   `json:"stddev_ms"`
	P95Ms     float64   `json:"p95_ms"`
	MaxMs     float64   `json:"max_ms"`
	LastCycle time.Time `json:"last_cycle"`
}

// Summary computes mean, standard deviation, p95 and max over the window.
func (c *CycleStats) Summary() CycleSummary {
	c.mu.Lock()
	n := c.next
	if c.full {
		n = len(c.window)
	}
	xs := make([]float64, n)
	copy(xs, c.window[:n])
	out := CycleSummary{Cycles: c.total, Skipped: c.skipped, LastCycle: c.last}
	c.mu.Unlock()

	if n == 0 {
		return out
	}
	sort.Float64s(xs)
	out.MeanMs, out.StdDevMs = stat.MeanStdDev(xs, nil)
	out.P95Ms = stat.Quantile(0.95, stat.Empirical, xs, nil)
	out.MaxMs = xs[n-1]
	if n == 1 {
		out.StdDevMs = 0
	}
	return out
}
