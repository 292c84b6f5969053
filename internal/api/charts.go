package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/httputil"
	"github.com/banshee-data/exit.guide/internal/plotgrid"
	"github.com/banshee-data/exit.guide/internal/status"
)

// echartsAssetsHost serves the echarts bundle; the wall controller has no
// internet access on some sites, so it is overridable at build time.
var echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Heatmap cell classes, drawn in this order of precedence.
const (
	heatFree = iota
	heatObstacle
	heatPath
	heatExit
	heatPoint
)

// gridHeatmapData flattens a snapshot into heatmap triples. Rows are
// emitted top row last so the chart reads the same way up as the frame.
func gridHeatmapData(snap *status.Snapshot) ([]opts.HeatMapData, []string, []string) {
	g := snap.Grid
	class := make([]int, len(g.Cells))
	for i, c := range g.Cells {
		if c == l2grid.Obstacle {
			class[i] = heatObstacle
		}
	}
	mark := func(col, row, v int) {
		if col < 0 || row < 0 || col >= g.Cols || row >= g.Rows {
			return
		}
		if i := row*g.Cols + col; class[i] < v {
			class[i] = v
		}
	}
	for _, p := range snap.Points {
		for _, q := range p.Path {
			mark(q.X/g.CellSize, q.Y/g.CellSize, heatPath)
		}
		if p.InBounds {
			mark(p.X/g.CellSize, p.Y/g.CellSize, heatPoint)
		}
	}
	for _, e := range snap.Exits {
		mark(e.Col, e.Row, heatExit)
	}

	data := make([]opts.HeatMapData, 0, len(class))
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, g.Rows - 1 - r, class[r*g.Cols+c]}})
		}
	}
	xLabels := make([]string, g.Cols)
	for c := range xLabels {
		xLabels[c] = strconv.Itoa(c)
	}
	yLabels := make([]string, g.Rows)
	for r := range yLabels {
		yLabels[r] = strconv.Itoa(g.Rows - 1 - r)
	}
	return data, xLabels, yLabels
}

// handleGridChart renders the latest grid as an interactive heatmap.
func (s *Server) handleGridChart(w http.ResponseWriter, r *http.Request) {
	snap := s.latestOrUnavailable(w)
	if snap == nil {
		return
	}
	data, xLabels, yLabels := gridHeatmapData(snap)

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Exit guide grid", Theme: "dark", Width: "1000px", Height: "760px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Occupancy grid",
			Subtitle: fmt.Sprintf("seq=%d locked=%t fire=%t %dx%d@%dpx", snap.Seq, snap.Locked, snap.FireDetected, snap.Grid.Cols, snap.Grid.Rows, snap.Grid.CellSize),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "col", Data: xLabels}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "row", Data: yLabels}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(false),
			Min:        heatFree,
			Max:        heatPoint,
			InRange:    &opts.VisualMapInRange{Color: []string{"#1b1b1b", "#7a7a7a", "#3e8ede", "#35b779", "#fde725"}},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries("cells", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleGridPNG renders the latest grid as a static PNG.
func (s *Server) handleGridPNG(w http.ResponseWriter, r *http.Request) {
	snap := s.latestOrUnavailable(w)
	if snap == nil {
		return
	}
	var buf bytes.Buffer
	if err := plotgrid.WritePNG(&buf, snap, plotgrid.DefaultWidth, plotgrid.DefaultHeight); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render grid: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
