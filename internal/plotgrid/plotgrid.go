// Package plotgrid renders a status snapshot as a static image: obstacle
// cells, fire zones, exits, guidance points and their routes.
package plotgrid

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/status"
)

var (
	wallColor  = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	fireColor  = color.RGBA{R: 220, G: 40, B: 20, A: 255}
	exitColor  = color.RGBA{R: 20, G: 160, B: 60, A: 255}
	pointColor = color.RGBA{R: 30, G: 90, B: 220, A: 255}
	pathColor  = color.RGBA{R: 30, G: 90, B: 220, A: 160}
)

// DefaultWidth and DefaultHeight size the rendered image.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

// Build returns the plot for s. Image rows grow downwards, so y values are
// flipped to keep the picture the same way up as the camera frame.
func Build(s *status.Snapshot) (*plot.Plot, error) {
	if s == nil || s.Grid.Empty() {
		return nil, fmt.Errorf("no grid to plot")
	}
	g := s.Grid
	height := float64(g.Rows * g.CellSize)
	flip := func(y float64) float64 { return height - y }

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Occupancy seq=%d locked=%t fire=%t", s.Seq, s.Locked, s.FireDetected)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px, flipped)"
	p.X.Min, p.X.Max = 0, float64(g.Cols*g.CellSize)
	p.Y.Min, p.Y.Max = 0, height

	half := float64(g.CellSize) / 2
	walls := make(plotter.XYs, 0, g.ObstacleCount())
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if g.At(c, r) != l2grid.Obstacle {
				continue
			}
			x := float64(c*g.CellSize) + half
			walls = append(walls, plotter.XY{X: x, Y: flip(float64(r*g.CellSize) + half)})
		}
	}
	if len(walls) > 0 {
		sc, err := plotter.NewScatter(walls)
		if err != nil {
			return nil, fmt.Errorf("obstacles: %w", err)
		}
		sc.GlyphStyle.Shape = draw.BoxGlyph{}
		sc.GlyphStyle.Color = wallColor
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("obstacle", sc)
	}

	for i, f := range s.Fires {
		outline := plotter.XYs{
			{X: float64(f.X), Y: flip(float64(f.Y))},
			{X: float64(f.X + f.W), Y: flip(float64(f.Y))},
			{X: float64(f.X + f.W), Y: flip(float64(f.Y + f.H))},
			{X: float64(f.X), Y: flip(float64(f.Y + f.H))},
			{X: float64(f.X), Y: flip(float64(f.Y))},
		}
		l, err := plotter.NewLine(outline)
		if err != nil {
			return nil, fmt.Errorf("fire %d: %w", i, err)
		}
		l.Color = fireColor
		l.Width = vg.Points(1.5)
		p.Add(l)
		if i == 0 {
			p.Legend.Add("fire", l)
		}
	}

	if len(s.Exits) > 0 {
		exits := make(plotter.XYs, len(s.Exits))
		for i, e := range s.Exits {
			exits[i] = plotter.XY{
				X: float64(e.Col*g.CellSize) + half,
				Y: flip(float64(e.Row*g.CellSize) + half),
			}
		}
		sc, err := plotter.NewScatter(exits)
		if err != nil {
			return nil, fmt.Errorf("exits: %w", err)
		}
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		sc.GlyphStyle.Color = exitColor
		sc.GlyphStyle.Radius = vg.Points(5)
		p.Add(sc)
		p.Legend.Add("exit", sc)
	}

	if len(s.Points) > 0 {
		pts := make(plotter.XYs, len(s.Points))
		for i, pt := range s.Points {
			pts[i] = plotter.XY{X: float64(pt.X), Y: flip(float64(pt.Y))}
			if len(pt.Path) < 2 {
				continue
			}
			route := make(plotter.XYs, len(pt.Path))
			for j, q := range pt.Path {
				route[j] = plotter.XY{X: float64(q.X), Y: flip(float64(q.Y))}
			}
			l, err := plotter.NewLine(route)
			if err != nil {
				return nil, fmt.Errorf("route %d: %w", pt.ID, err)
			}
			l.Color = pathColor
			l.Width = vg.Points(1)
			l.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
			p.Add(l)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("points: %w", err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Color = pointColor
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("guidance point", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders s as a PNG of the given size.
func WritePNG(w io.Writer, s *status.Snapshot, width, height vg.Length) error {
	p, err := Build(s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders s to a file.
func SavePNG(path string, s *status.Snapshot) error {
	p, err := Build(s)
	if err != nil {
		return err
	}
	return p.Save(DefaultWidth, DefaultHeight, path)
}
