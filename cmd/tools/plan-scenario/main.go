// Command plan-scenario replays a recorded scenario offline and prints the
// direction every indicator would show on each cycle. It optionally renders
// the grid, routes and indicators of chosen cycles to PNG.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/banshee-data/exit.guide/internal/config"
	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/pipeline"
	"github.com/banshee-data/exit.guide/internal/plotgrid"
	"github.com/banshee-data/exit.guide/internal/security"
	"github.com/banshee-data/exit.guide/internal/status"
)

// Config holds the tool's command-line options.
type Config struct {
	ScenarioPath string
	ConfigPath   string
	LayoutPath   string
	ToggleAt     string
	OutputDir    string
	PlotCycles   string
	OutputJSON   string
	Verbose      bool
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.ScenarioPath, "scenario", "", "Scenario file or directory (required)")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Guide config JSON (defaults to built-in values)")
	flag.StringVar(&cfg.LayoutPath, "layout", "", "Layout YAML (defaults to the bench layout)")
	flag.StringVar(&cfg.ToggleAt, "toggle-at", "", "Comma-separated cycle numbers at which to press the lock button")
	flag.StringVar(&cfg.OutputDir, "out", ".", "Directory for PNG output")
	flag.StringVar(&cfg.PlotCycles, "plot", "", "Cycles to render as PNG: comma-separated numbers, \"last\" or \"all\"")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Write every snapshot as JSON lines to this file")
	flag.BoolVar(&cfg.Verbose, "v", false, "Enable pipeline diagnostics")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()
	if cfg.ScenarioPath == "" {
		log.Fatal("-scenario is required")
	}
	for _, out := range []string{cfg.OutputDir, cfg.OutputJSON} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out); err != nil {
			log.Fatalf("refusing output path: %v", err)
		}
	}
	if cfg.Verbose {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	}

	guide := config.EmptyGuideConfig()
	if cfg.ConfigPath != "" {
		var err error
		if guide, err = config.LoadGuideConfig(cfg.ConfigPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	layoutPath := cfg.LayoutPath
	if layoutPath == "" {
		layoutPath = guide.GetLayoutPath()
	}
	layout, err := config.LoadLayout(layoutPath)
	if err != nil {
		log.Fatalf("failed to load layout: %v", err)
	}

	toggles, err := parseCycles(cfg.ToggleAt)
	if err != nil {
		log.Fatalf("invalid -toggle-at: %v", err)
	}

	sc, err := l1detect.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		log.Fatalf("failed to load scenario: %v", err)
	}
	src, err := l1detect.NewScenarioSource(sc)
	if err != nil {
		log.Fatalf("failed to open scenario: %v", err)
	}
	defer src.Close()

	snaps, err := pipeline.Replay(context.Background(), pipeline.EngineConfig{
		Width:       guide.GetMapWidth(),
		Height:      guide.GetMapHeight(),
		CellSize:    guide.GetCellSize(),
		FirePadding: guide.GetFirePaddingPx(),
		Lookahead:   guide.GetLookaheadIndex(),
		Points:      layout.Points,
		RunID:       "offline",
	}, l1detect.WithStaticExits(src, layout.Exits), toggles)
	if err != nil {
		log.Fatalf("replay failed after %d cycles: %v", len(snaps), err)
	}

	printTable(os.Stdout, snaps)

	if cfg.OutputJSON != "" {
		if err := writeJSONLines(cfg.OutputJSON, snaps); err != nil {
			log.Fatalf("failed to write JSON: %v", err)
		}
		log.Printf("wrote %d snapshots to %s", len(snaps), cfg.OutputJSON)
	}

	plot, err := selectPlots(cfg.PlotCycles, snaps)
	if err != nil {
		log.Fatalf("invalid -plot: %v", err)
	}
	if len(plot) > 0 {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("failed to create output directory: %v", err)
		}
	}
	prefix := security.SanitizeFilename(strings.TrimSuffix(filepath.Base(cfg.ScenarioPath), filepath.Ext(cfg.ScenarioPath)))
	for _, s := range plot {
		path := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s-cycle-%04d.png", prefix, s.Seq))
		if err := plotgrid.SavePNG(path, s); err != nil {
			log.Fatalf("failed to render cycle %d: %v", s.Seq, err)
		}
		log.Printf("rendered %s", path)
	}
}

// parseCycles turns "3,7,12" into a set of cycle numbers.
func parseCycles(list string) (map[uint64]bool, error) {
	out := make(map[uint64]bool)
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("cycle %q must be a positive integer", f)
		}
		out[n] = true
	}
	return out, nil
}

func selectPlots(list string, snaps []*status.Snapshot) ([]*status.Snapshot, error) {
	switch strings.TrimSpace(list) {
	case "":
		return nil, nil
	case "all":
		return snaps, nil
	case "last":
		if len(snaps) == 0 {
			return nil, nil
		}
		return snaps[len(snaps)-1:], nil
	}
	cycles, err := parseCycles(list)
	if err != nil {
		return nil, err
	}
	var out []*status.Snapshot
	for _, s := range snaps {
		if cycles[s.Seq] {
			out = append(out, s)
		}
	}
	return out, nil
}

// printTable writes one row per cycle: hazard and lock flags, then each
// indicator's direction and path length.
func printTable(w io.Writer, snaps []*status.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	if len(snaps) == 0 {
		fmt.Fprintln(tw, "no cycles")
		return
	}
	header := []string{"CYCLE", "FIRE", "LOCK"}
	for _, p := range snaps[0].Points {
		header = append(header, fmt.Sprintf("P%d(%d,%d)", p.ID, p.X, p.Y))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, s := range snaps {
		row := []string{strconv.FormatUint(s.Seq, 10), yesNo(s.FireDetected), yesNo(s.Locked)}
		for _, p := range s.Points {
			cell := p.Direction.String()
			if p.PathLength >= 0 {
				cell += fmt.Sprintf(" %d->E%d", p.PathLength, p.ExitIndex)
			}
			row = append(row, cell)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func writeJSONLines(path string, snaps []*status.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, s := range snaps {
		if err := enc.Encode(s); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
