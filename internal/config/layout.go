package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
)

// Layout describes a deployment's fixed geometry: where the indicators
// are mounted and which exits are surveyed rather than detected.
type Layout struct {
	Name   string                   `yaml:"name"`
	Points []l1detect.GuidancePoint `yaml:"points"`
	Exits  []l1detect.Rect          `yaml:"exits"`
}

// DefaultLayout is the four-indicator, three-exit bench rig.
func DefaultLayout() *Layout {
	return &Layout{
		Name: "bench",
		Points: []l1detect.GuidancePoint{
			{ID: 0, X: 548, Y: 55},
			{ID: 1, X: 288, Y: 360},
			{ID: 2, X: 286, Y: 193},
			{ID: 3, X: 29, Y: 195},
		},
		Exits: []l1detect.Rect{
			{X: 28, Y: 366, W: 20, H: 20},
			{X: 560, Y: 361, W: 20, H: 20},
			{X: 290, Y: 19, W: 20, H: 20},
		},
	}
}

// LoadLayout reads a YAML layout file. An empty path returns DefaultLayout.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return DefaultLayout(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse layout %s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout %s: %w", path, err)
	}
	return &l, nil
}

// Validate rejects duplicate indicator ids and degenerate exit rectangles.
// Points off the map are allowed; they are reported as STOP.
func (l *Layout) Validate() error {
	seen := make(map[int]bool, len(l.Points))
	for _, p := range l.Points {
		if seen[p.ID] {
			return fmt.Errorf("duplicate guidance point id %d", p.ID)
		}
		seen[p.ID] = true
	}
	for i, r := range l.Exits {
		if r.W < 0 || r.H < 0 {
			return fmt.Errorf("exit %d has negative size %dx%d", i, r.W, r.H)
		}
	}
	return nil
}

// Marshal renders the layout as YAML.
func (l *Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}
