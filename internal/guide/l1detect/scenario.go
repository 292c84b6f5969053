package l1detect

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of detection frames. It stands in for the
// camera during replay, demos and tests.
type Scenario struct {
	Width  int             `yaml:"width"`
	Height int             `yaml:"height"`
	Loop   bool            `yaml:"loop"`
	Frames []ScenarioFrame `yaml:"frames"`

	baseDir string
}

// ScenarioFrame describes the evidence for one or more consecutive cycles.
// Walls may be given as rectangles, as a PNG mask, or both; they are merged.
type ScenarioFrame struct {
	Repeat   int    `yaml:"repeat"`
	WallMask string `yaml:"wall_mask"`
	Walls    []Rect `yaml:"walls"`
	Fires    []Rect `yaml:"fires"`
	Exits    []Rect `yaml:"exits"`

	// NoWalls sends a nil wall mask, which leaves the grid's wall layer
	// empty while scanning.
	NoWalls bool `yaml:"no_walls"`
}

const maxScenarioBytes = 1 << 20

// LoadScenario reads a YAML scenario file. Relative mask paths resolve
// against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scenario %s: %w", path, err)
	}
	if info.Size() > maxScenarioBytes {
		return nil, fmt.Errorf("scenario %s too large: %d bytes (max %d)", path, info.Size(), maxScenarioBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.baseDir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes a scenario from YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.Width <= 0 || sc.Height <= 0 {
		return nil, fmt.Errorf("scenario dimensions must be positive, got %dx%d", sc.Width, sc.Height)
	}
	if len(sc.Frames) == 0 {
		return nil, fmt.Errorf("scenario has no frames")
	}
	return &sc, nil
}

// ScenarioSource replays a Scenario as a Source. Masks are rendered once
// at construction so Next does no I/O.
type ScenarioSource struct {
	mu       sync.Mutex
	frames   []Detections
	repeats  []int
	loop     bool
	frame    int
	emitted  int
	finished bool
}

// NewScenarioSource renders every frame of sc.
func NewScenarioSource(sc *Scenario) (*ScenarioSource, error) {
	if sc == nil {
		return nil, fmt.Errorf("nil scenario")
	}
	src := &ScenarioSource{loop: sc.Loop}
	for i, f := range sc.Frames {
		det, err := sc.render(f)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		n := f.Repeat
		if n <= 0 {
			n = 1
		}
		src.frames = append(src.frames, det)
		src.repeats = append(src.repeats, n)
	}
	return src, nil
}

func (sc *Scenario) render(f ScenarioFrame) (Detections, error) {
	det := Detections{
		Fires: append([]Rect(nil), f.Fires...),
		Exits: append([]Rect(nil), f.Exits...),
	}
	if f.NoWalls {
		return det, nil
	}
	var mask *Mask
	if f.WallMask != "" {
		p := f.WallMask
		if !filepath.IsAbs(p) {
			p = filepath.Join(sc.baseDir, p)
		}
		fh, err := os.Open(p)
		if err != nil {
			return det, fmt.Errorf("failed to open wall mask: %w", err)
		}
		img, err := png.Decode(fh)
		fh.Close()
		if err != nil {
			return det, fmt.Errorf("failed to decode wall mask %s: %w", p, err)
		}
		mask, err = MaskFromImage(img, 127)
		if err != nil {
			return det, err
		}
	} else {
		mask = NewMask(sc.Width, sc.Height)
	}
	for _, r := range f.Walls {
		mask.FillRect(r)
	}
	det.WallMask = mask
	return det, nil
}

// Next returns the next frame. Frames share their wall mask; callers must
// treat it as read-only.
func (s *ScenarioSource) Next(ctx context.Context) (Detections, error) {
	if err := ctx.Err(); err != nil {
		return Detections{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || len(s.frames) == 0 {
		return Detections{}, io.EOF
	}
	det := s.frames[s.frame]
	s.emitted++
	if s.emitted >= s.repeats[s.frame] {
		s.emitted = 0
		s.frame++
		if s.frame >= len(s.frames) {
			if s.loop {
				s.frame = 0
			} else {
				s.finished = true
			}
		}
	}
	return det, nil
}

// Close marks the source exhausted.
func (s *ScenarioSource) Close() error {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	return nil
}

// StaticSource returns the same detections forever. Useful for tests and
// for deployments where walls and exits are surveyed once.
type StaticSource struct {
	Det Detections
}

func (s StaticSource) Next(ctx context.Context) (Detections, error) {
	if err := ctx.Err(); err != nil {
		return Detections{}, err
	}
	return s.Det, nil
}

func (StaticSource) Close() error { return nil }

// WithStaticExits wraps src so every frame also carries the surveyed exits.
// Surveyed exits come first, so they win planner ties.
func WithStaticExits(src Source, exits []Rect) Source {
	if len(exits) == 0 {
		return src
	}
	return &staticExits{Source: src, exits: append([]Rect(nil), exits...)}
}

type staticExits struct {
	Source
	exits []Rect
}

func (s *staticExits) Next(ctx context.Context) (Detections, error) {
	det, err := s.Source.Next(ctx)
	if err != nil {
		return det, err
	}
	merged := make([]Rect, 0, len(s.exits)+len(det.Exits))
	merged = append(merged, s.exits...)
	det.Exits = append(merged, det.Exits...)
	return det, nil
}
