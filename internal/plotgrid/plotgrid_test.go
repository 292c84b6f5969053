package plotgrid

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/exit.guide/internal/guide/l1detect"
	"github.com/banshee-data/exit.guide/internal/guide/l2grid"
	"github.com/banshee-data/exit.guide/internal/status"
)

func testSnapshot(t *testing.T) *status.Snapshot {
	t.Helper()
	g, err := l2grid.NewGrid(100, 100, 20)
	require.NoError(t, err)
	g.ApplyRect(40, 0, 10, 60)
	return &status.Snapshot{
		Seq:          7,
		FireDetected: true,
		Grid:         g.Layer(),
		Exits:        []l2grid.Cell{{Col: 4, Row: 4}},
		Fires:        []l1detect.Rect{{X: 0, Y: 80, W: 20, H: 20}},
		Points: []status.PointStatus{{
			ID: 0, X: 10, Y: 10,
			Path: []l1detect.Point{{X: 10, Y: 10}, {X: 10, Y: 30}, {X: 30, Y: 90}, {X: 90, Y: 90}},
		}},
	}
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, testSnapshot(t), DefaultWidth/2, DefaultHeight/2))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.png")
	require.NoError(t, SavePNG(path, testSnapshot(t)))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestBuild_RejectsEmpty(t *testing.T) {
	_, err := Build(nil)
	assert.Error(t, err)
	_, err = Build(&status.Snapshot{})
	assert.Error(t, err)
}
