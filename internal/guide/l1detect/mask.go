package l1detect

import (
	"fmt"
	"image"
	"image/color"
)

// Mask is a binary evidence mask in map-plane pixel space. A non-zero byte
// means "set". The layout matches a single-channel 8-bit image.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates a cleared mask.
func NewMask(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At reports whether pixel (x, y) is set. Out-of-range pixels are unset.
func (m *Mask) At(x, y int) bool {
	if m == nil || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != 0
}

// Set marks pixel (x, y). Out-of-range writes are ignored.
func (m *Mask) Set(x, y int) {
	if m == nil || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = 255
}

// FillRect sets every pixel of r that falls inside the mask.
func (m *Mask) FillRect(r Rect) {
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			m.Set(x, y)
		}
	}
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	if m == nil {
		return nil
	}
	c := &Mask{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// MaskFromImage thresholds an image into a mask: any pixel whose luminance
// is above threshold is set. Used to load hand-drawn wall masks.
func MaskFromImage(img image.Image, threshold uint8) (*Mask, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if g.Y > threshold {
				m.Pix[(y-b.Min.Y)*m.Width+(x-b.Min.X)] = 255
			}
		}
	}
	return m, nil
}
