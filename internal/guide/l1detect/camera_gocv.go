//go:build gocv

package l1detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrCameraUnavailable is returned when the capture device cannot be read.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Camera is a Source that segments live frames by colour. Perspective
// correction is assumed to happen upstream (a fixed overhead mount or a
// pre-warped stream).
type Camera struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	cfg    CameraConfig
	frame  gocv.Mat
	sized  gocv.Mat
	hsv    gocv.Mat
	kernel gocv.Mat
}

// OpenCamera opens a capture device (cfg.URL takes precedence over
// cfg.Device).
func OpenCamera(cfg CameraConfig) (Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if cfg.URL != "" {
		vc, err = gocv.VideoCaptureFile(cfg.URL)
	} else {
		vc, err = gocv.VideoCaptureDevice(cfg.Device)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if len(cfg.Thresholds.Fire) == 0 && len(cfg.Thresholds.Exit) == 0 && len(cfg.Thresholds.Wall) == 0 {
		cfg.Thresholds = DefaultColorThresholds()
	}
	return &Camera{
		cap:    vc,
		cfg:    cfg,
		frame:  gocv.NewMat(),
		sized:  gocv.NewMat(),
		hsv:    gocv.NewMat(),
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5)),
	}, nil
}

// Next grabs one frame and runs fire, exit and wall segmentation on it.
func (c *Camera) Next(ctx context.Context) (Detections, error) {
	if err := ctx.Err(); err != nil {
		return Detections{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cap.Read(&c.frame); !ok || c.frame.Empty() {
		return Detections{}, ErrCameraUnavailable
	}
	gocv.Resize(c.frame, &c.sized, image.Pt(c.cfg.Width, c.cfg.Height), 0, 0, gocv.InterpolationLinear)
	gocv.CvtColor(c.sized, &c.hsv, gocv.ColorBGRToHSV)

	fireMask := c.segment(c.cfg.Thresholds.Fire)
	defer fireMask.Close()
	exitMask := c.segment(c.cfg.Thresholds.Exit)
	defer exitMask.Close()
	wallMask := c.segment(c.cfg.Thresholds.Wall)
	defer wallMask.Close()

	return Detections{
		WallMask: matToMask(wallMask),
		Fires:    blobs(fireMask, c.cfg.Thresholds.MinBlobArea),
		Exits:    blobs(exitMask, c.cfg.Thresholds.MinBlobArea),
	}, nil
}

// segment ORs every band into one mask and cleans it with open/close.
func (c *Camera) segment(ranges []HSVRange) gocv.Mat {
	out := gocv.NewMatWithSize(c.hsv.Rows(), c.hsv.Cols(), gocv.MatTypeCV8U)
	out.SetTo(gocv.NewScalar(0, 0, 0, 0))
	band := gocv.NewMat()
	defer band.Close()
	for _, r := range ranges {
		lo := gocv.NewScalar(r.Lower[0], r.Lower[1], r.Lower[2], 0)
		hi := gocv.NewScalar(r.Upper[0], r.Upper[1], r.Upper[2], 0)
		gocv.InRangeWithScalar(c.hsv, lo, hi, &band)
		gocv.BitwiseOr(out, band, &out)
	}
	gocv.MorphologyEx(out, &out, gocv.MorphOpen, c.kernel)
	gocv.MorphologyEx(out, &out, gocv.MorphClose, c.kernel)
	return out
}

func blobs(mask gocv.Mat, minArea float64) []Rect {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	var out []Rect
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		if gocv.ContourArea(pv) < minArea {
			continue
		}
		bb := gocv.BoundingRect(pv)
		out = append(out, Rect{X: bb.Min.X, Y: bb.Min.Y, W: bb.Dx(), H: bb.Dy()})
	}
	return out
}

func matToMask(m gocv.Mat) *Mask {
	return &Mask{Width: m.Cols(), Height: m.Rows(), Pix: m.ToBytes()}
}

// Close releases the capture device and scratch buffers.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame.Close()
	c.sized.Close()
	c.hsv.Close()
	c.kernel.Close()
	return c.cap.Close()
}
