//go:build !gocv

package l1detect

import (
	"errors"
)

// ErrCameraUnavailable is returned when the binary was built without OpenCV
// support.
var ErrCameraUnavailable = errors.New("camera support not compiled in (build with -tags gocv)")

// OpenCamera is unavailable without the gocv build tag.
func OpenCamera(cfg CameraConfig) (Source, error) {
	return nil, ErrCameraUnavailable
}
