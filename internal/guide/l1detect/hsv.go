package l1detect

// HSVRange is an inclusive OpenCV-style HSV band (H in 0..179, S and V in
// 0..255).
type HSVRange struct {
	Lower [3]float64 `json:"lower" yaml:"lower"`
	Upper [3]float64 `json:"upper" yaml:"upper"`
}

// ColorThresholds configures the colour-segmentation camera detector.
type ColorThresholds struct {
	Fire  []HSVRange `json:"fire" yaml:"fire"`
	Exit  []HSVRange `json:"exit" yaml:"exit"`
	Wall  []HSVRange `json:"wall" yaml:"wall"`

	// MinBlobArea drops contours smaller than this many pixels.
	MinBlobArea float64 `json:"min_blob_area" yaml:"min_blob_area"`
}

// DefaultColorThresholds returns bands tuned for a printed floor plan: red
// for fire (two bands because hue wraps), near-black for exits and
// saturated blue for wall tape.
func DefaultColorThresholds() ColorThresholds {
	return ColorThresholds{
		Fire: []HSVRange{
			{Lower: [3]float64{0, 100, 100}, Upper: [3]float64{10, 255, 255}},
			{Lower: [3]float64{160, 100, 100}, Upper: [3]float64{179, 255, 255}},
		},
		Exit: []HSVRange{
			{Lower: [3]float64{0, 0, 0}, Upper: [3]float64{180, 255, 60}},
		},
		Wall: []HSVRange{
			{Lower: [3]float64{90, 80, 50}, Upper: [3]float64{130, 255, 255}},
		},
		MinBlobArea: 200,
	}
}

// CameraConfig selects a capture device or stream and the map-plane size
// frames are resized to before segmentation.
type CameraConfig struct {
	// Device is a numeric camera index when URL is empty.
	Device     int
	URL        string
	Width      int
	Height     int
	Thresholds ColorThresholds
}
