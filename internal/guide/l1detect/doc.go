// Package l1detect owns Layer 1 (Detection) of the guidance data model.
//
// Responsibilities: the in-process contract between obstacle/exit detection
// and the routing engine. Key types: Point, Rect, Mask, Detections, Source.
//
// Dependency rule: L1 depends on nothing inside internal/guide. Camera
// acquisition and colour thresholding live behind the Source interface; the
// OpenCV-backed implementation is only compiled with the "gocv" build tag.
package l1detect
