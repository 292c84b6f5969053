// Package pipeline runs the guidance processing cycle.
//
// It wires the layer packages together: detections from L1 feed the grid
// and wall lock in L2, L3 plans a route for every guidance point and L4
// turns each route into a direction. Each cycle ends by publishing one
// immutable status.Snapshot. The pipeline does not own domain logic; it
// delegates to the layer packages.
package pipeline
