// Package l4signal owns Layer 4 (Signal) of the guidance data model.
//
// Responsibilities: turning a planned path into one of five discrete
// direction signals that simple output hardware can show.
// Key types: Direction.
//
// Dependency rule: L4 may depend on L1-L3.
package l4signal
