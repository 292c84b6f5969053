// Package l2grid owns Layer 2 (Grid) of the guidance data model.
//
// Responsibilities: the occupancy grid over the map plane, the wall lock
// that freezes the static-structure layer, the per-cycle exit registry and
// lock snapshot persistence.
// Key types: Grid, Layer, WallLock, LockState, ExitRegistry, LockSnapshot.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// No SQL/database code is allowed in this package; persistence goes through
// the SnapshotStore interface.
package l2grid
