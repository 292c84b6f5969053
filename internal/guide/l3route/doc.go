// Package l3route owns Layer 3 (Route) of the guidance data model.
//
// Responsibilities: multi-target shortest path search from a guidance point
// to the nearest reachable exit over a grid snapshot.
// Key types: Planner, Result, Path.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+. Planning is a
// pure function of the grid and exits it is given.
package l3route
