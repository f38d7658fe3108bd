// Package predicate defines the filter IR shared by the ground-truth oracle
// and the reference twin.
//
// A Predicate describes which backing rows a listing filter selects. It is
// backend-agnostic: internal/querysql compiles it to parameterized SQL for
// the configured dialect, and Describe renders it for failure messages.
//
// The IR mirrors the two filter kinds a listing surface exposes:
//
//	Equals   field = value             (exact filters)
//	Contains field contains substring  (parameters ending in "__contains")
//
// plus Greater (used to locate rows that are currently referenced) and And
// for conjunction. There is no OR and no negation.
package predicate
