// Package engine drives a run's dependency graph to completion. A single
// controller loop owns the graph: it dispatches ready nodes to an executor
// under a global concurrency bound, applies each settlement as soon as it
// arrives, fires expansion hooks for newly completed nodes, and persists a
// snapshot after every transition so an interrupted run can be resumed.
package engine
