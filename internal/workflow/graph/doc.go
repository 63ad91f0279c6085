// Package graph owns the node and edge set of a single run. It answers which
// nodes are ready to execute, validates structural integrity, and supports the
// two runtime mutations the engine performs when planning nodes complete:
// bulk insertion and expansion of a node into a child subgraph whose status is
// derived rather than set.
package graph
