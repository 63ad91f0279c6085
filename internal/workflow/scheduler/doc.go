// Package scheduler decides which ready nodes fill the free concurrency slots
// on each engine tick. It never mutates the graph; the engine marks the
// selected nodes Running before dispatching them.
package scheduler
