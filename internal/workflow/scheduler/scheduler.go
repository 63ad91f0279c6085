package scheduler

import (
	"fmt"

	"github.com/kingrea/weft/internal/workflow/graph"
)

// Request captures the current runtime state plus the scheduling bound.
type Request struct {
	// Ready lists the nodes the graph currently reports as ready, in graph
	// order.
	Ready []graph.Node
	// MaxParallel caps how many nodes may be in flight at once, including
	// the ones listed in Running. Values <= 0 disable the limit.
	MaxParallel int
	// Running lists node ids already dispatched so they are never selected
	// twice.
	Running []string
}

// Batch describes the scheduler's decision.
type Batch struct {
	Nodes   []graph.Node
	Skipped map[string]SkipReason
}

// SkipReason explains why a ready node was left for a later tick.
type SkipReason struct {
	Reason SkipReasonCode
	Detail string
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonConcurrency SkipReasonCode = "concurrency"
	SkipReasonActive      SkipReasonCode = "already-running"
)

// Select fills the free slots with ready nodes in the order given. Nodes that
// do not fit remain ready and are reconsidered on the next tick.
func Select(req Request) Batch {
	running := req.runningSet()
	limit := req.slots(len(running))
	result := Batch{}
	for _, node := range req.Ready {
		if _, active := running[node.ID]; active {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonActive, Detail: "node already dispatched"})
			continue
		}
		if limit >= 0 && len(result.Nodes) >= limit {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonConcurrency, Detail: fmt.Sprintf("max parallel %d reached", req.MaxParallel)})
			continue
		}
		result.Nodes = append(result.Nodes, node)
		running[node.ID] = struct{}{}
	}
	return result
}

// FreeSlots reports how many more nodes may be dispatched; -1 means
// unlimited.
func FreeSlots(maxParallel, inFlight int) int {
	if maxParallel <= 0 {
		return -1
	}
	remaining := maxParallel - inFlight
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (req Request) runningSet() map[string]struct{} {
	set := make(map[string]struct{}, len(req.Running))
	for _, id := range req.Running {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (req Request) slots(runningCount int) int {
	return FreeSlots(req.MaxParallel, runningCount)
}

func (b *Batch) addSkip(id string, reason SkipReason) {
	if id == "" {
		return
	}
	if b.Skipped == nil {
		b.Skipped = make(map[string]SkipReason)
	}
	b.Skipped[id] = reason
}
