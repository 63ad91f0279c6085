package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownNode is returned when an operation references a node id that
	// is not part of the graph.
	ErrUnknownNode = errors.New("graph: unknown node")
	// ErrDerivedStatus is returned when a caller tries to set the status of a
	// virtual parent directly.
	ErrDerivedStatus = errors.New("graph: status of an expanded node is derived from its children")
)

// Graph is the per-run node store. It is not safe for concurrent use; the
// engine funnels every read and mutation through its controller loop.
type Graph struct {
	nodes map[string]*Node
	// order preserves insertion order so readiness and validation results
	// are stable between calls.
	order      []string
	children   map[string][]string
	parentOf   map[string]string
	duplicates []string
	clock      func() time.Time
}

// Option customizes a Graph during construction.
type Option func(*Graph)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(g *Graph) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// New builds a graph from a node set. Nodes without a status start Pending.
// Duplicate ids keep the last definition and are reported by Validate.
func New(nodes []Node, opts ...Option) *Graph {
	g := &Graph{
		nodes:    make(map[string]*Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		children: map[string][]string{},
		parentOf: map[string]string{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, node := range nodes {
		if _, exists := g.nodes[node.ID]; exists {
			g.duplicates = append(g.duplicates, node.ID)
		}
		g.put(node)
	}
	return g
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return node.Clone(), true
}

// Has reports whether the id exists in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns copies of every node in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// ReadyNodes returns every Pending node whose dependencies are all Completed
// or Skipped. A dependency on an unknown id is never satisfied.
func (g *Graph) ReadyNodes() []Node {
	var ready []Node
	for _, id := range g.order {
		node := g.nodes[id]
		if node.Status != StatusPending {
			continue
		}
		if len(g.blockers(node)) > 0 {
			continue
		}
		ready = append(ready, node.Clone())
	}
	return ready
}

// BlockedBy lists the dependencies of id that are not yet satisfied.
func (g *Graph) BlockedBy(id string) []string {
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return g.blockers(node)
}

func (g *Graph) blockers(node *Node) []string {
	if len(node.DependsOn) == 0 {
		return nil
	}
	var blockers []string
	for _, depID := range node.DependsOn {
		dep, ok := g.nodes[depID]
		if !ok || !dep.Status.Satisfies() {
			blockers = append(blockers, depID)
		}
	}
	return blockers
}

// UpdateStatus transitions a node and re-derives the status of any virtual
// parent that contains it. Running stamps a start time; terminal states stamp
// a completion time and record errText. Pending clears both timestamps.
func (g *Graph) UpdateStatus(id string, status Status, errText string) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if !status.valid() {
		return fmt.Errorf("graph: invalid status %q for %s", status, id)
	}
	if node.IsVirtual() {
		return fmt.Errorf("%w: %s", ErrDerivedStatus, id)
	}
	g.apply(node, status, errText)
	g.deriveAncestors(id)
	return nil
}

func (g *Graph) apply(node *Node, status Status, errText string) {
	now := g.clock()
	node.Status = status
	switch {
	case status == StatusRunning:
		node.StartedAt = &now
		node.CompletedAt = nil
		node.Error = ""
	case status.Terminal():
		node.CompletedAt = &now
		node.Error = strings.TrimSpace(errText)
	default:
		node.StartedAt = nil
		node.CompletedAt = nil
		node.Error = ""
	}
}

// deriveAncestors walks from id up through every enclosing virtual parent,
// recomputing each parent's status from its children.
func (g *Graph) deriveAncestors(id string) {
	seen := map[string]struct{}{}
	current := id
	for {
		parentID, ok := g.parentOf[current]
		if !ok {
			return
		}
		if _, loop := seen[parentID]; loop {
			return
		}
		seen[parentID] = struct{}{}
		g.derive(parentID)
		current = parentID
	}
}

// derive applies the aggregation rule: Completed iff every child is Completed
// or Skipped; Failed iff a child Failed and none is still Pending or Running;
// Running otherwise.
func (g *Graph) derive(parentID string) {
	parent, ok := g.nodes[parentID]
	if !ok {
		return
	}
	childIDs := g.children[parentID]
	if len(childIDs) == 0 {
		return
	}
	allSatisfied := true
	anyFailed := false
	anyActive := false
	var failed []string
	for _, childID := range childIDs {
		child, ok := g.nodes[childID]
		if !ok {
			allSatisfied = false
			anyActive = true
			continue
		}
		switch child.Status {
		case StatusCompleted, StatusSkipped:
		case StatusFailed:
			allSatisfied = false
			anyFailed = true
			failed = append(failed, childID)
		default:
			allSatisfied = false
			anyActive = true
		}
	}
	var next Status
	var errText string
	switch {
	case allSatisfied:
		next = StatusCompleted
	case anyFailed && !anyActive:
		next = StatusFailed
		errText = "child failed: " + strings.Join(failed, ", ")
	default:
		next = StatusRunning
	}
	if parent.Status == next {
		return
	}
	now := g.clock()
	parent.Status = next
	if next == StatusRunning {
		if parent.StartedAt == nil {
			parent.StartedAt = &now
		}
		parent.CompletedAt = nil
		parent.Error = ""
		return
	}
	parent.CompletedAt = &now
	parent.Error = errText
}

// IsComplete reports whether no node is Pending or Running.
func (g *Graph) IsComplete() bool {
	for _, id := range g.order {
		switch g.nodes[id].Status {
		case StatusPending, StatusRunning:
			return false
		}
	}
	return true
}

// IsStuck reports whether the graph cannot progress: it is not complete,
// nothing is ready, and no node is Running.
func (g *Graph) IsStuck() bool {
	if g.IsComplete() {
		return false
	}
	if len(g.ReadyNodes()) > 0 {
		return false
	}
	for _, id := range g.order {
		if g.nodes[id].Status == StatusRunning {
			return false
		}
	}
	return true
}

// IsStalled is IsStuck with virtual parents ignored: a parent reported as
// Running only because some child can never become ready does not count as
// progress.
func (g *Graph) IsStalled() bool {
	if g.IsComplete() {
		return false
	}
	if len(g.ReadyNodes()) > 0 {
		return false
	}
	for _, id := range g.order {
		node := g.nodes[id]
		if node.Status == StatusRunning && !node.IsVirtual() {
			return false
		}
	}
	return true
}

// Counts tallies nodes per status.
func (g *Graph) Counts() StatusCounts {
	var counts StatusCounts
	for _, id := range g.order {
		counts.add(g.nodes[id].Status)
	}
	return counts
}

// FailedIDs lists the ids of Failed nodes in insertion order.
func (g *Graph) FailedIDs() []string {
	var failed []string
	for _, id := range g.order {
		if g.nodes[id].Status == StatusFailed {
			failed = append(failed, id)
		}
	}
	return failed
}

// IsVirtual reports whether id has been expanded into children.
func (g *Graph) IsVirtual(id string) bool {
	node, ok := g.nodes[id]
	return ok && node.IsVirtual()
}

// ParentOf returns the virtual parent containing id, if any.
func (g *Graph) ParentOf(id string) (string, bool) {
	parent, ok := g.parentOf[id]
	return parent, ok
}

// Dependents returns the ids of nodes that list id as a direct dependency.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, candidate := range g.order {
		for _, dep := range g.nodes[candidate].DependsOn {
			if dep == id {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// SkipDependents marks every transitive Pending dependent of id as Skipped,
// recording reason as the error text. It returns the skipped ids.
func (g *Graph) SkipDependents(id, reason string) []string {
	var skipped []string
	visited := map[string]struct{}{id: {}}
	queue := g.Dependents(id)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}
		node := g.nodes[current]
		if node.Status != StatusPending || node.IsVirtual() {
			continue
		}
		g.apply(node, StatusSkipped, reason)
		g.deriveAncestors(current)
		skipped = append(skipped, current)
		queue = append(queue, g.Dependents(current)...)
	}
	return skipped
}

// ResetInterrupted returns every Running leaf node to Pending with its start
// time cleared, then re-derives all virtual parents. It is used when resuming
// a run whose controller stopped while work was in flight.
func (g *Graph) ResetInterrupted() []string {
	var reset []string
	for _, id := range g.order {
		node := g.nodes[id]
		if node.Status != StatusRunning || node.IsVirtual() {
			continue
		}
		g.apply(node, StatusPending, "")
		reset = append(reset, id)
	}
	for _, id := range g.order {
		if g.nodes[id].IsVirtual() {
			g.derive(id)
		}
	}
	for _, id := range reset {
		g.deriveAncestors(id)
	}
	return reset
}

// AddNodes upserts nodes into the live set. Replacing an existing node keeps
// its position in the insertion order and re-derives any virtual parent that
// contains it. Expanded nodes cannot be replaced; the whole call is rejected
// with ErrAlreadyExpanded and the graph is left untouched.
func (g *Graph) AddNodes(nodes []Node) error {
	for _, node := range nodes {
		if strings.TrimSpace(node.ID) == "" {
			return fmt.Errorf("graph: node id is required")
		}
		if existing, ok := g.nodes[node.ID]; ok && existing.IsVirtual() {
			return fmt.Errorf("%w: cannot replace %s", ErrAlreadyExpanded, node.ID)
		}
	}
	for _, node := range nodes {
		g.put(node)
		g.deriveAncestors(node.ID)
	}
	return nil
}

func (g *Graph) put(node Node) {
	clone := node.Clone()
	if clone.Status == "" {
		clone.Status = StatusPending
	}
	if existing, ok := g.nodes[clone.ID]; ok {
		for _, childID := range existing.Children {
			if g.parentOf[childID] == clone.ID {
				delete(g.parentOf, childID)
			}
		}
		delete(g.children, clone.ID)
	} else {
		g.order = append(g.order, clone.ID)
	}
	g.nodes[clone.ID] = &clone
	if len(clone.Children) > 0 {
		g.children[clone.ID] = cloneStrings(clone.Children)
		for _, childID := range clone.Children {
			g.parentOf[childID] = clone.ID
		}
	}
}
