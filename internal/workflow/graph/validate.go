package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGraph is matched by every ValidationError via errors.Is.
var ErrInvalidGraph = errors.New("graph: invalid")

// IssueKind classifies integrity violations.
type IssueKind string

const (
	IssueDuplicateID        IssueKind = "duplicate-id"
	IssueDanglingDependency IssueKind = "dangling-dependency"
	IssueDanglingChild      IssueKind = "dangling-child"
	IssueNoRoots            IssueKind = "no-roots"
	IssueCycle              IssueKind = "cycle"
)

// Issue describes one integrity violation.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	NodeID string    `json:"node_id,omitempty"`
	Detail string    `json:"detail,omitempty"`
	// Path holds the node ids along a detected cycle, first id repeated last.
	Path []string `json:"path,omitempty"`
}

func (i Issue) String() string {
	switch {
	case len(i.Path) > 0:
		return fmt.Sprintf("%s: %s", i.Kind, strings.Join(i.Path, " -> "))
	case i.NodeID != "" && i.Detail != "":
		return fmt.Sprintf("%s: %s: %s", i.Kind, i.NodeID, i.Detail)
	case i.NodeID != "":
		return fmt.Sprintf("%s: %s", i.Kind, i.NodeID)
	case i.Detail != "":
		return fmt.Sprintf("%s: %s", i.Kind, i.Detail)
	}
	return string(i.Kind)
}

// ValidationError wraps the issues found by Validate.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ErrInvalidGraph.Error()
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidGraph.Error(), strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrInvalidGraph) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// Err returns a ValidationError for the graph, or nil when it is valid.
func (g *Graph) Err() error {
	issues := g.Validate()
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// Validate returns every integrity violation found. It never fails; an empty
// result means the graph is valid.
func (g *Graph) Validate() []Issue {
	var issues []Issue
	for _, id := range g.duplicates {
		issues = append(issues, Issue{Kind: IssueDuplicateID, NodeID: id})
	}
	hasRoot := false
	for _, id := range g.order {
		node := g.nodes[id]
		if len(node.DependsOn) == 0 {
			hasRoot = true
		}
		for _, dep := range node.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				issues = append(issues, Issue{Kind: IssueDanglingDependency, NodeID: id, Detail: dep})
			}
		}
		for _, childID := range node.Children {
			if _, ok := g.nodes[childID]; !ok {
				issues = append(issues, Issue{Kind: IssueDanglingChild, NodeID: id, Detail: childID})
			}
		}
	}
	if len(g.order) > 0 && !hasRoot {
		issues = append(issues, Issue{Kind: IssueNoRoots, Detail: "no node without dependencies"})
	}
	for _, cycle := range g.findCycles() {
		issues = append(issues, Issue{Kind: IssueCycle, NodeID: cycle[0], Path: cycle})
	}
	return issues
}

const (
	unvisited = iota
	visiting
	visited
)

// findCycles runs a three-state DFS along dependency edges and returns one
// witness path per back edge found.
func (g *Graph) findCycles() [][]string {
	state := make(map[string]int, len(g.order))
	var stack []string
	var cycles [][]string
	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case visiting:
				cycles = append(cycles, cyclePath(stack, dep))
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
	}
	for _, id := range g.order {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}

func cyclePath(stack []string, start string) []string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] != start {
			continue
		}
		path := make([]string, 0, len(stack)-i+1)
		path = append(path, stack[i:]...)
		return append(path, start)
	}
	return []string{start, start}
}

// TopologicalOrder returns every id with dependencies ahead of dependents
// (DFS post-order). Dependencies on unknown ids are ignored. A cycle yields a
// ValidationError instead of a partial order.
func (g *Graph) TopologicalOrder() ([]string, error) {
	state := make(map[string]int, len(g.order))
	ordered := make([]string, 0, len(g.order))
	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch state[dep] {
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			case visiting:
				path := cyclePath(stack, dep)
				return &ValidationError{Issues: []Issue{{Kind: IssueCycle, NodeID: dep, Path: path}}}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		ordered = append(ordered, id)
		return nil
	}
	for _, id := range g.order {
		if state[id] != unvisited {
			continue
		}
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
