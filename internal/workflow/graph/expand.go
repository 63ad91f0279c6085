package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyExpanded is returned when ExpandNode targets a node that already
// has children.
var ErrAlreadyExpanded = errors.New("graph: node already expanded")

// ExpandNode turns parentID into a virtual parent of children. The parent is
// marked Running, the children are inserted, and every other node's
// dependency on the parent is rewritten to the last child, which acts as the
// aggregation point. Children that depend on no sibling inherit the parent's
// own dependencies, so nothing inside the parent starts before the parent's
// prerequisites are satisfied. The call is rejected without touching the graph
// when the parent is unknown or already expanded, or when a child is
// malformed.
func (g *Graph) ExpandNode(parentID string, children []Node) error {
	parent, ok := g.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parentID)
	}
	if parent.IsVirtual() {
		return fmt.Errorf("%w: %s", ErrAlreadyExpanded, parentID)
	}
	if len(children) == 0 {
		return fmt.Errorf("graph: expand %s: at least one child is required", parentID)
	}
	ids := make([]string, 0, len(children))
	seen := make(map[string]struct{}, len(children))
	for _, child := range children {
		id := strings.TrimSpace(child.ID)
		switch {
		case id == "":
			return fmt.Errorf("graph: expand %s: child id is required", parentID)
		case id == parentID:
			return fmt.Errorf("graph: expand %s: child may not reuse the parent id", parentID)
		case g.Has(id):
			return fmt.Errorf("graph: expand %s: child %s already exists", parentID, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("graph: expand %s: duplicate child %s", parentID, id)
		}
		for _, dep := range child.DependsOn {
			if dep == parentID {
				return fmt.Errorf("graph: expand %s: child %s depends on its parent", parentID, id)
			}
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	now := g.clock()
	parent.Children = cloneStrings(ids)
	parent.Status = StatusRunning
	parent.StartedAt = &now
	parent.CompletedAt = nil
	parent.Error = ""
	g.children[parentID] = cloneStrings(ids)
	inherited := cloneStrings(parent.DependsOn)
	for _, child := range children {
		child.ID = strings.TrimSpace(child.ID)
		if !dependsOnAny(child.DependsOn, seen) {
			child.DependsOn = mergeDependencies(child.DependsOn, inherited)
		}
		g.put(child)
		g.parentOf[child.ID] = parentID
	}

	aggregate := ids[len(ids)-1]
	for _, id := range g.order {
		if id == parentID {
			continue
		}
		if _, isChild := seen[id]; isChild {
			continue
		}
		node := g.nodes[id]
		node.DependsOn = rewriteDependency(node.DependsOn, parentID, aggregate)
	}
	g.derive(parentID)
	g.deriveAncestors(parentID)
	return nil
}

// Children returns the child ids of a virtual parent.
func (g *Graph) Children(parentID string) []string {
	return cloneStrings(g.children[parentID])
}

// rewriteDependency replaces from with to, collapsing duplicates so the
// aggregation child appears exactly once.
func rewriteDependency(deps []string, from, to string) []string {
	found := false
	for _, dep := range deps {
		if dep == from {
			found = true
			break
		}
	}
	if !found {
		return deps
	}
	out := make([]string, 0, len(deps))
	added := false
	for _, dep := range deps {
		if dep == from || dep == to {
			if added {
				continue
			}
			out = append(out, to)
			added = true
			continue
		}
		out = append(out, dep)
	}
	return out
}

func dependsOnAny(deps []string, ids map[string]struct{}) bool {
	for _, dep := range deps {
		if _, ok := ids[dep]; ok {
			return true
		}
	}
	return false
}

// mergeDependencies returns deps followed by every entry of extra not already
// present. The result never aliases deps.
func mergeDependencies(deps, extra []string) []string {
	if len(deps)+len(extra) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps)+len(extra))
	present := make(map[string]struct{}, len(deps)+len(extra))
	for _, list := range [][]string{deps, extra} {
		for _, dep := range list {
			if _, ok := present[dep]; ok {
				continue
			}
			present[dep] = struct{}{}
			out = append(out, dep)
		}
	}
	return out
}
