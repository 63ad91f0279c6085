package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/weft/internal/workflow/graph"
)

// ErrMutationClosed is returned when a Mutation is used after the hook call
// that received it has returned.
var ErrMutationClosed = errors.New("workflow engine: mutation handle is closed")

// ExpansionHook extends the graph after a trigger node completes. Hooks run on
// the controller loop, never concurrently with readiness checks or status
// updates.
type ExpansionHook interface {
	// Name identifies the hook in logs and error text.
	Name() string
	// Matches reports whether node triggers this hook once Completed.
	Matches(node graph.Node) bool
	// Applied reports whether the expansion for trigger is already present
	// in the graph. It is consulted when resuming so that hooks fire at
	// most once per trigger without persisting separate flags.
	Applied(trigger graph.Node, view View) bool
	// Expand mutates the graph through m. The handle is only valid for the
	// duration of the call.
	Expand(ctx context.Context, trigger graph.Node, m *Mutation) error
}

// Locator resolves node ids to their output directories.
type Locator interface {
	OutputDir(id string) string
}

// View is a read-only window onto the live graph.
type View struct {
	g   *graph.Graph
	loc Locator
}

// Node returns a copy of the node with id.
func (v View) Node(id string) (graph.Node, bool) {
	return v.g.Node(id)
}

// Has reports whether id exists.
func (v View) Has(id string) bool {
	return v.g.Has(id)
}

// IsVirtual reports whether id has been expanded.
func (v View) IsVirtual(id string) bool {
	return v.g.IsVirtual(id)
}

// Children returns the child ids of an expanded node.
func (v View) Children(id string) []string {
	return v.g.Children(id)
}

// OutputDir returns where node id writes its outputs.
func (v View) OutputDir(id string) string {
	if v.loc == nil {
		return ""
	}
	return v.loc.OutputDir(id)
}

// Mutation is the only way a hook may change the graph.
type Mutation struct {
	view     View
	inFlight map[string]struct{}
	closed   bool
	changed  bool
	added    []string
}

func newMutation(g *graph.Graph, loc Locator, inFlight map[string]struct{}) *Mutation {
	return &Mutation{view: View{g: g, loc: loc}, inFlight: inFlight}
}

// View exposes the graph for reads.
func (m *Mutation) View() View {
	return m.view
}

// AddNodes upserts nodes into the graph. Nodes currently being executed may
// not be replaced.
func (m *Mutation) AddNodes(nodes []graph.Node) error {
	if m.closed {
		return ErrMutationClosed
	}
	for _, node := range nodes {
		if _, running := m.inFlight[node.ID]; running {
			return fmt.Errorf("workflow engine: cannot replace running node %s", node.ID)
		}
	}
	if err := m.view.g.AddNodes(nodes); err != nil {
		return err
	}
	m.changed = true
	for _, node := range nodes {
		m.added = append(m.added, node.ID)
	}
	return nil
}

// ExpandNode turns parentID into a virtual parent of children. A node that is
// currently being executed may not be expanded.
func (m *Mutation) ExpandNode(parentID string, children []graph.Node) error {
	if m.closed {
		return ErrMutationClosed
	}
	if _, running := m.inFlight[parentID]; running {
		return fmt.Errorf("workflow engine: cannot expand running node %s", parentID)
	}
	if err := m.view.g.ExpandNode(parentID, children); err != nil {
		return err
	}
	m.changed = true
	for _, child := range children {
		m.added = append(m.added, child.ID)
	}
	return nil
}

func (m *Mutation) close() {
	m.closed = true
}
