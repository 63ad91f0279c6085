package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	return func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
}

func chainGraph() *Graph {
	return New([]Node{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"B"}},
	}, WithClock(fixedClock()))
}

func readyIDs(g *Graph) []string {
	var ids []string
	for _, node := range g.ReadyNodes() {
		ids = append(ids, node.ID)
	}
	return ids
}

func mustStatus(t *testing.T, g *Graph, id string, status Status) {
	t.Helper()
	if err := g.UpdateStatus(id, status, ""); err != nil {
		t.Fatalf("update %s -> %s: %v", id, status, err)
	}
}

func TestReadyNodesFollowChain(t *testing.T) {
	g := chainGraph()
	if diff := cmp.Diff([]string{"A"}, readyIDs(g)); diff != "" {
		t.Fatalf("initial ready mismatch (-want +got):\n%s", diff)
	}
	mustStatus(t, g, "A", StatusCompleted)
	if diff := cmp.Diff([]string{"B"}, readyIDs(g)); diff != "" {
		t.Fatalf("ready after A mismatch (-want +got):\n%s", diff)
	}
	if err := g.UpdateStatus("B", StatusFailed, "boom"); err != nil {
		t.Fatalf("fail B: %v", err)
	}
	if ready := readyIDs(g); len(ready) != 0 {
		t.Fatalf("expected nothing ready after B failed, got %v", ready)
	}
	if !g.IsStuck() {
		t.Fatalf("expected graph to be stuck once C can never run")
	}
	if g.IsComplete() {
		t.Fatalf("graph with pending C should not be complete")
	}
	node, _ := g.Node("B")
	if node.Error != "boom" || node.CompletedAt == nil {
		t.Fatalf("expected failure recorded on B, got %+v", node)
	}
}

func TestReadyNodesTreatSkippedAsSatisfied(t *testing.T) {
	g := chainGraph()
	mustStatus(t, g, "A", StatusSkipped)
	if diff := cmp.Diff([]string{"B"}, readyIDs(g)); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
}

func TestReadyNodesNeverReturnDanglingDependents(t *testing.T) {
	g := New([]Node{
		{ID: "root"},
		{ID: "orphan", DependsOn: []string{"missing"}},
	})
	if diff := cmp.Diff([]string{"root"}, readyIDs(g)); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
	if blocked := g.BlockedBy("orphan"); len(blocked) != 1 || blocked[0] != "missing" {
		t.Fatalf("expected orphan blocked by missing, got %v", blocked)
	}
}

func TestReadyNodesExcludeUnsatisfiedAcrossTransitions(t *testing.T) {
	g := New([]Node{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
		{ID: "d", DependsOn: []string{"c"}},
	})
	steps := []struct {
		id     string
		status Status
	}{
		{"a", StatusRunning},
		{"b", StatusRunning},
		{"a", StatusCompleted},
		{"b", StatusSkipped},
		{"c", StatusRunning},
		{"c", StatusCompleted},
	}
	for _, step := range steps {
		mustStatus(t, g, step.id, step.status)
		for _, node := range g.ReadyNodes() {
			for _, dep := range node.DependsOn {
				depNode, _ := g.Node(dep)
				if !depNode.Status.Satisfies() {
					t.Fatalf("after %s=%s ready node %s has unsatisfied dependency %s", step.id, step.status, node.ID, dep)
				}
			}
		}
	}
	if diff := cmp.Diff([]string{"d"}, readyIDs(g)); diff != "" {
		t.Fatalf("final ready mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateStatusStampsTimes(t *testing.T) {
	g := chainGraph()
	mustStatus(t, g, "A", StatusRunning)
	running, _ := g.Node("A")
	if running.StartedAt == nil || running.CompletedAt != nil {
		t.Fatalf("expected start time only, got %+v", running)
	}
	mustStatus(t, g, "A", StatusCompleted)
	done, _ := g.Node("A")
	if done.CompletedAt == nil || !done.CompletedAt.After(*done.StartedAt) {
		t.Fatalf("expected completion after start, got %+v", done)
	}
}

func TestUpdateStatusRejectsUnknownNode(t *testing.T) {
	g := chainGraph()
	err := g.UpdateStatus("nope", StatusCompleted, "")
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestIsStuckRequiresNoRunningNodes(t *testing.T) {
	g := New([]Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	})
	mustStatus(t, g, "a", StatusRunning)
	if g.IsStuck() {
		t.Fatalf("graph with running node must not be stuck")
	}
	if len(g.ReadyNodes()) != 0 {
		t.Fatalf("nothing should be ready while a runs")
	}
	mustStatus(t, g, "a", StatusCompleted)
	mustStatus(t, g, "b", StatusCompleted)
	if g.IsStuck() || !g.IsComplete() {
		t.Fatalf("finished graph should be complete and not stuck")
	}
}

func TestEmptyGraphIsComplete(t *testing.T) {
	g := New(nil)
	if !g.IsComplete() || g.IsStuck() {
		t.Fatalf("empty graph should be complete and not stuck")
	}
	if issues := g.Validate(); len(issues) != 0 {
		t.Fatalf("empty graph should validate, got %v", issues)
	}
}

func TestCountsAndFailedIDs(t *testing.T) {
	g := chainGraph()
	mustStatus(t, g, "A", StatusCompleted)
	mustStatus(t, g, "B", StatusFailed)
	want := StatusCounts{Pending: 1, Completed: 1, Failed: 1}
	if diff := cmp.Diff(want, g.Counts()); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B"}, g.FailedIDs()); diff != "" {
		t.Fatalf("failed ids mismatch (-want +got):\n%s", diff)
	}
}

func TestSkipDependentsIsTransitive(t *testing.T) {
	g := New([]Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "side"},
	})
	mustStatus(t, g, "a", StatusFailed)
	skipped := g.SkipDependents("a", "dependency a failed")
	if diff := cmp.Diff([]string{"b", "c"}, skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
	c, _ := g.Node("c")
	if c.Status != StatusSkipped || c.Error != "dependency a failed" {
		t.Fatalf("expected c skipped with reason, got %+v", c)
	}
	if diff := cmp.Diff([]string{"side"}, readyIDs(g)); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
}

func TestAddNodesUpserts(t *testing.T) {
	g := chainGraph()
	if err := g.AddNodes([]Node{
		{ID: "B", Title: "replaced", DependsOn: []string{"A"}},
		{ID: "D", DependsOn: []string{"C"}},
	}); err != nil {
		t.Fatalf("add nodes: %v", err)
	}
	if g.Len() != 4 {
		t.Fatalf("expected 4 nodes after upsert, got %d", g.Len())
	}
	b, _ := g.Node("B")
	if b.Title != "replaced" || b.Status != StatusPending {
		t.Fatalf("expected replaced B, got %+v", b)
	}
	var ids []string
	for _, node := range g.Nodes() {
		ids = append(ids, node.ID)
	}
	if diff := cmp.Diff([]string{"A", "B", "C", "D"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if err := g.AddNodes([]Node{{ID: " "}}); err == nil {
		t.Fatalf("expected blank id to be rejected")
	}
}

func TestResetInterruptedKeepsVirtualParents(t *testing.T) {
	g := New([]Node{
		{ID: "X"},
		{ID: "lone"},
	}, WithClock(fixedClock()))
	if err := g.ExpandNode("X", []Node{{ID: "X/c1"}, {ID: "X/c2", DependsOn: []string{"X/c1"}}}); err != nil {
		t.Fatalf("expand: %v", err)
	}
	mustStatus(t, g, "X/c1", StatusRunning)
	mustStatus(t, g, "lone", StatusRunning)
	reset := g.ResetInterrupted()
	if diff := cmp.Diff([]string{"lone", "X/c1"}, reset); diff != "" {
		t.Fatalf("reset mismatch (-want +got):\n%s", diff)
	}
	c1, _ := g.Node("X/c1")
	if c1.Status != StatusPending || c1.StartedAt != nil {
		t.Fatalf("expected c1 reset with cleared start, got %+v", c1)
	}
	x, _ := g.Node("X")
	if x.Status != StatusRunning {
		t.Fatalf("virtual parent should stay running, got %s", x.Status)
	}
}

func TestAddNodesRederivesVirtualParent(t *testing.T) {
	g := New([]Node{{ID: "x"}, {ID: "d", DependsOn: []string{"x"}}}, WithClock(fixedClock()))
	if err := g.ExpandNode("x", []Node{{ID: "c1"}}); err != nil {
		t.Fatalf("expand: %v", err)
	}
	mustStatus(t, g, "c1", StatusCompleted)
	if x, _ := g.Node("x"); x.Status != StatusCompleted {
		t.Fatalf("expected x completed, got %s", x.Status)
	}
	if err := g.AddNodes([]Node{{ID: "c1", Title: "redo"}}); err != nil {
		t.Fatalf("add nodes: %v", err)
	}
	x, _ := g.Node("x")
	if x.Status != StatusRunning || x.CompletedAt != nil {
		t.Fatalf("expected x running again after its child was replaced, got %+v", x)
	}
	if parent, ok := g.ParentOf("c1"); !ok || parent != "x" {
		t.Fatalf("expected c1 to stay parented by x, got %q %v", parent, ok)
	}
	if diff := cmp.Diff([]string{"c1"}, readyIDs(g)); diff != "" {
		t.Fatalf("ready mismatch (-want +got):\n%s", diff)
	}
}

func TestAddNodesRejectsReplacingExpandedNode(t *testing.T) {
	g := New([]Node{{ID: "x"}, {ID: "d", DependsOn: []string{"x"}}}, WithClock(fixedClock()))
	if err := g.ExpandNode("x", []Node{{ID: "c1"}, {ID: "c2", DependsOn: []string{"c1"}}}); err != nil {
		t.Fatalf("expand: %v", err)
	}
	before := g.Nodes()
	err := g.AddNodes([]Node{{ID: "extra"}, {ID: "x"}})
	if !errors.Is(err, ErrAlreadyExpanded) {
		t.Fatalf("expected ErrAlreadyExpanded, got %v", err)
	}
	if diff := cmp.Diff(before, g.Nodes()); diff != "" {
		t.Fatalf("rejected upsert mutated the graph (-before +after):\n%s", diff)
	}
	if err := g.ExpandNode("x", []Node{{ID: "k1"}}); !errors.Is(err, ErrAlreadyExpanded) {
		t.Fatalf("expected second expansion to stay rejected, got %v", err)
	}
	d, _ := g.Node("d")
	if diff := cmp.Diff([]string{"c2"}, d.DependsOn); diff != "" {
		t.Fatalf("d dependencies mismatch (-want +got):\n%s", diff)
	}
}
