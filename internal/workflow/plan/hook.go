package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kingrea/weft/internal/workflow"
	"github.com/kingrea/weft/internal/workflow/engine"
	"github.com/kingrea/weft/internal/workflow/graph"
)

// Hook applies a pipeline expansion: once the trigger completes, the plan file
// in the trigger's output directory is read and its records either become
// the children of the expand target or are added to the graph.
type Hook struct {
	exp workflow.Expansion
}

var _ engine.ExpansionHook = (*Hook)(nil)

// NewHook builds the hook for one declared expansion.
func NewHook(exp workflow.Expansion) *Hook {
	return &Hook{exp: exp}
}

// Hooks builds one hook per expansion, in declaration order.
func Hooks(expansions []workflow.Expansion) []engine.ExpansionHook {
	hooks := make([]engine.ExpansionHook, 0, len(expansions))
	for _, exp := range expansions {
		hooks = append(hooks, NewHook(exp))
	}
	return hooks
}

// Name identifies the hook by its trigger.
func (h *Hook) Name() string {
	return "plan:" + h.exp.Trigger
}

// Matches reports whether node is the trigger.
func (h *Hook) Matches(node graph.Node) bool {
	return node.ID == h.exp.Trigger
}

// Applied reports whether the plan's effect is already in the graph. An
// expand target counts once it is virtual; added records count once every
// record id exists. An unreadable plan is never considered applied.
func (h *Hook) Applied(trigger graph.Node, view engine.View) bool {
	if h.exp.Expand != "" {
		return view.IsVirtual(h.exp.Expand)
	}
	path, err := h.planPath(view, trigger.ID)
	if err != nil {
		return false
	}
	doc, err := Load(path)
	if err != nil {
		return false
	}
	for _, id := range doc.IDs() {
		if !view.Has(id) {
			return false
		}
	}
	return true
}

// Expand reads the plan and applies it through m.
func (h *Hook) Expand(ctx context.Context, trigger graph.Node, m *engine.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := h.planPath(m.View(), trigger.ID)
	if err != nil {
		return err
	}
	doc, err := Load(path)
	if err != nil {
		return err
	}
	if h.exp.Expand != "" {
		return m.ExpandNode(h.exp.Expand, doc.GraphNodes())
	}
	return m.AddNodes(doc.GraphNodes())
}

func (h *Hook) planPath(view engine.View, triggerID string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(h.exp.File))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("plan: file %q must stay inside the output directory of %s", h.exp.File, triggerID)
	}
	dir := view.OutputDir(triggerID)
	if dir == "" {
		return "", fmt.Errorf("plan: no output directory for %s", triggerID)
	}
	return filepath.Join(dir, rel), nil
}
