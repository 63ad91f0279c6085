package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/weft/internal/workflow/graph"
	"github.com/kingrea/weft/internal/workspace"
)

var (
	labelStyleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	labelStyleSkipped   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	headerStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
)

// RenderSummary renders a snapshot as a status report: one header line with
// the status counts followed by one line per node, children indented under
// their expanded parent.
func RenderSummary(snapshot workspace.Snapshot) string {
	counts := snapshot.Counts()
	lines := []string{
		headerStyle.Render(fmt.Sprintf("Run %s", snapshot.RunID)),
		summaryLine(counts),
	}
	if !snapshot.UpdatedAt.IsZero() {
		lines = append(lines, detailTextStyle.Render("Updated "+snapshot.UpdatedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	lines = append(lines, "")
	for _, row := range nodeRows(snapshot.Nodes) {
		lines = append(lines, renderNodeLine(row, false))
		if row.node.Status == graph.StatusFailed && row.node.Error != "" {
			lines = append(lines, detailTextStyle.Render(indent(row.depth+1)+"error: "+row.node.Error))
		}
	}
	if len(snapshot.Artifacts) > 0 {
		lines = append(lines, "", fmt.Sprintf("Artifacts: %d", len(snapshot.Artifacts)))
		for _, rec := range snapshot.Artifacts {
			lines = append(lines, detailTextStyle.Render(fmt.Sprintf("  %s · %s (%s)", rec.ID, rec.Path, rec.NodeID)))
		}
	}
	return strings.Join(lines, "\n")
}

func summaryLine(counts graph.StatusCounts) string {
	parts := []string{
		labelStyleCompleted.Render(fmt.Sprintf("%d completed", counts.Completed)),
		labelStyleRunning.Render(fmt.Sprintf("%d running", counts.Running)),
		labelStylePending.Render(fmt.Sprintf("%d pending", counts.Pending)),
		labelStyleFailed.Render(fmt.Sprintf("%d failed", counts.Failed)),
		labelStyleSkipped.Render(fmt.Sprintf("%d skipped", counts.Skipped)),
	}
	return fmt.Sprintf("Nodes: %d · %s", counts.Total(), strings.Join(parts, " · "))
}

// nodeRow is a node plus its nesting depth under expanded parents.
type nodeRow struct {
	node  graph.Node
	depth int
}

// nodeRows orders nodes for display: each virtual parent is followed by its
// children, recursively, and everything else keeps snapshot order.
func nodeRows(nodes []graph.Node) []nodeRow {
	byID := make(map[string]graph.Node, len(nodes))
	isChild := map[string]struct{}{}
	for _, node := range nodes {
		byID[node.ID] = node
		for _, child := range node.Children {
			isChild[child] = struct{}{}
		}
	}
	rows := make([]nodeRow, 0, len(nodes))
	emitted := map[string]struct{}{}
	var emit func(node graph.Node, depth int)
	emit = func(node graph.Node, depth int) {
		if _, done := emitted[node.ID]; done {
			return
		}
		emitted[node.ID] = struct{}{}
		rows = append(rows, nodeRow{node: node, depth: depth})
		for _, childID := range node.Children {
			if child, ok := byID[childID]; ok {
				emit(child, depth+1)
			}
		}
	}
	for _, node := range nodes {
		if _, nested := isChild[node.ID]; nested {
			continue
		}
		emit(node, 0)
	}
	for _, node := range nodes {
		emit(node, 0)
	}
	return rows
}

func renderNodeLine(row nodeRow, selected bool) string {
	indicator := " "
	if selected {
		indicator = ">"
	}
	name := row.node.ID
	if title := strings.TrimSpace(row.node.Title); title != "" {
		name = fmt.Sprintf("%s (%s)", row.node.ID, title)
	}
	label := friendlyLabel(string(row.node.Status))
	if label == "" {
		label = "Unknown"
	}
	if row.node.IsVirtual() {
		label += ", Expanded"
	}
	return fmt.Sprintf("%s %s%s · [%s]", indicator, indent(row.depth), name, labelStyleForStatus(row.node.Status).Render(label))
}

func labelStyleForStatus(status graph.Status) lipgloss.Style {
	switch status {
	case graph.StatusCompleted:
		return labelStyleCompleted
	case graph.StatusFailed:
		return labelStyleFailed
	case graph.StatusRunning:
		return labelStyleRunning
	case graph.StatusPending:
		return labelStylePending
	case graph.StatusSkipped:
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}
