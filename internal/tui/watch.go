// Package tui renders run state for people: a static summary for the status
// command and a live bubbletea view that follows a run while its controller
// persists snapshots.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/weft/internal/logging"
	"github.com/kingrea/weft/internal/workspace"
)

const logTailLines = 8

// Watcher is a bubbletea model following one run directory. It reloads the
// snapshot whenever updates fires and shows the tail of the engine log.
type Watcher struct {
	statePath string
	logPath   string
	updates   <-chan struct{}

	snapshot workspace.Snapshot
	loaded   bool
	err      error
	logLines []string
	closed   bool

	selection int
	width     int
	spinner   spinner.Model
}

type snapshotMsg struct {
	snapshot workspace.Snapshot
	logLines []string
	err      error
}

type stateChangedMsg struct{}

type watchClosedMsg struct{}

// NewWatcher builds a watcher for the snapshot at statePath. updates is
// typically the channel returned by workspace.WatchState; a nil channel only
// reloads on demand.
func NewWatcher(statePath, logPath string, updates <-chan struct{}) *Watcher {
	return &Watcher{
		statePath: statePath,
		logPath:   logPath,
		updates:   updates,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// Init loads the first snapshot and starts listening for changes.
func (w *Watcher) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.load(), w.waitForChange())
}

// Update handles key presses, reloads and spinner ticks.
func (w *Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		w.width = m.Width
		return w, nil
	case tea.KeyMsg:
		return w, w.handleKey(m)
	case snapshotMsg:
		if m.err != nil {
			w.err = m.err
			return w, nil
		}
		w.err = nil
		w.loaded = true
		w.snapshot = m.snapshot
		w.logLines = m.logLines
		if rows := len(w.snapshot.Nodes); w.selection >= rows {
			w.selection = max(0, rows-1)
		}
		return w, nil
	case stateChangedMsg:
		return w, tea.Batch(w.load(), w.waitForChange())
	case watchClosedMsg:
		w.closed = true
		return w, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(m)
		return w, cmd
	}
	return w, nil
}

func (w *Watcher) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		return tea.Quit
	case "up", "k":
		if w.selection > 0 {
			w.selection--
		}
	case "down", "j":
		if w.selection < len(w.snapshot.Nodes)-1 {
			w.selection++
		}
	case "r":
		return w.load()
	}
	return nil
}

// View renders the board.
func (w *Watcher) View() string {
	header := headerStyle.MarginBottom(1).Render("⬡ WEFT")
	var body string
	switch {
	case w.err != nil:
		body = fmt.Sprintf("Snapshot error: %v", w.err)
	case !w.loaded:
		body = w.spinner.View() + " Waiting for run state…"
	default:
		body = w.renderRun()
	}
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)
	if w.width > 0 {
		boxStyle = boxStyle.Width(max(40, w.width-4))
	}
	box := boxStyle.Render(body)
	sections := []string{header, box}
	if panel := w.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	footer := "↑/↓ select  r=reload  q=quit"
	if w.closed {
		footer += " · watch stopped"
	}
	sections = append(sections, detailTextStyle.MarginTop(1).Render(footer))
	return strings.Join(sections, "\n")
}

func (w *Watcher) renderRun() string {
	counts := w.snapshot.Counts()
	title := fmt.Sprintf("Run %s", w.snapshot.RunID)
	if w.snapshot.Mode != "" {
		title += " · " + w.snapshot.Mode
	}
	if counts.Running > 0 || counts.Pending > 0 {
		title = w.spinner.View() + " " + title
	}
	lines := []string{title, summaryLine(counts), ""}
	for i, row := range nodeRows(w.snapshot.Nodes) {
		selected := i == w.selection
		lines = append(lines, renderNodeLine(row, selected))
		if selected {
			lines = append(lines, renderNodeDetails(row))
		}
	}
	return strings.Join(lines, "\n")
}

func renderNodeDetails(row nodeRow) string {
	node := row.node
	var details []string
	if node.Category != "" {
		details = append(details, "Category: "+node.Category)
	}
	if node.Description != "" {
		details = append(details, strings.TrimSpace(node.Description))
	}
	if len(node.DependsOn) > 0 {
		details = append(details, "Depends on: "+strings.Join(node.DependsOn, ", "))
	}
	if len(node.Children) > 0 {
		details = append(details, "Children: "+strings.Join(node.Children, ", "))
	}
	if node.Error != "" {
		details = append(details, "Error: "+node.Error)
	}
	if len(details) == 0 {
		return detailTextStyle.Render("  no additional details")
	}
	pad := indent(row.depth + 1)
	return detailTextStyle.Render(pad + strings.Join(details, "\n"+pad))
}

func (w *Watcher) renderLogPanel() string {
	if len(w.logLines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", filepath.Base(w.logPath)))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(w.logLines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (w *Watcher) load() tea.Cmd {
	statePath, logPath := w.statePath, w.logPath
	return func() tea.Msg {
		snapshot, err := workspace.ReadState(statePath)
		if err != nil {
			return snapshotMsg{err: err}
		}
		var lines []string
		if logPath != "" {
			lines = logging.Tail(logPath, logTailLines)
		}
		return snapshotMsg{snapshot: snapshot, logLines: lines}
	}
}

func (w *Watcher) waitForChange() tea.Cmd {
	if w.updates == nil {
		return nil
	}
	updates := w.updates
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return watchClosedMsg{}
		}
		return stateChangedMsg{}
	}
}
