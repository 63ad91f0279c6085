package graph

import (
	"fmt"
	"time"
)

// Status enumerates the lifecycle states of a node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is a final resolution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Satisfies reports whether a dependency in this status unblocks dependents.
func (s Status) Satisfies() bool {
	return s == StatusCompleted || s == StatusSkipped
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Node is a unit of scheduled work. The engine never interprets Category,
// Title or Description; they are carried for the executor and for display.
type Node struct {
	ID          string     `json:"id"`
	Category    string     `json:"category,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      Status     `json:"status"`
	Outputs     []string   `json:"output_artifacts,omitempty"`
	Inputs      []string   `json:"input_artifacts,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	// Children lists the ids of the subgraph this node was expanded into.
	// A node with children is a virtual parent.
	Children []string `json:"children,omitempty"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	clone := n
	clone.DependsOn = cloneStrings(n.DependsOn)
	clone.Outputs = cloneStrings(n.Outputs)
	clone.Inputs = cloneStrings(n.Inputs)
	clone.Children = cloneStrings(n.Children)
	clone.StartedAt = cloneTime(n.StartedAt)
	clone.CompletedAt = cloneTime(n.CompletedAt)
	return clone
}

// IsVirtual reports whether the node has been expanded into children.
func (n Node) IsVirtual() bool {
	return len(n.Children) > 0
}

// StatusCounts tallies nodes per status.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Total returns the number of nodes counted.
func (c StatusCounts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Skipped
}

func (c StatusCounts) String() string {
	return fmt.Sprintf("pending=%d running=%d completed=%d failed=%d skipped=%d",
		c.Pending, c.Running, c.Completed, c.Failed, c.Skipped)
}

func (c *StatusCounts) add(status Status) {
	switch status {
	case StatusPending:
		c.Pending++
	case StatusRunning:
		c.Running++
	case StatusCompleted:
		c.Completed++
	case StatusFailed:
		c.Failed++
	case StatusSkipped:
		c.Skipped++
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
