// Package executor defines the boundary between the engine and whatever runs
// a node. An Executor receives a node plus the directories it may touch and
// eventually reports Completed or Failed. Invoke wraps any Executor so that
// errors and panics become a Failed outcome instead of reaching the engine.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kingrea/weft/internal/workflow/graph"
)

// Task is everything an executor receives for one dispatch.
type Task struct {
	Node      graph.Node
	WorkDir   string
	OutputDir string
	InputDir  string
	// Readable is the permission set: the only locations the node may read.
	Readable []string
}

// Outcome is the terminal result of a dispatch.
type Outcome struct {
	Status graph.Status
	Error  string
}

// Completed reports success.
func Completed() Outcome {
	return Outcome{Status: graph.StatusCompleted}
}

// Failed reports failure with err as the node error text.
func Failed(err error) Outcome {
	text := "failed"
	if err != nil {
		text = err.Error()
	}
	return Outcome{Status: graph.StatusFailed, Error: text}
}

// Executor runs a single node.
type Executor interface {
	Execute(ctx context.Context, task Task) (Outcome, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, task Task) (Outcome, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, task Task) (Outcome, error) {
	return f(ctx, task)
}

// NodeExecutionError describes an executor misbehaving for one node: a
// returned error, a panic or a non-terminal status.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("executor: node %s: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// Invoke runs exec for task and always returns a terminal outcome. The second
// return value carries the NodeExecutionError when the executor misbehaved so
// the caller can log it.
func Invoke(ctx context.Context, exec Executor, task Task) (outcome Outcome, execErr error) {
	defer func() {
		if r := recover(); r != nil {
			execErr = &NodeExecutionError{NodeID: task.Node.ID, Err: fmt.Errorf("panic: %v", r)}
			outcome = Failed(execErr)
		}
	}()
	if exec == nil {
		execErr = &NodeExecutionError{NodeID: task.Node.ID, Err: fmt.Errorf("no executor configured")}
		return Failed(execErr), execErr
	}
	result, err := exec.Execute(ctx, task)
	if err != nil {
		execErr = &NodeExecutionError{NodeID: task.Node.ID, Err: err}
		return Failed(execErr), execErr
	}
	switch result.Status {
	case graph.StatusCompleted:
		return Outcome{Status: graph.StatusCompleted}, nil
	case graph.StatusFailed:
		if strings.TrimSpace(result.Error) == "" {
			result.Error = "failed"
		}
		return result, nil
	default:
		execErr = &NodeExecutionError{NodeID: task.Node.ID, Err: fmt.Errorf("non-terminal status %q", result.Status)}
		return Failed(execErr), execErr
	}
}
