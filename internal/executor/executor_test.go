package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/weft/internal/workflow/graph"
)

func shellTask(t *testing.T, category string) Task {
	t.Helper()
	work := filepath.Join(t.TempDir(), "phases", "ingest")
	return Task{
		Node:      graph.Node{ID: "ingest", Category: category, Description: "load the raw rows"},
		WorkDir:   work,
		OutputDir: filepath.Join(work, "output"),
		InputDir:  "/runs/r1/input",
		Readable:  []string{"/runs/r1/input", "/runs/r1/phases/plan/output"},
	}
}

func TestCommandRunsCategoryScript(t *testing.T) {
	cmd := &Command{
		Shell: "/bin/sh",
		Commands: map[string]string{
			"default": "exit 9",
			"ingest":  `cat > "$WEFT_OUTPUT_DIR/desc.txt"; printf '%s|%s' "$WEFT_NODE_ID" "$WEFT_READABLE" > "$WEFT_OUTPUT_DIR/env.txt"`,
		},
	}
	task := shellTask(t, "ingest")
	outcome, err := cmd.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != graph.StatusCompleted {
		t.Fatalf("expected completed, got %+v", outcome)
	}
	desc, err := os.ReadFile(filepath.Join(task.OutputDir, "desc.txt"))
	if err != nil {
		t.Fatalf("read desc: %v", err)
	}
	if string(desc) != "load the raw rows" {
		t.Fatalf("description should arrive on stdin, got %q", desc)
	}
	env, err := os.ReadFile(filepath.Join(task.OutputDir, "env.txt"))
	if err != nil {
		t.Fatalf("read env: %v", err)
	}
	want := "ingest|" + strings.Join(task.Readable, string(os.PathListSeparator))
	if string(env) != want {
		t.Fatalf("env mismatch: got %q want %q", env, want)
	}
}

func TestCommandFallsBackToDefault(t *testing.T) {
	cmd := &Command{Commands: map[string]string{"default": "echo boom >&2; exit 3"}}
	outcome, err := cmd.Execute(context.Background(), shellTask(t, "profile"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != graph.StatusFailed {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if outcome.Error != "exit status 3: boom" {
		t.Fatalf("unexpected error text %q", outcome.Error)
	}
}

func TestCommandWritesNodeLog(t *testing.T) {
	cmd := &Command{Commands: map[string]string{"default": "echo out; echo err >&2"}}
	task := shellTask(t, "")
	if _, err := cmd.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(task.WorkDir, NodeLogFile))
	if err != nil {
		t.Fatalf("read node log: %v", err)
	}
	if !strings.Contains(string(data), "out") || !strings.Contains(string(data), "err") {
		t.Fatalf("expected both streams in node log, got %q", data)
	}
}

func TestCommandTimeout(t *testing.T) {
	cmd := &Command{Timeout: 100 * time.Millisecond, Commands: map[string]string{"default": "sleep 5"}}
	start := time.Now()
	outcome, err := cmd.Execute(context.Background(), shellTask(t, ""))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.Status != graph.StatusFailed || !strings.HasPrefix(outcome.Error, "timed out after 100ms") {
		t.Fatalf("expected timeout failure, got %+v", outcome)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout was not enforced")
	}
}

func TestCommandWithoutScript(t *testing.T) {
	cmd := &Command{Commands: map[string]string{"other": "true"}}
	if _, err := cmd.Execute(context.Background(), shellTask(t, "ingest")); err == nil {
		t.Fatalf("expected error when no command matches")
	}
}

func TestInvokeConvertsMisbehaviour(t *testing.T) {
	task := Task{Node: graph.Node{ID: "n1"}}
	cases := map[string]Executor{
		"error": Func(func(context.Context, Task) (Outcome, error) {
			return Outcome{}, errors.New("container vanished")
		}),
		"panic": Func(func(context.Context, Task) (Outcome, error) {
			panic("nil map")
		}),
		"non-terminal": Func(func(context.Context, Task) (Outcome, error) {
			return Outcome{Status: graph.StatusRunning}, nil
		}),
		"nil executor": nil,
	}
	for name, exec := range cases {
		outcome, err := Invoke(context.Background(), exec, task)
		if outcome.Status != graph.StatusFailed {
			t.Fatalf("%s: expected failed outcome, got %+v", name, outcome)
		}
		var nodeErr *NodeExecutionError
		if !errors.As(err, &nodeErr) || nodeErr.NodeID != "n1" {
			t.Fatalf("%s: expected NodeExecutionError, got %v", name, err)
		}
		if !strings.Contains(outcome.Error, "n1") {
			t.Fatalf("%s: error text should name the node, got %q", name, outcome.Error)
		}
	}
}

func TestInvokePassesThroughOutcomes(t *testing.T) {
	ok := Func(func(context.Context, Task) (Outcome, error) { return Completed(), nil })
	outcome, err := Invoke(context.Background(), ok, Task{Node: graph.Node{ID: "a"}})
	if err != nil || outcome.Status != graph.StatusCompleted {
		t.Fatalf("expected completed, got %+v %v", outcome, err)
	}
	failed := Func(func(context.Context, Task) (Outcome, error) {
		return Outcome{Status: graph.StatusFailed}, nil
	})
	outcome, err = Invoke(context.Background(), failed, Task{Node: graph.Node{ID: "b"}})
	if err != nil || outcome.Status != graph.StatusFailed || outcome.Error != "failed" {
		t.Fatalf("expected reported failure with default text, got %+v %v", outcome, err)
	}
}
