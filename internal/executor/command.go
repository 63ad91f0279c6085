package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/weft/internal/config"
)

// Environment handed to every command.
const (
	EnvNodeID    = "WEFT_NODE_ID"
	EnvCategory  = "WEFT_CATEGORY"
	EnvWorkDir   = "WEFT_WORK_DIR"
	EnvOutputDir = "WEFT_OUTPUT_DIR"
	EnvInputDir  = "WEFT_INPUT_DIR"
	EnvReadable  = "WEFT_READABLE"
)

// NodeLogFile collects a command's stdout and stderr inside its work dir.
const NodeLogFile = "node.log"

const stderrTailBytes = 2048

// Command runs the shell command configured for a node's category. The node
// description is written to stdin.
type Command struct {
	Shell    string
	Timeout  time.Duration
	Commands map[string]string
	// Env is appended to the controller's environment.
	Env []string
}

// NewCommand builds a Command from the executor section of weft.yaml.
func NewCommand(cfg config.ExecutorConfig) *Command {
	commands := make(map[string]string, len(cfg.Commands))
	for category, script := range cfg.Commands {
		commands[category] = script
	}
	return &Command{Shell: cfg.Shell, Timeout: cfg.Timeout, Commands: commands}
}

func (c *Command) script(category string) (string, bool) {
	if script, ok := c.Commands[category]; ok && strings.TrimSpace(script) != "" {
		return script, true
	}
	script, ok := c.Commands["default"]
	return script, ok && strings.TrimSpace(script) != ""
}

// Execute runs the node's command. A non-zero exit or a timeout yields a
// Failed outcome; an error is returned only when the command cannot start.
func (c *Command) Execute(ctx context.Context, task Task) (Outcome, error) {
	script, ok := c.script(task.Node.Category)
	if !ok {
		return Outcome{}, fmt.Errorf("no command configured for category %q", task.Node.Category)
	}
	for _, dir := range []string{task.WorkDir, task.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Outcome{}, fmt.Errorf("prepare %s: %w", dir, err)
		}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	shell := c.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = task.WorkDir
	cmd.Stdin = strings.NewReader(task.Node.Description)
	cmd.Env = append(append(os.Environ(), c.Env...),
		EnvNodeID+"="+task.Node.ID,
		EnvCategory+"="+task.Node.Category,
		EnvWorkDir+"="+task.WorkDir,
		EnvOutputDir+"="+task.OutputDir,
		EnvInputDir+"="+task.InputDir,
		EnvReadable+"="+strings.Join(task.Readable, string(os.PathListSeparator)),
	)
	cmd.WaitDelay = 2 * time.Second

	stderr := &tailBuffer{limit: stderrTailBytes}
	var logWriter io.Writer = io.Discard
	if task.WorkDir != "" {
		logFile, err := os.OpenFile(filepath.Join(task.WorkDir, NodeLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Outcome{}, fmt.Errorf("open node log: %w", err)
		}
		defer logFile.Close()
		logWriter = logFile
	}
	shared := &lockedWriter{w: logWriter}
	cmd.Stdout = shared
	cmd.Stderr = io.MultiWriter(shared, stderr)

	err := cmd.Run()
	if err == nil {
		return Completed(), nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failed(fmt.Errorf("timed out after %s%s", c.Timeout, stderr.suffix())), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Failed(fmt.Errorf("exit status %d%s", exitErr.ExitCode(), stderr.suffix())), nil
	}
	return Outcome{}, fmt.Errorf("run command: %w", err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) suffix() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := strings.TrimSpace(string(b.data))
	if text == "" {
		return ""
	}
	return ": " + text
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
