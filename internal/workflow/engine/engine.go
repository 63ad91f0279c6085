package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/weft/internal/config"
	"github.com/kingrea/weft/internal/executor"
	"github.com/kingrea/weft/internal/logging"
	"github.com/kingrea/weft/internal/workflow/graph"
	"github.com/kingrea/weft/internal/workspace"
)

// FailurePolicy decides what happens to the dependents of a Failed node.
type FailurePolicy string

const (
	// LeaveStuck keeps dependents Pending; the run ends as stuck once no
	// other branch can progress.
	LeaveStuck FailurePolicy = config.PolicyLeaveStuck
	// CascadeSkip marks every transitive Pending dependent Skipped.
	CascadeSkip FailurePolicy = config.PolicyCascadeSkip
)

const (
	defaultMaxParallel     = 4
	defaultIdleBackoff     = 2 * time.Second
	defaultPersistAttempts = 2
)

// Engine runs and resumes pipelines inside a runs directory. One Engine may
// drive several runs; each run gets its own graph and workspace.
type Engine struct {
	runsDir           string
	exec              executor.Executor
	hooks             []ExpansionHook
	maxParallel       int
	idleBackoff       time.Duration
	policy            FailurePolicy
	persistAttempts   int
	persistRetryDelay time.Duration
	routes            []config.Route
	logMirror         io.Writer
	metrics           *Metrics
	storeFor          func(*workspace.Workspace) StateStore
	clock             func() time.Time
	newRunID          func() string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithHooks registers expansion hooks.
func WithHooks(hooks ...ExpansionHook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks...)
	}
}

// WithMaxParallel sets the global concurrency bound. Zero disables it.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxParallel = n
		}
	}
}

// WithIdleBackoff sets the pause used when nothing is ready and nothing runs.
func WithIdleBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.idleBackoff = d
		}
	}
}

// WithFailurePolicy selects how failures propagate to dependents.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(e *Engine) {
		if policy != "" {
			e.policy = policy
		}
	}
}

// WithPersistAttempts sets how many times a snapshot write is tried.
func WithPersistAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.persistAttempts = n
		}
	}
}

// WithPersistRetryDelay sets the pause between snapshot write attempts.
func WithPersistRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.persistRetryDelay = d
		}
	}
}

// WithRoutes sets the workspace layout routes for new and resumed runs.
func WithRoutes(routes []config.Route) Option {
	return func(e *Engine) {
		e.routes = append([]config.Route(nil), routes...)
	}
}

// WithLogMirror copies run log lines to w.
func WithLogMirror(w io.Writer) Option {
	return func(e *Engine) {
		e.logMirror = w
	}
}

// WithMetrics records engine activity.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithStateStore replaces the snapshot store derived from each workspace.
func WithStateStore(fn func(*workspace.Workspace) StateStore) Option {
	return func(e *Engine) {
		if fn != nil {
			e.storeFor = fn
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newRunID = fn
		}
	}
}

// FromConfig applies the engine and layout sections of weft.yaml.
func FromConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg == nil {
			return
		}
		e.maxParallel = cfg.Project.Engine.MaxParallel
		e.idleBackoff = cfg.Project.Engine.IdleBackoff
		e.policy = FailurePolicy(cfg.Project.Engine.FailurePolicy)
		e.persistAttempts = cfg.Project.Engine.PersistAttempts
		e.persistRetryDelay = cfg.Project.Engine.PersistRetryDelay
		e.routes = append([]config.Route(nil), cfg.Project.Layout.Routes...)
	}
}

// New wires an engine to a runs directory and an executor.
func New(runsDir string, exec executor.Executor, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(runsDir) == "" {
		return nil, fmt.Errorf("workflow engine: runs directory is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("workflow engine: executor is required")
	}
	engine := &Engine{
		runsDir:         runsDir,
		exec:            exec,
		maxParallel:     defaultMaxParallel,
		idleBackoff:     defaultIdleBackoff,
		policy:          LeaveStuck,
		persistAttempts: defaultPersistAttempts,
		clock:           time.Now,
		newRunID:        func() string { return uuid.NewString() },
		storeFor: func(ws *workspace.Workspace) StateStore {
			return ws
		},
	}
	for _, opt := range opts {
		opt(engine)
	}
	switch engine.policy {
	case LeaveStuck, CascadeSkip:
	default:
		return nil, fmt.Errorf("workflow engine: unknown failure policy %q", engine.policy)
	}
	return engine, nil
}

// RunRequest starts a fresh run.
type RunRequest struct {
	// RunID names the run directory. Empty generates a UUID.
	RunID string
	Mode  string
	// InputPath is copied into the run's input area before any node runs.
	InputPath string
	// Nodes is the seed set.
	Nodes []graph.Node
	// MaxParallel overrides the engine bound when positive.
	MaxParallel int
}

// ResumeRequest continues an interrupted run.
type ResumeRequest struct {
	RunID       string
	MaxParallel int
}

// Run validates the seed graph, lays out a new workspace and drives the run to
// completion. The returned snapshot reflects the last persisted state even
// when an error is returned.
func (e *Engine) Run(ctx context.Context, req RunRequest) (workspace.Snapshot, error) {
	g := graph.New(req.Nodes, graph.WithClock(e.clock))
	if len(req.Nodes) == 0 {
		return workspace.Snapshot{}, fmt.Errorf("workflow engine: at least one node is required")
	}
	if err := g.Err(); err != nil {
		return workspace.Snapshot{}, err
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = e.newRunID()
	}
	ws, err := workspace.Create(e.runsDir, runID, e.workspaceOptions()...)
	if err != nil {
		return workspace.Snapshot{}, err
	}
	if err := ws.Lock(ctx); err != nil {
		return workspace.Snapshot{}, err
	}
	defer ws.Unlock()

	r, err := e.newRun(ws, g)
	if err != nil {
		return workspace.Snapshot{}, err
	}
	defer r.log.Close()

	now := e.now().UTC()
	r.snapshot = workspace.Snapshot{RunID: runID, Mode: req.Mode, CreatedAt: now}
	r.maxParallel = pickParallel(req.MaxParallel, e.maxParallel)
	r.log.Infof("run %s started: %d seed nodes, max_parallel=%d, policy=%s", runID, g.Len(), r.maxParallel, e.policy)

	if strings.TrimSpace(req.InputPath) != "" {
		if err := ws.ImportInput(req.InputPath); err != nil {
			r.log.Errorf("import input: %v", err)
			return r.snapshot, err
		}
		r.log.Infof("imported input from %s", req.InputPath)
	}
	if err := r.persist(); err != nil {
		return r.snapshot, err
	}
	return r.execute(ctx)
}

// Resume reloads the last snapshot of a run, returns interrupted nodes to
// Pending and re-enters the loop.
func (e *Engine) Resume(ctx context.Context, req ResumeRequest) (workspace.Snapshot, error) {
	ws, err := workspace.Open(e.runsDir, req.RunID, e.workspaceOptions()...)
	if err != nil {
		return workspace.Snapshot{}, err
	}
	if err := ws.Lock(ctx); err != nil {
		return workspace.Snapshot{}, err
	}
	defer ws.Unlock()

	store := e.storeFor(ws)
	snapshot, err := store.LoadState()
	if err != nil {
		if errors.Is(err, workspace.ErrStateNotFound) {
			return workspace.Snapshot{}, fmt.Errorf("workflow engine: resume %s: %w", req.RunID, err)
		}
		return workspace.Snapshot{}, err
	}
	g := graph.New(snapshot.Nodes, graph.WithClock(e.clock))
	if err := g.Err(); err != nil {
		return snapshot, err
	}
	if err := ws.RestoreManifest(snapshot.Artifacts); err != nil {
		return snapshot, err
	}

	r, err := e.newRun(ws, g)
	if err != nil {
		return snapshot, err
	}
	defer r.log.Close()

	r.snapshot = snapshot
	r.maxParallel = pickParallel(req.MaxParallel, e.maxParallel)
	reset := g.ResetInterrupted()
	r.log.Infof("run %s resumed: %d nodes, %d interrupted reset to pending", ws.RunID(), g.Len(), len(reset))
	for _, id := range reset {
		r.log.Infof("reset %s", id)
	}
	r.rederiveHooks()
	if err := r.persist(); err != nil {
		return r.snapshot, err
	}
	return r.execute(ctx)
}

func (e *Engine) newRun(ws *workspace.Workspace, g *graph.Graph) (*run, error) {
	var logOpts []logging.Option
	if e.logMirror != nil {
		logOpts = append(logOpts, logging.WithMirror(e.logMirror))
	}
	logOpts = append(logOpts, logging.WithClock(e.clock))
	logger, err := logging.New(ws.LogsDir(), logOpts...)
	if err != nil {
		return nil, err
	}
	return &run{
		engine:        e,
		ws:            ws,
		store:         e.storeFor(ws),
		graph:         g,
		log:           logger,
		inFlight:      map[string]dispatch{},
		fired:         map[string]struct{}{},
		seenCompleted: map[string]struct{}{},
		deferred:      map[string]struct{}{},
	}, nil
}

func (e *Engine) workspaceOptions() []workspace.Option {
	return []workspace.Option{
		workspace.WithRoutes(e.routes),
		workspace.WithClock(e.clock),
	}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func pickParallel(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}
