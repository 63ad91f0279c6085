package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/weft/internal/artifact"
	"github.com/kingrea/weft/internal/executor"
	"github.com/kingrea/weft/internal/logging"
	"github.com/kingrea/weft/internal/workflow/graph"
	"github.com/kingrea/weft/internal/workflow/scheduler"
	"github.com/kingrea/weft/internal/workspace"
)

// run is the state of one controller loop. Every field is owned by the
// goroutine executing the loop; dispatched executions only communicate
// through the results channel.
type run struct {
	engine      *Engine
	ws          *workspace.Workspace
	store       StateStore
	graph       *graph.Graph
	log         *logging.Logger
	snapshot    workspace.Snapshot
	maxParallel int

	group   errgroup.Group
	results chan settlement

	inFlight      map[string]dispatch
	fired         map[string]struct{}
	seenCompleted map[string]struct{}
	deferred      map[string]struct{}
}

type dispatch struct {
	startedAt time.Time
}

type settlement struct {
	id      string
	outcome executor.Outcome
	err     error
}

// execute runs the tick loop until the graph completes or a fatal condition
// stops it. In-flight executions are always awaited before returning.
func (r *run) execute(ctx context.Context) (workspace.Snapshot, error) {
	r.results = make(chan settlement)
	if r.maxParallel > 0 {
		r.group.SetLimit(r.maxParallel)
	}
	execCtx := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			r.log.Warnf("run interrupted: %v", err)
			return r.stop(err)
		}
		expanded, err := r.fireHooks(ctx)
		if err != nil {
			return r.stop(err)
		}
		if expanded {
			if err := r.persist(); err != nil {
				return r.stop(err)
			}
		}
		if r.graph.IsComplete() && len(r.inFlight) == 0 {
			break
		}
		if len(r.inFlight) == 0 && r.graph.IsStalled() {
			stuck := r.stuckError()
			r.log.Errorf("%v", stuck)
			return r.stop(stuck)
		}

		if r.dispatchReady(execCtx) > 0 {
			if err := r.persist(); err != nil {
				return r.stop(err)
			}
		}
		if len(r.inFlight) == 0 {
			r.sleep(ctx)
			continue
		}

		select {
		case s := <-r.results:
			r.settle(s)
		case <-ctx.Done():
			continue
		}
		if err := r.persist(); err != nil {
			return r.stop(err)
		}
	}

	_ = r.group.Wait()
	counts := r.graph.Counts()
	r.log.Infof("run %s complete: %s", r.ws.RunID(), counts)
	if compiled, err := r.ws.CompileOutputs(); err != nil {
		r.log.Warnf("compile outputs: %v", err)
	} else if len(compiled) > 0 {
		r.log.Infof("compiled %d artifact(s) into %s", len(compiled), r.ws.CompiledDir())
	}
	if err := r.persist(); err != nil {
		return r.snapshot, err
	}
	return r.snapshot, nil
}

// dispatchReady fills free concurrency slots with ready nodes. Each node is
// marked Running before it is handed to the executor.
func (r *run) dispatchReady(execCtx context.Context) int {
	running := make([]string, 0, len(r.inFlight))
	for id := range r.inFlight {
		running = append(running, id)
	}
	batch := scheduler.Select(scheduler.Request{
		Ready:       r.graph.ReadyNodes(),
		MaxParallel: r.maxParallel,
		Running:     running,
	})
	for id, reason := range batch.Skipped {
		if reason.Reason != scheduler.SkipReasonConcurrency {
			continue
		}
		if _, logged := r.deferred[id]; logged {
			continue
		}
		r.deferred[id] = struct{}{}
		r.log.Infof("deferred %s: %s", id, reason.Detail)
	}
	for _, node := range batch.Nodes {
		if err := r.graph.UpdateStatus(node.ID, graph.StatusRunning, ""); err != nil {
			r.log.Errorf("mark %s running: %v", node.ID, err)
			continue
		}
		delete(r.deferred, node.ID)
		r.inFlight[node.ID] = dispatch{startedAt: r.engine.now()}
		r.engine.metrics.nodeDispatched()
		r.log.Infof("dispatched %s", node.ID)

		task := r.task(node)
		id := node.ID
		r.group.Go(func() error {
			outcome, err := executor.Invoke(execCtx, r.engine.exec, task)
			r.results <- settlement{id: id, outcome: outcome, err: err}
			return nil
		})
	}
	return len(batch.Nodes)
}

func (r *run) task(node graph.Node) executor.Task {
	return executor.Task{
		Node:      node,
		WorkDir:   r.ws.NodeWorkDir(node.ID),
		OutputDir: r.ws.OutputDir(node.ID),
		InputDir:  r.ws.InputDir(),
		Readable:  r.ws.ReadablePaths(node),
	}
}

// settle applies one executor outcome to the graph.
func (r *run) settle(s settlement) {
	started := r.inFlight[s.id].startedAt
	delete(r.inFlight, s.id)
	r.engine.metrics.nodeSettled(s.outcome.Status, r.engine.now().Sub(started))
	if s.err != nil {
		r.log.Warnf("%v", s.err)
	}
	if err := r.graph.UpdateStatus(s.id, s.outcome.Status, s.outcome.Error); err != nil {
		r.log.Errorf("record outcome for %s: %v", s.id, err)
		return
	}
	switch s.outcome.Status {
	case graph.StatusCompleted:
		r.log.Infof("completed %s", s.id)
		r.registerOutputs(s.id)
	case graph.StatusFailed:
		r.log.Warnf("failed %s: %s", s.id, s.outcome.Error)
		r.applyFailurePolicy(s.id)
	}
}

func (r *run) applyFailurePolicy(id string) {
	if r.engine.policy != CascadeSkip {
		return
	}
	for _, skipped := range r.graph.SkipDependents(id, fmt.Sprintf("dependency %s failed", id)) {
		r.log.Infof("skipped %s: dependency %s failed", skipped, id)
	}
}

// registerOutputs records every declared output artifact the node left in its
// output directory.
func (r *run) registerOutputs(id string) {
	node, ok := r.graph.Node(id)
	if !ok {
		return
	}
	outputDir := r.ws.OutputDir(id)
	for _, artifactID := range node.Outputs {
		path := filepath.Join(outputDir, filepath.FromSlash(artifactID))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			r.log.Warnf("%s did not produce declared artifact %s", id, artifactID)
			continue
		}
		rel, err := r.ws.Rel(path)
		if err != nil {
			r.log.Warnf("artifact %s: %v", artifactID, err)
			continue
		}
		rec := artifact.Artifact{ID: artifactID, Type: node.Category, Path: rel, NodeID: id}
		if _, err := r.ws.RegisterArtifact(rec); err != nil {
			r.log.Warnf("register artifact %s: %v", artifactID, err)
		}
	}
}

// fireHooks runs matching expansion hooks for nodes newly observed as
// Completed. Each trigger fires at most once per hook. It reports whether any
// hook changed the graph.
func (r *run) fireHooks(ctx context.Context) (bool, error) {
	changed := false
	for _, node := range r.newlyCompleted() {
		for _, hook := range r.engine.hooks {
			if !hook.Matches(node) {
				continue
			}
			key := hookKey(hook, node.ID)
			if _, done := r.fired[key]; done {
				continue
			}
			r.fired[key] = struct{}{}
			applied, err := r.expand(ctx, hook, node)
			if err != nil {
				return changed, err
			}
			changed = changed || applied
		}
	}
	return changed, nil
}

func (r *run) expand(ctx context.Context, hook ExpansionHook, trigger graph.Node) (bool, error) {
	inFlight := make(map[string]struct{}, len(r.inFlight))
	for id := range r.inFlight {
		inFlight[id] = struct{}{}
	}
	m := newMutation(r.graph, r.ws, inFlight)
	err := callHook(ctx, hook, trigger, m)
	m.close()
	if m.changed {
		if verr := r.graph.Err(); verr != nil {
			r.engine.metrics.expansion("invalid")
			r.log.Errorf("graph invalid after %s ran for %s: %v", hook.Name(), trigger.ID, verr)
			return true, verr
		}
	}
	if err != nil {
		r.engine.metrics.expansion("error")
		r.log.Errorf("%s failed for %s: %v", hook.Name(), trigger.ID, err)
		if r.graph.IsVirtual(trigger.ID) {
			return m.changed, nil
		}
		text := fmt.Sprintf("expansion %s: %v", hook.Name(), err)
		if updateErr := r.graph.UpdateStatus(trigger.ID, graph.StatusFailed, text); updateErr != nil {
			r.log.Errorf("mark %s failed: %v", trigger.ID, updateErr)
			return m.changed, nil
		}
		r.applyFailurePolicy(trigger.ID)
		return true, nil
	}
	if !m.changed {
		r.engine.metrics.expansion("noop")
		return false, nil
	}
	r.engine.metrics.expansion("applied")
	r.log.Infof("%s expanded %s: %d node(s) added", hook.Name(), trigger.ID, len(m.added))
	return true, nil
}

func callHook(ctx context.Context, hook ExpansionHook, trigger graph.Node, m *Mutation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return hook.Expand(ctx, trigger, m)
}

// newlyCompleted returns Completed nodes not seen by a previous tick,
// including virtual parents whose status was just derived.
func (r *run) newlyCompleted() []graph.Node {
	var out []graph.Node
	for _, node := range r.graph.Nodes() {
		if node.Status != graph.StatusCompleted {
			continue
		}
		if _, seen := r.seenCompleted[node.ID]; seen {
			continue
		}
		r.seenCompleted[node.ID] = struct{}{}
		out = append(out, node)
	}
	return out
}

// rederiveHooks marks hooks as fired for every Completed trigger whose
// expansion is already present in the loaded graph.
func (r *run) rederiveHooks() {
	view := View{g: r.graph, loc: r.ws}
	for _, node := range r.graph.Nodes() {
		if node.Status != graph.StatusCompleted && !node.IsVirtual() {
			continue
		}
		for _, hook := range r.engine.hooks {
			if !hook.Matches(node) || !hook.Applied(node, view) {
				continue
			}
			r.fired[hookKey(hook, node.ID)] = struct{}{}
			r.log.Infof("%s already applied for %s", hook.Name(), node.ID)
		}
	}
}

func hookKey(hook ExpansionHook, triggerID string) string {
	return hook.Name() + "\x00" + triggerID
}

// stop waits for in-flight executions, records their outcomes, persists a
// final snapshot and returns cause. A graph that failed validation is not
// persisted, so the last valid snapshot stays on disk.
func (r *run) stop(cause error) (workspace.Snapshot, error) {
	if len(r.inFlight) > 0 {
		r.log.Infof("waiting for %d in-flight node(s)", len(r.inFlight))
	}
	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(done)
	}()
	for len(r.inFlight) > 0 {
		r.settle(<-r.results)
	}
	<-done

	var persistErr *PersistError
	var validationErr *graph.ValidationError
	if !errors.As(cause, &persistErr) && !errors.As(cause, &validationErr) {
		if err := r.persist(); err != nil {
			r.log.Errorf("final persist: %v", err)
		}
	}
	return r.snapshot, cause
}

func (r *run) stuckError() *StuckPipelineError {
	blocked := map[string][]string{}
	for _, node := range r.graph.Nodes() {
		if node.Status != graph.StatusPending {
			continue
		}
		if deps := r.graph.BlockedBy(node.ID); len(deps) > 0 {
			blocked[node.ID] = deps
		}
	}
	return &StuckPipelineError{
		Counts:  r.graph.Counts(),
		Failed:  r.graph.FailedIDs(),
		Blocked: blocked,
	}
}

// sleep waits for the idle backoff or until ctx ends.
func (r *run) sleep(ctx context.Context) {
	if r.engine.idleBackoff <= 0 {
		return
	}
	timer := time.NewTimer(r.engine.idleBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
