package engine

import (
	"time"

	"github.com/kingrea/weft/internal/workspace"
)

// StateStore persists run snapshots. *workspace.Workspace satisfies it.
type StateStore interface {
	LoadState() (workspace.Snapshot, error)
	SaveState(workspace.Snapshot) error
}

// persist writes the run's current snapshot, retrying up to the configured
// number of attempts before reporting a PersistError.
func (r *run) persist() error {
	r.snapshot.UpdatedAt = r.engine.now().UTC()
	r.snapshot.Nodes = r.graph.Nodes()
	r.snapshot.Artifacts = r.ws.Artifacts()

	attempts := r.engine.persistAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = r.store.SaveState(r.snapshot); err == nil {
			return nil
		}
		r.engine.metrics.persistFailed()
		r.log.Warnf("persist attempt %d/%d failed: %v", attempt, attempts, err)
		if attempt < attempts && r.engine.persistRetryDelay > 0 {
			time.Sleep(r.engine.persistRetryDelay)
		}
	}
	r.log.Errorf("snapshot could not be persisted; stopping run")
	return &PersistError{Attempts: attempts, Err: err}
}
