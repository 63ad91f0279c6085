package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another controller holds the run lock.
var ErrLocked = errors.New("workspace: run is locked by another controller")

// lockTimeout bounds how long Lock waits for a competing controller.
const lockTimeout = 5 * time.Second

type runLock struct {
	flock *flock.Flock
}

// Lock takes the exclusive run lock. Only one controller may drive a run.
func (w *Workspace) Lock(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lock.flock != nil {
		return nil
	}
	lock := flock.New(filepath.Join(w.root, lockFile))
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLocked, w.runID)
		}
		return fmt.Errorf("workspace: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, w.runID)
	}
	w.lock.flock = lock
	return nil
}

// Unlock releases the run lock. Calling it without holding the lock is a
// no-op.
func (w *Workspace) Unlock() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lock.flock == nil {
		return nil
	}
	err := w.lock.flock.Unlock()
	w.lock.flock = nil
	if err != nil {
		return fmt.Errorf("workspace: release lock: %w", err)
	}
	return nil
}
