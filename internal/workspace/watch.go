package workspace

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchState emits a signal whenever the snapshot file at statePath is
// replaced. Snapshots are written by rename, so the parent directory is
// watched rather than the file itself. The channel closes when ctx ends.
func WatchState(ctx context.Context, statePath string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workspace: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(statePath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("workspace: watch %s: %w", filepath.Dir(statePath), err)
	}
	target := filepath.Clean(statePath)
	updates := make(chan struct{}, 1)
	go func() {
		defer close(updates)
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				select {
				case updates <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, nil
}
