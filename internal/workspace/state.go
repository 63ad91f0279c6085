package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/weft/internal/artifact"
	"github.com/kingrea/weft/internal/workflow/graph"
)

// ErrStateNotFound is returned when no usable snapshot exists yet. A snapshot
// that cannot be decoded is reported the same way, wrapped with the cause.
var ErrStateNotFound = errors.New("workspace: state not found")

// Snapshot is the complete persisted state of a run.
type Snapshot struct {
	RunID     string              `json:"run_id"`
	Mode      string              `json:"mode,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Nodes     []graph.Node        `json:"nodes"`
	Artifacts []artifact.Artifact `json:"artifacts"`
}

// Counts tallies node statuses in the snapshot.
func (s Snapshot) Counts() graph.StatusCounts {
	return graph.New(s.Nodes).Counts()
}

// SaveState writes the snapshot as a single JSON document, replacing the
// previous one atomically.
func (w *Workspace) SaveState(snapshot Snapshot) error {
	if snapshot.Nodes == nil {
		snapshot.Nodes = []graph.Node{}
	}
	if snapshot.Artifacts == nil {
		snapshot.Artifacts = []artifact.Artifact{}
	}
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encode state: %w", err)
	}
	if err := writeFileAtomic(w.StatePath(), append(encoded, '\n')); err != nil {
		return fmt.Errorf("workspace: save state: %w", err)
	}
	return nil
}

// LoadState reads the last snapshot. It returns ErrStateNotFound when nothing
// has been saved or the document is unreadable.
func (w *Workspace) LoadState() (Snapshot, error) {
	return ReadState(w.StatePath())
}

// ReadState decodes the snapshot stored at path.
func ReadState(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrStateNotFound
		}
		return Snapshot{}, fmt.Errorf("%w: read %s: %v", ErrStateNotFound, path, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode %s: %v", ErrStateNotFound, path, err)
	}
	return snapshot, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
