package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/weft/internal/artifact"
)

// Artifact looks up a manifest record by id.
func (w *Workspace) Artifact(id string) (artifact.Artifact, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest.Get(id)
}

// Artifacts returns every manifest record in registration order.
func (w *Workspace) Artifacts() []artifact.Artifact {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest.All()
}

// WriteArtifact writes content for rec, stamps its creation time, upserts it
// into the manifest and re-persists the manifest. An empty Path defaults to
// <output dir of producer>/<id>.
func (w *Workspace) WriteArtifact(rec artifact.Artifact, content []byte) (artifact.Artifact, error) {
	if strings.TrimSpace(rec.Path) == "" && rec.NodeID != "" && rec.ID != "" {
		rel, err := w.Rel(filepath.Join(w.OutputDir(rec.NodeID), filepath.FromSlash(rec.ID)))
		if err != nil {
			return artifact.Artifact{}, err
		}
		rec.Path = rel
	}
	if rec.Format == "" {
		rec.Format = artifact.FormatFromPath(rec.Path)
	}
	if err := rec.Validate(); err != nil {
		return artifact.Artifact{}, err
	}
	target := w.abs(rec.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return artifact.Artifact{}, fmt.Errorf("workspace: ensure artifact dir: %w", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return artifact.Artifact{}, fmt.Errorf("workspace: write artifact %s: %w", rec.ID, err)
	}
	rec.CreatedAt = w.clock().UTC()
	return rec, w.upsert(rec)
}

// RegisterArtifact records an artifact whose content a node already wrote.
func (w *Workspace) RegisterArtifact(rec artifact.Artifact) (artifact.Artifact, error) {
	if rec.Format == "" {
		rec.Format = artifact.FormatFromPath(rec.Path)
	}
	if err := rec.Validate(); err != nil {
		return artifact.Artifact{}, err
	}
	info, err := os.Stat(w.abs(rec.Path))
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("workspace: register artifact %s: %w", rec.ID, err)
	}
	if info.IsDir() {
		return artifact.Artifact{}, fmt.Errorf("workspace: register artifact %s: %s is a directory", rec.ID, rec.Path)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = w.clock().UTC()
	}
	return rec, w.upsert(rec)
}

// RestoreManifest merges records from a snapshot into the manifest. It is
// used on resume when the manifest file is missing or older than the snapshot.
func (w *Workspace) RestoreManifest(records []artifact.Artifact) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := false
	for _, rec := range records {
		if _, ok := w.manifest.Get(rec.ID); ok {
			continue
		}
		if err := w.manifest.Upsert(rec); err != nil {
			return fmt.Errorf("workspace: restore manifest: %w", err)
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return w.saveManifestLocked()
}

// CompileOutputs copies every manifest artifact into compiled/<id> and returns
// the written paths.
func (w *Workspace) CompileOutputs() ([]string, error) {
	records := w.Artifacts()
	compiled := make([]string, 0, len(records))
	for _, rec := range records {
		dest := filepath.Join(w.CompiledDir(), filepath.FromSlash(rec.ID))
		if _, err := w.Rel(dest); err != nil {
			return compiled, fmt.Errorf("workspace: compile %s: %w", rec.ID, err)
		}
		if err := copyFile(w.abs(rec.Path), dest); err != nil {
			return compiled, fmt.Errorf("workspace: compile %s: %w", rec.ID, err)
		}
		compiled = append(compiled, dest)
	}
	return compiled, nil
}

func (w *Workspace) upsert(rec artifact.Artifact) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.manifest.Upsert(rec); err != nil {
		return err
	}
	return w.saveManifestLocked()
}

func (w *Workspace) saveManifestLocked() error {
	data, err := w.manifest.Encode()
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := writeFileAtomic(w.ManifestPath(), data); err != nil {
		return fmt.Errorf("workspace: save manifest: %w", err)
	}
	return nil
}
