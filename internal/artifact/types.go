// Package artifact defines the records nodes produce and the manifest that
// indexes them. Each artifact has a run-unique identifier, opaque type and
// format tags, and a storage path relative to the run root.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Artifact is a named, typed, path-located output produced by exactly one
// node.
type Artifact struct {
	ID        string    `json:"id" yaml:"id"`
	Type      string    `json:"type,omitempty" yaml:"type,omitempty"`
	Format    string    `json:"format,omitempty" yaml:"format,omitempty"`
	Path      string    `json:"path" yaml:"path"`
	NodeID    string    `json:"node_id" yaml:"node_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Validate ensures the record is well-formed and its path stays inside the
// run root.
func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("artifact: id is required")
	}
	if strings.TrimSpace(a.NodeID) == "" {
		return fmt.Errorf("artifact: producing node is required for %s", a.ID)
	}
	if strings.TrimSpace(a.Path) == "" {
		return fmt.Errorf("artifact: path is required for %s", a.ID)
	}
	if filepath.IsAbs(a.Path) {
		return fmt.Errorf("artifact: path for %s must be relative to the run root", a.ID)
	}
	clean := filepath.Clean(filepath.FromSlash(a.Path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("artifact: path for %s escapes the run root", a.ID)
	}
	return nil
}

// FormatFromPath guesses a format tag from the file extension.
func FormatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yml":
		return "yaml"
	case "markdown":
		return "md"
	}
	return ext
}
