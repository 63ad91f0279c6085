// Package workspace maps a run onto the filesystem: per-node work and output
// directories, the readable path set handed to executors, the artifact
// manifest, the run snapshot and the run lock.
//
// Layout of one run:
//
//	<runs>/<run-id>/
//	├── input/                 <- imported once before any node runs
//	├── phases/<bucket>/...    <- node work and output directories
//	├── artifacts/manifest.yaml
//	├── compiled/              <- manifest artifacts copied at completion
//	├── logs/engine.log
//	└── state.json             <- run snapshot
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/weft/internal/artifact"
	"github.com/kingrea/weft/internal/config"
	"github.com/kingrea/weft/internal/workflow/graph"
)

const (
	InputDir     = "input"
	PhasesDir    = "phases"
	ArtifactsDir = "artifacts"
	ManifestFile = "manifest.yaml"
	CompiledDir  = "compiled"
	LogsDir      = "logs"
	StateFile    = "state.json"
	OutputDir    = "output"
	lockFile     = ".lock"
)

var (
	// ErrRunExists is returned by Create when the run directory already holds
	// a snapshot.
	ErrRunExists = errors.New("workspace: run already exists")
	// ErrRunNotFound is returned by Open when the run directory is missing.
	ErrRunNotFound = errors.New("workspace: run not found")
	// ErrInputImported is returned when ImportInput is called twice.
	ErrInputImported = errors.New("workspace: input already imported")
)

// Workspace is the on-disk surface of a single run. One Workspace must not be
// shared between runs.
type Workspace struct {
	runID  string
	root   string
	routes []config.Route
	clock  func() time.Time

	mu       sync.Mutex
	manifest *artifact.Manifest
	lock     runLock
}

// Option customizes a Workspace.
type Option func(*Workspace)

// WithRoutes sets the second-segment routes used by NodeWorkDir.
func WithRoutes(routes []config.Route) Option {
	return func(w *Workspace) {
		w.routes = append([]config.Route(nil), routes...)
	}
}

// WithClock overrides the time source used for artifact timestamps.
func WithClock(clock func() time.Time) Option {
	return func(w *Workspace) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// Create lays out a fresh run directory under baseDir.
func Create(baseDir, runID string, opts ...Option) (*Workspace, error) {
	w, err := newWorkspace(baseDir, runID, opts)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(w.StatePath()); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}
	dirs := []string{
		filepath.Join(w.root, InputDir),
		filepath.Join(w.root, PhasesDir),
		filepath.Join(w.root, ArtifactsDir),
		filepath.Join(w.root, CompiledDir),
		filepath.Join(w.root, LogsDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}
	w.manifest = artifact.NewManifest(nil)
	if err := w.saveManifestLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Open attaches to an existing run directory and loads its manifest.
func Open(baseDir, runID string, opts ...Option) (*Workspace, error) {
	w, err := newWorkspace(baseDir, runID, opts)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(w.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	data, err := os.ReadFile(w.ManifestPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("workspace: read manifest: %w", err)
	}
	manifest, err := artifact.DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	w.manifest = manifest
	return w, nil
}

func newWorkspace(baseDir, runID string, opts []Option) (*Workspace, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return nil, fmt.Errorf("workspace: invalid run id %q", runID)
	}
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("workspace: base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", baseDir, err)
	}
	w := &Workspace{
		runID: runID,
		root:  filepath.Join(abs, runID),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RunID returns the run identifier.
func (w *Workspace) RunID() string { return w.runID }

// Root returns the run directory.
func (w *Workspace) Root() string { return w.root }

// InputDir returns the global input area.
func (w *Workspace) InputDir() string { return filepath.Join(w.root, InputDir) }

// LogsDir returns the directory holding the run log.
func (w *Workspace) LogsDir() string { return filepath.Join(w.root, LogsDir) }

// CompiledDir returns the final output area.
func (w *Workspace) CompiledDir() string { return filepath.Join(w.root, CompiledDir) }

// ManifestPath returns the manifest file location.
func (w *Workspace) ManifestPath() string {
	return filepath.Join(w.root, ArtifactsDir, ManifestFile)
}

// StatePath returns the snapshot file location.
func (w *Workspace) StatePath() string { return filepath.Join(w.root, StateFile) }

// NodeWorkDir maps a slash-delimited node id onto its work directory. The first
// segment picks the bucket under phases/. A second segment matching a layout
// route is nested under the route's directory; anything else mirrors the id.
// The mapping depends only on the id and never maps two ids, or a node's work
// directory and another node's output directory, onto the same path.
func (w *Workspace) NodeWorkDir(id string) string {
	segments := idSegments(id)
	if len(segments) == 0 {
		return filepath.Join(w.root, PhasesDir, "_")
	}
	parts := []string{w.root, PhasesDir, escapeSegment(segments[0], false)}
	if len(segments) > 1 {
		routed := false
		for _, route := range w.routes {
			if route.Match(segments[1]) {
				parts = append(parts, filepath.FromSlash(route.Dir))
				routed = true
				break
			}
		}
		for i, seg := range segments[1:] {
			reserved := seg == OutputDir || (i == 0 && !routed && w.isRouteDir(seg))
			parts = append(parts, escapeSegment(seg, reserved))
		}
	}
	return filepath.Join(parts...)
}

func (w *Workspace) isRouteDir(seg string) bool {
	for _, route := range w.routes {
		if route.Dir == seg {
			return true
		}
	}
	return false
}

// OutputDir returns where node id writes its outputs. Top-level nodes write
// into an output/ subfolder; nested nodes own their whole work directory.
func (w *Workspace) OutputDir(id string) string {
	work := w.NodeWorkDir(id)
	if len(idSegments(id)) <= 1 {
		return filepath.Join(work, OutputDir)
	}
	return work
}

// ReadablePaths is the set of locations node may read: the input area, every
// declared input artifact already in the manifest, and the output directory of
// each dependency. Order is stable and entries are unique.
func (w *Workspace) ReadablePaths(node graph.Node) []string {
	seen := make(map[string]struct{})
	var paths []string
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	add(w.InputDir())
	for _, id := range node.Inputs {
		if rec, ok := w.Artifact(id); ok {
			add(w.abs(rec.Path))
		}
	}
	for _, dep := range node.DependsOn {
		add(w.OutputDir(dep))
	}
	return paths
}

// Rel converts an absolute path inside the run into a slash-separated path
// relative to the run root.
func (w *Workspace) Rel(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: %s is outside the run", path)
	}
	return filepath.ToSlash(rel), nil
}

func (w *Workspace) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// idSegments splits an id on "/" and drops empty segments.
func idSegments(id string) []string {
	var segments []string
	for _, seg := range strings.Split(id, "/") {
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

var segmentEscaper = strings.NewReplacer("%", "%25", `\`, "%5C")

// escapeSegment turns one id segment into a directory name. Segments that
// would escape the run, collide with a reserved name, or start with the
// escape prefix get a leading "_".
func escapeSegment(seg string, reserved bool) string {
	seg = segmentEscaper.Replace(seg)
	if reserved || seg == "." || seg == ".." || strings.HasPrefix(seg, "_") {
		return "_" + seg
	}
	return seg
}
