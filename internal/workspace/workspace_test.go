package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/weft/internal/artifact"
	"github.com/kingrea/weft/internal/config"
	"github.com/kingrea/weft/internal/workflow/graph"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	routes := []config.Route{{Pattern: "^unit-[0-9]+$", Dir: "units"}}
	ws, err := Create(t.TempDir(), "run-1", WithRoutes(routes), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return ws
}

func TestNodeWorkDirMapping(t *testing.T) {
	ws := newTestWorkspace(t)
	phases := filepath.Join(ws.Root(), PhasesDir)
	cases := map[string]string{
		"ingest":             filepath.Join(phases, "ingest"),
		"build/unit-3":       filepath.Join(phases, "build", "units", "unit-3"),
		"build/unit-3/lint":  filepath.Join(phases, "build", "units", "unit-3", "lint"),
		"build/docs":         filepath.Join(phases, "build", "docs"),
		"build/../../escape": filepath.Join(phases, "build", "_..", "_..", "escape"),
		"/profile//summary/": filepath.Join(phases, "profile", "summary"),
		"build/output":       filepath.Join(phases, "build", "_output"),
		"build/units":        filepath.Join(phases, "build", "_units"),
		"build/_":            filepath.Join(phases, "build", "__"),
		`build/a\b`:          filepath.Join(phases, "build", "a%5Cb"),
	}
	for id, want := range cases {
		assert.Equal(t, want, ws.NodeWorkDir(id), "work dir for %q", id)
		assert.Equal(t, want, ws.NodeWorkDir(id), "mapping must be stable for %q", id)
	}
	assert.Equal(t, filepath.Join(phases, "ingest", OutputDir), ws.OutputDir("ingest"))
	assert.Equal(t, filepath.Join(phases, "build", "docs"), ws.OutputDir("build/docs"))
}

func TestNodePathsAreDistinct(t *testing.T) {
	ws := newTestWorkspace(t)
	ids := []string{
		"a", "a/output", "a/_output", "a/units", "a/unit-1", "a/units/unit-1",
		"a/..", "a/_", "a/_..", `a/x\y`, "a/x_y", "a/x%5Cy", "_", "..",
	}
	seen := map[string]string{}
	claim := func(path, owner string) {
		if prev, ok := seen[path]; ok {
			t.Fatalf("%s and %s both map to %s", prev, owner, path)
		}
		seen[path] = owner
	}
	for _, id := range ids {
		claim(ws.NodeWorkDir(id), "work dir of "+id)
	}
	claim(ws.OutputDir("a"), "output dir of a")
}

func TestReadablePathsUnionIsDeduplicated(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.WriteArtifact(artifact.Artifact{ID: "raw.csv", NodeID: "ingest"}, []byte("a,b\n"))
	require.NoError(t, err)

	node := graph.Node{
		ID:        "report",
		DependsOn: []string{"ingest", "profile/unit-1", "ingest"},
		Inputs:    []string{"raw.csv", "not-yet-written"},
	}
	got := ws.ReadablePaths(node)
	want := []string{
		ws.InputDir(),
		filepath.Join(ws.OutputDir("ingest"), "raw.csv"),
		ws.OutputDir("ingest"),
		filepath.Join(ws.Root(), PhasesDir, "profile", "units", "unit-1"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("readable paths mismatch (-want +got):\n%s", diff)
	}
}

func TestReadablePathsFollowExpansionRewrite(t *testing.T) {
	ws := newTestWorkspace(t)
	g := graph.New([]graph.Node{
		{ID: "plan"},
		{ID: "report", DependsOn: []string{"plan"}},
	})
	require.NoError(t, g.ExpandNode("plan", []graph.Node{
		{ID: "plan/a"},
		{ID: "plan/b", DependsOn: []string{"plan/a"}},
	}))
	report, ok := g.Node("report")
	require.True(t, ok)
	for _, path := range ws.ReadablePaths(report) {
		assert.NotEqual(t, ws.OutputDir("plan"), path)
	}
	assert.Contains(t, ws.ReadablePaths(report), ws.OutputDir("plan/b"))
}

func TestWriteArtifactReplacesByIDAndPersists(t *testing.T) {
	ws := newTestWorkspace(t)
	first, err := ws.WriteArtifact(artifact.Artifact{ID: "summary.md", NodeID: "profile"}, []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, testNow, first.CreatedAt)
	assert.Equal(t, "md", first.Format)
	assert.Equal(t, "phases/profile/output/summary.md", first.Path)

	_, err = ws.WriteArtifact(artifact.Artifact{ID: "summary.md", NodeID: "profile"}, []byte("v2"))
	require.NoError(t, err)
	require.Len(t, ws.Artifacts(), 1)

	content, err := os.ReadFile(filepath.Join(ws.Root(), filepath.FromSlash(first.Path)))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	reopened, err := Open(filepath.Dir(ws.Root()), ws.RunID())
	require.NoError(t, err)
	if diff := cmp.Diff(ws.Artifacts(), reopened.Artifacts()); diff != "" {
		t.Fatalf("manifest not persisted (-want +got):\n%s", diff)
	}
}

func TestRegisterArtifactRequiresFile(t *testing.T) {
	ws := newTestWorkspace(t)
	rec := artifact.Artifact{ID: "notes.txt", NodeID: "ingest", Path: "phases/ingest/output/notes.txt"}
	_, err := ws.RegisterArtifact(rec)
	require.Error(t, err)

	target := filepath.Join(ws.OutputDir("ingest"), "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))
	registered, err := ws.RegisterArtifact(rec)
	require.NoError(t, err)
	assert.Equal(t, "txt", registered.Format)
	_, ok := ws.Artifact("notes.txt")
	assert.True(t, ok)
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.LoadState()
	require.ErrorIs(t, err, ErrStateNotFound)

	started := testNow.Add(time.Minute)
	snapshot := Snapshot{
		RunID:     ws.RunID(),
		Mode:      "batch",
		CreatedAt: testNow,
		UpdatedAt: started,
		Nodes: []graph.Node{
			{ID: "ingest", Status: graph.StatusCompleted, Outputs: []string{"raw.csv"}, StartedAt: &started, CompletedAt: &started},
			{ID: "plan", Status: graph.StatusRunning, StartedAt: &started, Children: []string{"plan/a"}},
			{ID: "plan/a", Status: graph.StatusPending, Inputs: []string{"raw.csv"}},
			{ID: "report", DependsOn: []string{"plan/a"}, Status: graph.StatusPending},
		},
		Artifacts: []artifact.Artifact{{ID: "raw.csv", Format: "csv", Path: "phases/ingest/output/raw.csv", NodeID: "ingest", CreatedAt: testNow}},
	}
	require.NoError(t, ws.SaveState(snapshot))
	loaded, err := ws.LoadState()
	require.NoError(t, err)
	if diff := cmp.Diff(snapshot, loaded); diff != "" {
		t.Fatalf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, graph.StatusCounts{Pending: 2, Running: 1, Completed: 1}, loaded.Counts())
}

func TestLoadStateTreatsCorruptionAsMissing(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(ws.StatePath(), []byte("{not json"), 0o644))
	_, err := ws.LoadState()
	require.ErrorIs(t, err, ErrStateNotFound)
	assert.Contains(t, err.Error(), "decode")
}

func TestCreateRejectsExistingRun(t *testing.T) {
	base := t.TempDir()
	ws, err := Create(base, "run-1")
	require.NoError(t, err)
	require.NoError(t, ws.SaveState(Snapshot{RunID: "run-1"}))
	_, err = Create(base, "run-1")
	require.ErrorIs(t, err, ErrRunExists)

	_, err = Open(base, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
	_, err = Create(base, "../escape")
	require.Error(t, err)
}

func TestImportInputCopiesTreeOnce(t *testing.T) {
	ws := newTestWorkspace(t)
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.csv"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.csv"), []byte("b"), 0o644))

	require.NoError(t, ws.ImportInput(src))
	data, err := os.ReadFile(filepath.Join(ws.InputDir(), "nested", "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
	require.ErrorIs(t, ws.ImportInput(src), ErrInputImported)
}

func TestImportInputSingleFile(t *testing.T) {
	ws := newTestWorkspace(t)
	src := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(src, []byte(`{}`), 0o644))
	require.NoError(t, ws.ImportInput(src))
	_, err := os.Stat(filepath.Join(ws.InputDir(), "input.json"))
	require.NoError(t, err)
}

func TestCompileOutputsCopiesManifest(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.WriteArtifact(artifact.Artifact{ID: "report.md", NodeID: "report"}, []byte("# done"))
	require.NoError(t, err)
	compiled, err := ws.CompileOutputs()
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(ws.CompiledDir(), "report.md")}, compiled)
	data, err := os.ReadFile(compiled[0])
	require.NoError(t, err)
	assert.Equal(t, "# done", string(data))
}

func TestLockIsExclusive(t *testing.T) {
	ws := newTestWorkspace(t)
	require.NoError(t, ws.Lock(context.Background()))
	defer ws.Unlock()

	other, err := Open(filepath.Dir(ws.Root()), ws.RunID())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, other.Lock(ctx), ErrLocked)

	require.NoError(t, ws.Unlock())
	require.NoError(t, other.Lock(context.Background()))
	require.NoError(t, other.Unlock())
}

func TestWatchStateSignalsOnSave(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := WatchState(ctx, ws.StatePath())
	require.NoError(t, err)

	require.NoError(t, ws.SaveState(Snapshot{RunID: ws.RunID()}))
	select {
	case <-updates:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a state update signal")
	}
	cancel()
	for range updates {
	}
}
