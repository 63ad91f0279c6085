package artifact

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func record(id, node string) Artifact {
	return Artifact{
		ID:        id,
		Type:      "table",
		Format:    "csv",
		Path:      "phases/" + node + "/output/" + id + ".csv",
		NodeID:    node,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestManifestUpsertReplacesByID(t *testing.T) {
	m := NewManifest(nil)
	if err := m.Upsert(record("summary", "profile")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.Upsert(record("raw", "ingest")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	replacement := record("summary", "profile")
	replacement.Format = "parquet"
	if err := m.Upsert(replacement); err != nil {
		t.Fatalf("upsert replacement: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 records after replace, got %d", m.Len())
	}
	got, ok := m.Get("summary")
	if !ok || got.Format != "parquet" {
		t.Fatalf("expected replaced summary, got %+v", got)
	}
	if all := m.All(); all[0].ID != "summary" || all[1].ID != "raw" {
		t.Fatalf("replacement should keep original position, got %+v", all)
	}
}

func TestManifestRejectsInvalidRecords(t *testing.T) {
	m := NewManifest(nil)
	cases := map[string]Artifact{
		"missing id":   {Path: "a", NodeID: "n"},
		"missing node": {ID: "a", Path: "a"},
		"missing path": {ID: "a", NodeID: "n"},
		"absolute":     {ID: "a", NodeID: "n", Path: "/etc/passwd"},
		"escapes root": {ID: "a", NodeID: "n", Path: "../outside"},
	}
	for name, rec := range cases {
		if err := m.Upsert(rec); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if m.Len() != 0 {
		t.Fatalf("invalid records must not be stored")
	}
}

func TestManifestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewManifest([]Artifact{record("raw", "ingest"), record("summary", "profile")})
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeManifest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(m.All(), decoded.All()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	empty, err := DecodeManifest(nil)
	if err != nil || empty.Len() != 0 {
		t.Fatalf("expected empty manifest from empty payload, got %v %v", empty, err)
	}
}

func TestParseFrontMatterDecodesHeader(t *testing.T) {
	type header struct {
		Title string   `yaml:"title"`
		Tags  []string `yaml:"tags"`
	}
	content := []byte("---\ntitle: plan\ntags:\n  - a\n  - b\n---\n\n# Body\n")
	if !HasFrontMatter(content) {
		t.Fatalf("expected frontmatter fence")
	}
	var parsed header
	body, err := ParseFrontMatter(content, &parsed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(header{Title: "plan", Tags: []string{"a", "b"}}, parsed); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	if string(body) != "\n# Body\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSplitFrontMatterErrors(t *testing.T) {
	if _, _, err := SplitFrontMatter([]byte("no fence")); !errors.Is(err, ErrMissingFrontMatter) {
		t.Fatalf("expected ErrMissingFrontMatter, got %v", err)
	}
	if _, _, err := SplitFrontMatter([]byte("---\ntitle: x\nbody without close")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected ErrMalformedFrontMatter, got %v", err)
	}
	header, body, err := SplitFrontMatter([]byte("---\r\nid: x\r\n---\r\ntext"))
	if err != nil {
		t.Fatalf("crlf document: %v", err)
	}
	if string(header) != "id: x" || string(body) != "text" {
		t.Fatalf("unexpected split %q / %q", header, body)
	}
}

func TestFormatFromPath(t *testing.T) {
	cases := map[string]string{
		"out/report.MD":  "md",
		"plan.yml":       "yaml",
		"data.csv":       "csv",
		"notes.markdown": "md",
		"no-extension":   "",
	}
	for path, want := range cases {
		if got := FormatFromPath(path); got != want {
			t.Fatalf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
