package plan

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/weft/internal/workflow"
)

func TestParseAcceptsEveryPlanShape(t *testing.T) {
	want := []workflow.NodeSpec{
		{ID: "units/unit-1", Category: "unit", Title: "First"},
		{ID: "units/unit-2", Category: "unit", DependsOn: []string{"units/unit-1"}, Outputs: []string{"unit-2.md"}},
	}
	cases := map[string]struct {
		name string
		data string
	}{
		"yaml list": {
			name: "plan.yaml",
			data: `
- id: units/unit-1
  category: unit
  title: First
- id: units/unit-2
  category: unit
  depends_on: [units/unit-1]
  output_artifacts: [unit-2.md]
`,
		},
		"yaml mapping": {
			name: "plan.yml",
			data: `
nodes:
  - id: " units/unit-1 "
    category: unit
    title: First
  - id: units/unit-2
    category: unit
    depends_on: [units/unit-1]
    output_artifacts: [unit-2.md]
`,
		},
		"json": {
			name: "plan.json",
			data: `{"nodes":[{"id":"units/unit-1","category":"unit","title":"First"},` +
				`{"id":"units/unit-2","category":"unit","depends_on":["units/unit-1"],"output_artifacts":["unit-2.md"]}]}`,
		},
		"toml": {
			name: "plan.toml",
			data: `
[[nodes]]
id = "units/unit-1"
category = "unit"
title = "First"

[[nodes]]
id = "units/unit-2"
category = "unit"
depends_on = ["units/unit-1"]
output_artifacts = ["unit-2.md"]
`,
		},
		"markdown front matter": {
			name: "PLAN.md",
			data: `---
nodes:
  - id: units/unit-1
    category: unit
    title: First
  - id: units/unit-2
    category: unit
    depends_on: [units/unit-1]
    output_artifacts: [unit-2.md]
---

# Plan

Two units.
`,
		},
		"markdown fenced block": {
			name: "plan.md",
			data: "# Plan\n\n```json\n" +
				`[{"id":"units/unit-1","category":"unit","title":"First"},` +
				`{"id":"units/unit-2","category":"unit","depends_on":["units/unit-1"],"output_artifacts":["unit-2.md"]}]` +
				"\n```\n",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := Parse([]byte(tc.data), tc.name)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(want, doc.Nodes); diff != "" {
				t.Fatalf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRejectsBadPlans(t *testing.T) {
	cases := map[string]struct {
		name string
		data string
		want string
	}{
		"empty":        {name: "plan.yaml", data: "  \n", want: "no node records"},
		"empty list":   {name: "plan.yaml", data: "nodes: []\n", want: "no node records"},
		"missing id":   {name: "plan.yaml", data: "- category: unit\n", want: "ID"},
		"duplicate id": {name: "plan.yaml", data: "- id: a\n- id: a\n", want: "duplicate record id a"},
		"bad id":       {name: "plan.yaml", data: "- id: a/../b\n", want: "ID"},
		"scalar":       {name: "plan.yaml", data: "just text\n", want: "expected a list"},
		"no fence":     {name: "plan.md", data: "# nothing here\n", want: "neither front matter"},
		"empty header": {name: "plan.md", data: "---\n---\nbody\n", want: "no node records"},
		"open header":  {name: "plan.md", data: "---\n- id: a\n", want: "malformed frontmatter"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data), tc.name)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if _, err := Parse(nil, "plan.yaml"); !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("expected ErrEmptyPlan, got %v", err)
	}
}

func TestLoadWrapsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected read error naming the path, got %v", err)
	}
	if err := os.WriteFile(path, []byte("- id: a\n"), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, doc.IDs()); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}
