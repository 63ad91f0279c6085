// Package plan reads the structured plans written by planning nodes and turns
// them into expansion hooks. A plan is a list of node records; it may be a
// YAML or JSON document, a TOML file with [[nodes]] tables, or a markdown file
// carrying the records in its front matter or in its first fenced code block.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/weft/internal/artifact"
	"github.com/kingrea/weft/internal/workflow"
	"github.com/kingrea/weft/internal/workflow/graph"
)

// ErrEmptyPlan is returned when a plan holds no records.
var ErrEmptyPlan = errors.New("plan: no node records")

// Document is a decoded plan.
type Document struct {
	Nodes []workflow.NodeSpec `json:"nodes" yaml:"nodes" toml:"nodes"`
}

// GraphNodes converts the records into Pending graph nodes.
func (d Document) GraphNodes() []graph.Node {
	return workflow.Nodes(d.Nodes)
}

// IDs lists the record ids in declaration order.
func (d Document) IDs() []string {
	ids := make([]string, 0, len(d.Nodes))
	for _, spec := range d.Nodes {
		ids = append(ids, spec.ID)
	}
	return ids
}

// Load reads and parses the plan at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("plan: read %s: %w", path, err)
	}
	doc, err := Parse(data, filepath.Base(path))
	if err != nil {
		return Document{}, fmt.Errorf("plan: %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes plan content. name only selects the decoder by extension.
func Parse(data []byte, name string) (Document, error) {
	var (
		doc Document
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		doc, err = parseMarkdown(data)
	case ".toml":
		_, err = toml.Decode(string(data), &doc)
	default:
		doc, err = parseYAML(data)
	}
	if err != nil {
		return Document{}, err
	}
	return normalize(doc)
}

// parseYAML accepts either a bare list of records or a mapping with a nodes
// key. JSON documents decode through the same path.
func parseYAML(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, ErrEmptyPlan
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Document{}, fmt.Errorf("plan: decode: %w", err)
	}
	return decodeRecords(&root)
}

func decodeRecords(root *yaml.Node) (Document, error) {
	body := root
	if body.Kind == yaml.DocumentNode && len(body.Content) > 0 {
		body = body.Content[0]
	}
	var doc Document
	switch body.Kind {
	case 0:
		return Document{}, ErrEmptyPlan
	case yaml.SequenceNode:
		if err := body.Decode(&doc.Nodes); err != nil {
			return Document{}, fmt.Errorf("plan: decode records: %w", err)
		}
	case yaml.MappingNode:
		if err := body.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("plan: decode records: %w", err)
		}
	default:
		return Document{}, fmt.Errorf("plan: expected a list of records or a nodes mapping")
	}
	return doc, nil
}

func parseMarkdown(data []byte) (Document, error) {
	if artifact.HasFrontMatter(data) {
		var root yaml.Node
		if _, err := artifact.ParseFrontMatter(data, &root); err != nil {
			return Document{}, fmt.Errorf("plan: %w", err)
		}
		return decodeRecords(&root)
	}
	block, ok := firstFencedBlock(data)
	if !ok {
		return Document{}, fmt.Errorf("plan: markdown plan has neither front matter nor a fenced block")
	}
	return parseYAML(block)
}

// firstFencedBlock returns the body of the first ``` block.
func firstFencedBlock(data []byte) ([]byte, bool) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		if start < 0 {
			start = i + 1
			continue
		}
		return []byte(strings.Join(lines[start:i], "\n")), true
	}
	return nil, false
}

func normalize(doc Document) (Document, error) {
	if len(doc.Nodes) == 0 {
		return Document{}, ErrEmptyPlan
	}
	seen := make(map[string]struct{}, len(doc.Nodes))
	for i := range doc.Nodes {
		doc.Nodes[i] = doc.Nodes[i].Normalized()
		id := doc.Nodes[i].ID
		if _, dup := seen[id]; dup && id != "" {
			return Document{}, fmt.Errorf("plan: duplicate record id %s", id)
		}
		seen[id] = struct{}{}
	}
	if err := workflow.ValidateSpecs(doc.Nodes); err != nil {
		return Document{}, fmt.Errorf("plan: %w", err)
	}
	return doc, nil
}
