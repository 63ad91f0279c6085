package artifact

import (
	"bytes"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manifest is the flat registry mapping artifact ids to their records.
// Upserting an existing id replaces the record in place.
type Manifest struct {
	mu      sync.Mutex
	entries []Artifact
	index   map[string]int
}

type manifestDocument struct {
	Version   int        `yaml:"version"`
	Artifacts []Artifact `yaml:"artifacts"`
}

const manifestVersion = 1

// NewManifest builds a manifest from records. Later records win on id
// collisions.
func NewManifest(records []Artifact) *Manifest {
	m := &Manifest{index: map[string]int{}}
	for _, record := range records {
		m.upsert(record)
	}
	return m
}

// Upsert inserts the record or replaces the one with the same id.
func (m *Manifest) Upsert(record Artifact) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsert(record)
	return nil
}

func (m *Manifest) upsert(record Artifact) {
	if m.index == nil {
		m.index = map[string]int{}
	}
	if pos, ok := m.index[record.ID]; ok {
		m.entries[pos] = record
		return
	}
	m.index[record.ID] = len(m.entries)
	m.entries = append(m.entries, record)
}

// Get returns the record for id.
func (m *Manifest) Get(id string) (Artifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.index[id]
	if !ok {
		return Artifact{}, false
	}
	return m.entries[pos], true
}

// All returns every record in insertion order.
func (m *Manifest) All() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	out := make([]Artifact, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of records.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Encode renders the manifest as a YAML document.
func (m *Manifest) Encode() ([]byte, error) {
	doc := manifestDocument{Version: manifestVersion, Artifacts: m.All()}
	if doc.Artifacts == nil {
		doc.Artifacts = []Artifact{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("artifact: encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("artifact: encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeManifest parses a manifest document. An empty payload yields an empty
// manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewManifest(nil), nil
	}
	var doc manifestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("artifact: decode manifest: %w", err)
	}
	for _, record := range doc.Artifacts {
		if err := record.Validate(); err != nil {
			return nil, fmt.Errorf("artifact: decode manifest: %w", err)
		}
	}
	return NewManifest(doc.Artifacts), nil
}
