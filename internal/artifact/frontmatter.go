package artifact

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block was not closed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// HasFrontMatter reports whether content opens with a `---` fence.
func HasFrontMatter(content []byte) bool {
	return bytes.HasPrefix(normalizeNewlines(content), []byte("---\n"))
}

// SplitFrontMatter separates the YAML block between `---` fences from the
// document body.
func SplitFrontMatter(content []byte) ([]byte, []byte, error) {
	if len(content) == 0 {
		return nil, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	if bytes.HasPrefix(rest, []byte("---\n")) {
		return nil, rest[4:], nil
	}
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return bytes.TrimSuffix(rest, []byte("\n---")), nil, nil
		}
		return nil, nil, ErrMalformedFrontMatter
	}
	return parts[0], parts[1], nil
}

// ParseFrontMatter decodes the YAML block into out and returns the body.
func ParseFrontMatter(content []byte, out any) ([]byte, error) {
	header, body, err := SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(header, out); err != nil {
		return nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	return body, nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
