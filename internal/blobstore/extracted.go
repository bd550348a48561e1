package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LoadExtractedText reads an extraction artifact and returns its
// document text. The artifact is the result.json written by the
// extraction service: a nested structure of pages and elements where
// each element carries a "text" field. A non-JSON artifact is treated
// as plain text.
func (s *Store) LoadExtractedText(ctx context.Context, artifactPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := s.Get(artifactPath)
	if err != nil {
		return "", fmt.Errorf("read extraction artifact %s: %w", artifactPath, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return strings.TrimSpace(string(data)), nil
	}
	var parts []string
	collectTextFields(doc, &parts)
	if len(parts) == 0 {
		return "", fmt.Errorf("extraction artifact %s contains no text elements", artifactPath)
	}
	return strings.Join(parts, "\n"), nil
}

// collectTextFields walks the decoded artifact in document order and
// gathers every "text" string it finds. The walk is shape-tolerant on
// purpose: extraction output nests elements differently per document
// type, and only the text content matters downstream.
func collectTextFields(node any, out *[]string) {
	switch v := node.(type) {
	case map[string]any:
		if t, ok := v["text"].(string); ok && strings.TrimSpace(t) != "" {
			*out = append(*out, strings.TrimSpace(t))
		}
		for _, key := range []string{"pages", "elements", "blocks", "children", "content"} {
			if child, ok := v[key]; ok {
				collectTextFields(child, out)
			}
		}
	case []any:
		for _, item := range v {
			collectTextFields(item, out)
		}
	}
}
