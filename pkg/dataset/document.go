// ABOUTME: Dataset document model and loaders
// ABOUTME: Nested mappings parsed from JSON or YAML records

package dataset

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotObject indicates a document whose top level is not a mapping
	ErrNotObject = errors.New("dataset: document is not an object")

	// ErrInvalidJSON indicates unparseable JSON input
	ErrInvalidJSON = errors.New("dataset: invalid JSON")
)

// Document is one dataset record: an arbitrary nested mapping supplied
// per indexing or query call. Documents are read-only to resolution.
type Document map[string]interface{}

// FromJSON parses a JSON dataset document.
func FromJSON(data []byte) (Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, ErrNotObject
	}
	doc, ok := parsed.Value().(map[string]interface{})
	if !ok {
		return nil, ErrNotObject
	}
	return Document(doc), nil
}

// FromYAML parses a YAML dataset document.
func FromYAML(data []byte) (Document, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dataset: parse YAML: %w", err)
	}
	if doc == nil {
		return nil, ErrNotObject
	}
	return Document(doc), nil
}

// FromFile loads a document from disk, choosing the parser by content:
// JSON records start with '{', everything else is treated as YAML.
func FromFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return FromJSON(data)
		}
		break
	}
	return FromYAML(data)
}
