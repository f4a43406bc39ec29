// ABOUTME: Tests for dataset document loaders
// ABOUTME: Verifies JSON/YAML parsing and format detection

package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFromJSON(t *testing.T) {
	doc, err := FromJSON([]byte(`{"id": "abc", "properties": {"eo:platform": "landsat-8"}}`))
	if err != nil {
		t.Fatalf("Failed to parse JSON document: %v", err)
	}

	if doc["id"] != "abc" {
		t.Errorf("Expected id 'abc', got %v", doc["id"])
	}

	props, ok := doc["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected nested mapping, got %T", doc["properties"])
	}
	if props["eo:platform"] != "landsat-8" {
		t.Errorf("Expected 'landsat-8', got %v", props["eo:platform"])
	}
}

func TestFromJSONRejectsInvalid(t *testing.T) {
	if _, err := FromJSON([]byte(`{"id": `)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestFromJSONRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[1, 2]`, `"text"`, `42`, `null`} {
		if _, err := FromJSON([]byte(input)); !errors.Is(err, ErrNotObject) {
			t.Errorf("Input %s: expected ErrNotObject, got %v", input, err)
		}
	}
}

func TestFromYAML(t *testing.T) {
	doc, err := FromYAML([]byte("id: abc\nextent:\n  lat:\n    begin: -35.5\n"))
	if err != nil {
		t.Fatalf("Failed to parse YAML document: %v", err)
	}

	if doc["id"] != "abc" {
		t.Errorf("Expected id 'abc', got %v", doc["id"])
	}

	extent, ok := doc["extent"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected nested mapping, got %T", doc["extent"])
	}
	lat, ok := extent["lat"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected nested mapping, got %T", extent["lat"])
	}
	if lat["begin"] != -35.5 {
		t.Errorf("Expected -35.5, got %v", lat["begin"])
	}
}

func TestFromYAMLRejectsNonObject(t *testing.T) {
	if _, err := FromYAML([]byte("- a\n- b\n")); err == nil {
		t.Error("Expected sequence document to be rejected")
	}
	if _, err := FromYAML([]byte("")); !errors.Is(err, ErrNotObject) {
		t.Errorf("Expected ErrNotObject for empty input, got %v", err)
	}
}

func TestFromFileDetectsFormat(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(jsonPath, []byte(`  {"id": "from-json"}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	doc, err := FromFile(jsonPath)
	if err != nil {
		t.Fatalf("Failed to load JSON file: %v", err)
	}
	if doc["id"] != "from-json" {
		t.Errorf("Expected 'from-json', got %v", doc["id"])
	}

	yamlPath := filepath.Join(dir, "doc.yaml")
	if err := os.WriteFile(yamlPath, []byte("id: from-yaml\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	doc, err = FromFile(yamlPath)
	if err != nil {
		t.Fatalf("Failed to load YAML file: %v", err)
	}
	if doc["id"] != "from-yaml" {
		t.Errorf("Expected 'from-yaml', got %v", doc["id"])
	}
}
