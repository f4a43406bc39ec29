// ABOUTME: Accessors for the fixed top-level dataset mappings
// ABOUTME: id, label, format, sources, creation_dt, grid_spatial, measurements

package resolver

import (
	"time"

	"github.com/opengeocube/metacat/pkg/dataset"
	"github.com/opengeocube/metacat/pkg/metadata"
)

// DatasetID resolves the type's fixed id offset to a string.
func DatasetID(doc dataset.Document, mt *metadata.MetadataType) (string, bool) {
	return fixedString(doc, mt.Dataset.ID)
}

// Label resolves the human-readable dataset label.
func Label(doc dataset.Document, mt *metadata.MetadataType) (string, bool) {
	return fixedString(doc, mt.Dataset.Label)
}

// Format resolves the file format marker.
func Format(doc dataset.Document, mt *metadata.MetadataType) (string, bool) {
	return fixedString(doc, mt.Dataset.Format)
}

// CreationTime resolves and parses the dataset creation timestamp.
func CreationTime(doc dataset.Document, mt *metadata.MetadataType) (time.Time, bool) {
	raw, ok := ResolveOffset(doc, mt.Dataset.CreationDt)
	if !ok || raw == nil {
		return time.Time{}, false
	}
	t, err := toTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Sources resolves the lineage subtree as found, without interpretation.
func Sources(doc dataset.Document, mt *metadata.MetadataType) (interface{}, bool) {
	return fixedRaw(doc, mt.Dataset.Sources)
}

// GridSpatial resolves the spatial reference subtree as found.
func GridSpatial(doc dataset.Document, mt *metadata.MetadataType) (interface{}, bool) {
	return fixedRaw(doc, mt.Dataset.GridSpatial)
}

// Measurements resolves the measurements subtree as found.
func Measurements(doc dataset.Document, mt *metadata.MetadataType) (interface{}, bool) {
	return fixedRaw(doc, mt.Dataset.Measurements)
}

func fixedRaw(doc dataset.Document, off metadata.Offset) (interface{}, bool) {
	v, ok := ResolveOffset(doc, off)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func fixedString(doc dataset.Document, off metadata.Offset) (string, bool) {
	raw, ok := fixedRaw(doc, off)
	if !ok {
		return "", false
	}
	s, err := stringify(raw)
	if err != nil {
		return "", false
	}
	return s, true
}
