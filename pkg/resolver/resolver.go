// ABOUTME: Offset and field resolution against dataset documents
// ABOUTME: Pure first-match extraction, absence is not an error

package resolver

import (
	"errors"
	"sort"

	"github.com/opengeocube/metacat/pkg/dataset"
	"github.com/opengeocube/metacat/pkg/metadata"
)

// FieldValue is the resolution outcome for one search field. Exactly one
// of the value slots is populated depending on the field kind; all nil
// means the field is absent from this document, which is a normal result.
type FieldValue struct {
	Name    string
	Kind    metadata.Kind
	Indexed bool

	Value *Value // scalar kinds
	Min   *Value // range kinds, independently resolved
	Max   *Value

	// Err carries data-quality failures: a value was present at some
	// offset but could not be coerced to the declared kind.
	Err error
}

// Resolved reports whether any value or bound was extracted.
func (fv FieldValue) Resolved() bool {
	return fv.Value != nil || fv.Min != nil || fv.Max != nil
}

// Result maps every search field of a metadata type to its outcome.
// Absent fields are present in the map, so callers can tell
// "checked, not there" from "no such field".
type Result struct {
	Type   string
	Fields map[string]FieldValue
}

// Errs collects the field-level data-quality errors, if any.
func (r *Result) Errs() []error {
	var errs []error
	for _, name := range sortedNames(r.Fields) {
		if err := r.Fields[name].Err; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func sortedNames(m map[string]FieldValue) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveOffset walks a document one key at a time. It is total: the
// result is either the value at the path or ok=false, never a panic.
// The document is not modified.
func ResolveOffset(doc dataset.Document, off metadata.Offset) (interface{}, bool) {
	if len(off) == 0 {
		return nil, false
	}
	var cur interface{} = map[string]interface{}(doc)
	for _, key := range off {
		switch m := cur.(type) {
		case map[string]interface{}:
			next, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = next
		case dataset.Document:
			next, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = next
		case map[interface{}]interface{}:
			next, ok := m[key]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// resolveFirst evaluates candidates in declared order and returns the
// first non-null hit together with the offset that produced it.
func resolveFirst(doc dataset.Document, candidates metadata.OffsetList) (interface{}, metadata.Offset, bool) {
	for _, off := range candidates {
		if v, ok := ResolveOffset(doc, off); ok && v != nil {
			return v, off, true
		}
	}
	return nil, nil, false
}

// ResolveField resolves one field spec against a document. Scalar kinds
// take the first candidate offset that yields a non-null value. Range
// kinds resolve min and max independently; one absent bound never
// blocks the other.
func ResolveField(doc dataset.Document, spec metadata.FieldSpec) FieldValue {
	fv := FieldValue{
		Name:    spec.Name,
		Kind:    spec.Kind,
		Indexed: spec.Indexed,
	}

	if !spec.Kind.IsRange() {
		raw, off, ok := resolveFirst(doc, spec.Offsets)
		if !ok {
			return fv
		}
		val, err := coerce(spec.Kind, raw, spec.Name, off)
		if err != nil {
			fv.Err = err
			return fv
		}
		fv.Value = val
		return fv
	}

	var errs []error
	if raw, off, ok := resolveFirst(doc, spec.MinOffsets); ok {
		val, err := coerce(spec.Kind, raw, spec.Name, off)
		if err != nil {
			errs = append(errs, err)
		} else {
			fv.Min = val
		}
	}
	if raw, off, ok := resolveFirst(doc, spec.MaxOffsets); ok {
		val, err := coerce(spec.Kind, raw, spec.Name, off)
		if err != nil {
			errs = append(errs, err)
		} else {
			fv.Max = val
		}
	}
	fv.Err = errors.Join(errs...)
	return fv
}

// ResolveAll resolves every search field of a metadata type. The result
// has exactly one entry per field name regardless of resolution success.
// Unindexed fields are resolved too, flagged for index builders to skip.
func ResolveAll(doc dataset.Document, mt *metadata.MetadataType) *Result {
	res := &Result{
		Type:   mt.Name,
		Fields: make(map[string]FieldValue, mt.Len()),
	}
	for _, spec := range mt.Fields() {
		res.Fields[spec.Name] = ResolveField(doc, spec)
	}
	return res
}
