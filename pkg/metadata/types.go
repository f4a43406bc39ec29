// ABOUTME: Metadata-type data model for dataset field extraction
// ABOUTME: Defines kinds, offsets and search-field specs

package metadata

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind is the declared value kind of a search field.
type Kind string

const (
	KindString        Kind = "string"
	KindDouble        Kind = "double"
	KindDoubleRange   Kind = "double-range"
	KindDatetimeRange Kind = "datetime-range"
)

// Valid reports whether k is a known field kind.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindDouble, KindDoubleRange, KindDatetimeRange:
		return true
	}
	return false
}

// IsRange reports whether k carries independent min/max bounds.
func (k Kind) IsRange() bool {
	return k == KindDoubleRange || k == KindDatetimeRange
}

// Offset is an ordered list of keys identifying a path into a nested document.
type Offset []string

// String renders the offset in dotted form for logs and errors.
func (o Offset) String() string {
	out := ""
	for i, k := range o {
		if i > 0 {
			out += "."
		}
		out += k
	}
	return out
}

// MarshalYAML renders the offset as a flow sequence ([properties, eo:platform]).
func (o Offset) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, k := range o {
		n.Content = append(n.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: k,
		})
	}
	return n, nil
}

// OffsetList is an ordered list of candidate offsets. Candidates are
// evaluated in declared order; the first that resolves to a non-null
// value wins.
type OffsetList []Offset

// UnmarshalYAML accepts either a single flat path ([a, b]) or a list of
// paths ([[a, b], [c]]). The flat form is the common case for scalar
// fields in existing schema files.
func (ol *OffsetList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("metadata: offset must be a sequence, got %s", node.Tag)
	}
	if len(node.Content) == 0 {
		*ol = OffsetList{}
		return nil
	}
	if node.Content[0].Kind == yaml.ScalarNode {
		var single Offset
		if err := node.Decode(&single); err != nil {
			return err
		}
		*ol = OffsetList{single}
		return nil
	}
	var many []Offset
	if err := node.Decode(&many); err != nil {
		return err
	}
	*ol = OffsetList(many)
	return nil
}

// FieldSpec is one named, typed search field within a MetadataType.
type FieldSpec struct {
	Name        string // Unique within the owning type
	Kind        Kind   // string, double, double-range, datetime-range
	Description string // Opaque documentation text, preserved verbatim
	Indexed     bool   // Participates in search indexes (default true)

	// Scalar kinds: candidate offsets, first non-null match wins.
	Offsets OffsetList

	// Range kinds: independent candidate lists per bound.
	MinOffsets OffsetList
	MaxOffsets OffsetList
}

// DatasetSection holds the fixed top-level path mappings every
// metadata type declares alongside its search fields.
type DatasetSection struct {
	ID           Offset `yaml:"id,omitempty"`
	Label        Offset `yaml:"label,omitempty"`
	Format       Offset `yaml:"format,omitempty"`
	Sources      Offset `yaml:"sources,omitempty"`
	CreationDt   Offset `yaml:"creation_dt,omitempty"`
	GridSpatial  Offset `yaml:"grid_spatial,omitempty"`
	Measurements Offset `yaml:"measurements,omitempty"`
}

// MetadataType is a named, immutable schema of search fields and how to
// extract them from a dataset document. Load once, share freely:
// resolution never mutates the type or the document.
type MetadataType struct {
	Name        string
	Description string
	Dataset     DatasetSection

	fields []FieldSpec
	byName map[string]int
}

// Fields returns the search fields in declaration order.
func (mt *MetadataType) Fields() []FieldSpec {
	return mt.fields
}

// Field looks up a search field by name.
func (mt *MetadataType) Field(name string) (FieldSpec, bool) {
	i, ok := mt.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return mt.fields[i], true
}

// Len returns the number of search fields.
func (mt *MetadataType) Len() int {
	return len(mt.fields)
}
