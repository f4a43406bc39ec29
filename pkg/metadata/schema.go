// ABOUTME: Schema file loading, validation and serialization
// ABOUTME: YAML contract shared with the external indexing service

package metadata

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoName indicates a schema without a type name
	ErrNoName = errors.New("metadata: type name missing")

	// ErrDuplicateField indicates two search fields sharing a name
	ErrDuplicateField = errors.New("metadata: duplicate search field")

	// ErrUnknownKind indicates an unrecognized field type
	ErrUnknownKind = errors.New("metadata: unknown field kind")

	// ErrMissingOffset indicates a field without usable offsets
	ErrMissingOffset = errors.New("metadata: missing offset")

	// ErrOffsetMismatch indicates offsets that contradict the field kind
	ErrOffsetMismatch = errors.New("metadata: offset does not match field kind")
)

// rawSchema mirrors the on-disk YAML layout.
type rawSchema struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Dataset     rawDataset `yaml:"dataset"`
}

type rawDataset struct {
	ID           Offset    `yaml:"id,omitempty"`
	Label        Offset    `yaml:"label,omitempty"`
	Format       Offset    `yaml:"format,omitempty"`
	Sources      Offset    `yaml:"sources,omitempty"`
	CreationDt   Offset    `yaml:"creation_dt,omitempty"`
	GridSpatial  Offset    `yaml:"grid_spatial,omitempty"`
	Measurements Offset    `yaml:"measurements,omitempty"`
	SearchFields yaml.Node `yaml:"search_fields,omitempty"`
}

type rawField struct {
	Type        string     `yaml:"type,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Indexed     *bool      `yaml:"indexed,omitempty"`
	Offset      OffsetList `yaml:"offset,omitempty"`
	MinOffset   OffsetList `yaml:"min_offset,omitempty"`
	MaxOffset   OffsetList `yaml:"max_offset,omitempty"`
}

// LoadBytes parses and validates a metadata-type schema document.
// Any validation failure is fatal to the load.
func LoadBytes(data []byte) (*MetadataType, error) {
	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("metadata: parse schema: %w", err)
	}
	return fromRaw(&raw)
}

// LoadFile reads and validates a schema file.
func LoadFile(path string) (*MetadataType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: read schema %s: %w", path, err)
	}
	mt, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mt, nil
}

func fromRaw(raw *rawSchema) (*MetadataType, error) {
	if raw.Name == "" {
		return nil, ErrNoName
	}

	mt := &MetadataType{
		Name:        raw.Name,
		Description: raw.Description,
		Dataset: DatasetSection{
			ID:           raw.Dataset.ID,
			Label:        raw.Dataset.Label,
			Format:       raw.Dataset.Format,
			Sources:      raw.Dataset.Sources,
			CreationDt:   raw.Dataset.CreationDt,
			GridSpatial:  raw.Dataset.GridSpatial,
			Measurements: raw.Dataset.Measurements,
		},
		byName: make(map[string]int),
	}

	// Walk the mapping node directly. A struct or map decode would
	// silently collapse duplicate field names, which must be rejected.
	fieldsNode := raw.Dataset.SearchFields
	if fieldsNode.Kind == 0 || fieldsNode.Tag == "!!null" {
		return mt, nil
	}
	if fieldsNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("metadata: search_fields must be a mapping, got %s", fieldsNode.Tag)
	}

	for i := 0; i+1 < len(fieldsNode.Content); i += 2 {
		name := fieldsNode.Content[i].Value
		if _, exists := mt.byName[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, name)
		}

		var rf rawField
		if err := fieldsNode.Content[i+1].Decode(&rf); err != nil {
			return nil, fmt.Errorf("metadata: field %q: %w", name, err)
		}

		spec, err := specFromRaw(name, &rf)
		if err != nil {
			return nil, err
		}

		mt.byName[name] = len(mt.fields)
		mt.fields = append(mt.fields, spec)
	}

	return mt, nil
}

func specFromRaw(name string, rf *rawField) (FieldSpec, error) {
	kind := Kind(rf.Type)
	if kind == "" {
		kind = KindString
	}
	if !kind.Valid() {
		return FieldSpec{}, fmt.Errorf("%w: field %q type %q", ErrUnknownKind, name, rf.Type)
	}

	spec := FieldSpec{
		Name:        name,
		Kind:        kind,
		Description: rf.Description,
		Indexed:     rf.Indexed == nil || *rf.Indexed,
		Offsets:     rf.Offset,
		MinOffsets:  rf.MinOffset,
		MaxOffsets:  rf.MaxOffset,
	}

	if kind.IsRange() {
		if len(spec.Offsets) > 0 {
			return FieldSpec{}, fmt.Errorf("%w: range field %q declares a scalar offset", ErrOffsetMismatch, name)
		}
		if err := checkOffsets(name, "min_offset", spec.MinOffsets); err != nil {
			return FieldSpec{}, err
		}
		if err := checkOffsets(name, "max_offset", spec.MaxOffsets); err != nil {
			return FieldSpec{}, err
		}
	} else {
		if len(spec.MinOffsets) > 0 || len(spec.MaxOffsets) > 0 {
			return FieldSpec{}, fmt.Errorf("%w: scalar field %q declares range offsets", ErrOffsetMismatch, name)
		}
		if err := checkOffsets(name, "offset", spec.Offsets); err != nil {
			return FieldSpec{}, err
		}
	}

	return spec, nil
}

func checkOffsets(field, which string, ol OffsetList) error {
	if len(ol) == 0 {
		return fmt.Errorf("%w: field %q has no %s", ErrMissingOffset, field, which)
	}
	for _, off := range ol {
		if len(off) == 0 {
			return fmt.Errorf("%w: field %q has an empty %s path", ErrMissingOffset, field, which)
		}
		for _, key := range off {
			if key == "" {
				return fmt.Errorf("%w: field %q has an empty key in %s", ErrMissingOffset, field, which)
			}
		}
	}
	return nil
}

// Marshal serializes a metadata type back to its schema document form.
// Reloading the output yields an identical field set. Candidate offsets
// are always emitted in list-of-paths form.
func Marshal(mt *MetadataType) ([]byte, error) {
	raw := rawSchema{
		Name:        mt.Name,
		Description: mt.Description,
		Dataset: rawDataset{
			ID:           mt.Dataset.ID,
			Label:        mt.Dataset.Label,
			Format:       mt.Dataset.Format,
			Sources:      mt.Dataset.Sources,
			CreationDt:   mt.Dataset.CreationDt,
			GridSpatial:  mt.Dataset.GridSpatial,
			Measurements: mt.Dataset.Measurements,
		},
	}

	fieldsNode := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, f := range mt.fields {
		rf := rawField{
			Description: f.Description,
			Offset:      f.Offsets,
			MinOffset:   f.MinOffsets,
			MaxOffset:   f.MaxOffsets,
		}
		if f.Kind != KindString {
			rf.Type = string(f.Kind)
		}
		if !f.Indexed {
			indexed := false
			rf.Indexed = &indexed
		}

		var keyNode, valNode yaml.Node
		keyNode.SetString(f.Name)
		if err := valNode.Encode(&rf); err != nil {
			return nil, fmt.Errorf("metadata: marshal field %q: %w", f.Name, err)
		}
		fieldsNode.Content = append(fieldsNode.Content, &keyNode, &valNode)
	}
	if len(fieldsNode.Content) > 0 {
		raw.Dataset.SearchFields = fieldsNode
	}

	return yaml.Marshal(&raw)
}

// FieldNames returns the sorted search-field names, mainly for
// deterministic logs and error messages.
func (mt *MetadataType) FieldNames() []string {
	names := make([]string, 0, len(mt.fields))
	for _, f := range mt.fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}
