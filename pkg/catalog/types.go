// ABOUTME: Catalog data model and query builder
// ABOUTME: Stored dataset records, type revisions, search queries

package catalog

import (
	"time"

	"github.com/opengeocube/metacat/pkg/metadata"
)

// StoredValue is one resolved scalar as persisted with a dataset record.
type StoredValue struct {
	Raw  interface{} `json:"raw,omitempty"`
	Str  string      `json:"str,omitempty"`
	Num  *float64    `json:"num,omitempty"`
	Time *time.Time  `json:"time,omitempty"`
}

// StoredField is the persisted resolution outcome for one search field.
type StoredField struct {
	Kind    metadata.Kind `json:"kind"`
	Indexed bool          `json:"indexed"`
	Value   *StoredValue  `json:"value,omitempty"`
	Min     *StoredValue  `json:"min,omitempty"`
	Max     *StoredValue  `json:"max,omitempty"`
	Error   string        `json:"error,omitempty"` // data-quality failure, kept with the record
}

// DatasetRecord is an indexed dataset: the resolve-all output plus the
// fixed top-level values the catalog cares about.
type DatasetRecord struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"metadata_type"`
	Label        string                 `json:"label,omitempty"`
	Format       string                 `json:"format,omitempty"`
	CreationTime *time.Time             `json:"creation_dt,omitempty"`
	Fields       map[string]StoredField `json:"fields"`
	IndexedAt    time.Time              `json:"indexed_at"`
}

// TypeRevision is one immutable registration of a metadata type.
type TypeRevision struct {
	Name      string    `json:"name"`
	Revision  uint64    `json:"revision"`
	Schema    string    `json:"schema"` // canonical YAML
	CreatedAt time.Time `json:"created_at"`
}

// Query describes one equality or range lookup over an indexed field.
type Query struct {
	Type  string
	Field string

	Equals  *string    // string fields
	Min     *float64   // double fields / bounds
	Max     *float64
	MinTime *time.Time // datetime bounds
	MaxTime *time.Time

	Limit  int
	Offset int
}

// QueryBuilder provides a fluent interface for building queries.
type QueryBuilder struct {
	q Query
}

// NewQuery starts a query against one metadata type.
func NewQuery(typeName string) *QueryBuilder {
	return &QueryBuilder{q: Query{Type: typeName, Limit: 100}}
}

// Field selects the search field to match on.
func (qb *QueryBuilder) Field(name string) *QueryBuilder {
	qb.q.Field = name
	return qb
}

// Equals adds a string equality condition.
func (qb *QueryBuilder) Equals(value string) *QueryBuilder {
	qb.q.Equals = &value
	return qb
}

// Between adds a numeric window condition.
func (qb *QueryBuilder) Between(min, max float64) *QueryBuilder {
	qb.q.Min = &min
	qb.q.Max = &max
	return qb
}

// During adds a time window condition.
func (qb *QueryBuilder) During(from, to time.Time) *QueryBuilder {
	qb.q.MinTime = &from
	qb.q.MaxTime = &to
	return qb
}

// Limit sets the result limit.
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	qb.q.Limit = limit
	return qb
}

// Offset sets the result offset.
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	qb.q.Offset = offset
	return qb
}

// Build returns the constructed query.
func (qb *QueryBuilder) Build() Query {
	return qb.q
}
