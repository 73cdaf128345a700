// Package store provides the vector index store: index lifecycle, record
// validation, batched upsert and retrieval against an external vector service.
package store

import (
	"sort"
	"strings"
)

// Logical roles in a field map.
const (
	RoleID   = "id"
	RoleText = "text"
)

// DefaultTextField is the metadata field that holds the text payload when no
// field map is configured.
const DefaultTextField = "chunk_text"

// FieldMap maps logical roles ("id", "text" and caller-defined extras) to the
// literal field names used in records. The zero value behaves like
// DefaultFieldMap. A FieldMap is immutable once built.
type FieldMap struct {
	fields map[string]string
}

// NewFieldMap builds a FieldMap from roles. The input map is copied.
func NewFieldMap(roles map[string]string) FieldMap {
	fields := make(map[string]string, len(roles))
	for role, field := range roles {
		if role == "" || field == "" {
			continue
		}
		fields[role] = field
	}
	return FieldMap{fields: fields}
}

// DefaultFieldMap returns {"text": "chunk_text"}.
func DefaultFieldMap() FieldMap {
	return NewFieldMap(map[string]string{RoleText: DefaultTextField})
}

// Field returns the field name for role. Unmapped roles map to themselves,
// except the text role which falls back to DefaultTextField.
func (m FieldMap) Field(role string) string {
	if f, ok := m.fields[role]; ok {
		return f
	}
	if role == RoleText {
		return DefaultTextField
	}
	return role
}

// Text returns the field carrying the text payload.
func (m FieldMap) Text() string {
	return m.Field(RoleText)
}

// ID returns the field carrying the record id.
func (m FieldMap) ID() string {
	return m.Field(RoleID)
}

// Roles returns the mapped roles in sorted order.
func (m FieldMap) Roles() []string {
	roles := make([]string, 0, len(m.fields))
	for role := range m.fields {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Map returns a copy of the role to field mapping.
func (m FieldMap) Map() map[string]string {
	out := make(map[string]string, len(m.fields)+1)
	for role, field := range m.fields {
		out[role] = field
	}
	if _, ok := out[RoleText]; !ok {
		out[RoleText] = DefaultTextField
	}
	return out
}

// ServiceFieldMap returns the mapping handed to the vector service when it
// auto-embeds records. The service only reads the text role.
func (m FieldMap) ServiceFieldMap() map[string]any {
	return map[string]any{RoleText: m.Text()}
}

// IndexHandle identifies one logical collection of vectors.
type IndexHandle struct {
	Name      string
	Namespace string
	FieldMap  FieldMap
}

// NewIndexHandle derives the namespace from name.
func NewIndexHandle(name string, fm FieldMap) IndexHandle {
	return IndexHandle{
		Name:      name,
		Namespace: NamespaceFor(name),
		FieldMap:  fm,
	}
}

// NamespaceFor replaces the first "index" in name with "namespace".
// Names without that substring are returned unchanged.
func NamespaceFor(name string) string {
	return strings.Replace(name, "index", "namespace", 1)
}

// Record is a caller-assembled record. A nil Record stands for an input that
// was not a mapping.
type Record map[string]any

// Shape tells how a record carries its payload.
type Shape int

const (
	// ShapeAuto lets the first valid record of a call decide the call's shape.
	ShapeAuto Shape = iota
	// ShapeNested records carry id, values and metadata{text field}; used for
	// pre-embedded vectors.
	ShapeNested
	// ShapeFlat records carry id and the text field at top level; the service
	// embeds them.
	ShapeFlat
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeNested:
		return "nested"
	case ShapeFlat:
		return "flat"
	default:
		return "auto"
	}
}

// Entry is a record that passed validation.
type Entry struct {
	ID       string
	Shape    Shape
	Values   []float32
	Metadata map[string]any
	Text     string
}

// Rejection explains why the record at Index was dropped.
type Rejection struct {
	Index  int
	ID     string
	Reason error
}

// StoreResult reports the outcome of a Store call.
type StoreResult struct {
	Stored   bool
	Shape    Shape
	Upserted int
	Rejected []Rejection
}

// QueryResult is a retrieved vector.
type QueryResult struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score,omitempty"`
}

// normalize replaces missing values and metadata with empty ones.
func (r QueryResult) normalize() QueryResult {
	if r.Values == nil {
		r.Values = []float32{}
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return r
}

// IndexSpec describes an index to create.
type IndexSpec struct {
	Name       string
	Cloud      string
	Region     string
	EmbedModel string
	FieldMap   FieldMap
	Dimension  int
	Metric     string
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name       string
	Host       string
	Dimension  int
	Metric     string
	EmbedModel string
	Ready      bool
}

// Target scopes an operation to one namespace of one index.
type Target struct {
	Index     string
	Namespace string
}

// Batch is one upsert payload. Every entry has the batch's shape.
type Batch struct {
	Shape     Shape
	TextField string
	Entries   []Entry
}

// Query is an approximate nearest-neighbor request.
type Query struct {
	Vector          []float32
	TopK            int
	IncludeValues   bool
	IncludeMetadata bool
}
