package types

import "time"

// FieldType classifies a catalog field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeInteger FieldType = "integer"
	FieldTypeBoolean FieldType = "boolean"
)

// FieldDef describes one attribute derived from stored record payloads.
type FieldDef struct {
	// Name is the attribute name as it appears in record data.
	Name string `json:"name"`

	// Type is the inferred field type.
	Type FieldType `json:"type"`

	// Nullable indicates the attribute was absent from some sampled records.
	Nullable bool `json:"nullable"`
}

// CatalogEntry is a derived schema description inferred from a sample of
// stored records. It is never authoritative: it is safe to discard and
// rebuild, and the store is never mutated by catalog activity.
type CatalogEntry struct {
	// Version increases monotonically with each successful refresh.
	Version int64 `json:"version"`

	// RefreshedAt is when this entry was derived.
	RefreshedAt time.Time `json:"refreshed_at"`

	// Fields lists the derived attributes, sorted by name.
	Fields []FieldDef `json:"fields"`

	// SampleSize is the number of records the inference sampled.
	SampleSize int `json:"sample_size"`
}

// Field returns the definition for name, or nil if the current catalog
// does not know the field.
func (e *CatalogEntry) Field(name string) *FieldDef {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}
