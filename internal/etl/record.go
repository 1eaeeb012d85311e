package etl

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// The paginator emits RawRecords, the validator turns them into Records,
// and the store consumes Records.

// FieldType is the declared type of a dataset column.
type FieldType string

const (
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldText      FieldType = "text"
	FieldTimestamp FieldType = "timestamp"
	// FieldLocation is a nested {latitude, longitude} object on the remote
	// side, stored flattened as text.
	FieldLocation FieldType = "location"
)

// DefaultTextLength is the column bound applied to text fields unless the
// field declares otherwise.
const DefaultTextLength = 255

// Field describes a single column in a dataset.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Length bounds text and location columns. Zero means unbounded.
	Length int `json:"length,omitempty"`
}

// Bounded reports whether the stored column has a length limit.
func (f Field) Bounded() bool {
	return (f.Type == FieldText || f.Type == FieldLocation) && f.Length > 0
}

// Schema describes the flat shape of a dataset's stored rows.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RawRecord is one decoded JSON object from a remote page.
type RawRecord map[string]any

// Record is a single validated row flowing from a page into the store.
// Values are int64, float64, string, time.Time or nil.
type Record struct {
	Data map[string]any `json:"data"`
}

// Key returns the record's primary-key value for d.
func (r Record) Key(d *Descriptor) any {
	return r.Data[d.PrimaryKey]
}
