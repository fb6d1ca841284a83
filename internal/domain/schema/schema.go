// Package schema describes table schemas: ordered columns, at most one
// fixed-dimension vector column and an optional primary key.
package schema

import (
	"github.com/kailas-cloud/holodex/internal/domain"
)

// MaxColumns bounds the width of a table.
const MaxColumns = 256

// Schema is an immutable ordered column list.
type Schema struct {
	columns    []Column
	index      map[string]int
	primaryKey string
	vectorIdx  int // -1 when the table has no vector column
}

// New validates and creates a Schema. primaryKey may be empty.
func New(primaryKey string, columns ...Column) (Schema, error) {
	if len(columns) == 0 {
		return Schema{}, domain.NewValidation("schema", "at least one column is required")
	}
	if len(columns) > MaxColumns {
		return Schema{}, domain.NewValidation("schema", "too many columns (max %d)", MaxColumns)
	}

	s := Schema{
		columns:    append([]Column(nil), columns...),
		index:      make(map[string]int, len(columns)),
		primaryKey: primaryKey,
		vectorIdx:  -1,
	}
	for i, c := range s.columns {
		if c.name == "" || !c.typ.IsValid() {
			return Schema{}, domain.NewValidation("schema", "column %d is not initialized", i)
		}
		if _, dup := s.index[c.name]; dup {
			return Schema{}, domain.NewValidation("schema", "duplicate column %q", c.name)
		}
		s.index[c.name] = i
		if c.IsVector() {
			if s.vectorIdx >= 0 {
				return Schema{}, domain.NewValidation("schema",
					"only one vector column is allowed, found %q and %q", s.columns[s.vectorIdx].name, c.name)
			}
			s.vectorIdx = i
		}
	}

	if primaryKey != "" {
		i, ok := s.index[primaryKey]
		if !ok {
			return Schema{}, domain.NewValidation("schema", "primary key %q is not a column", primaryKey)
		}
		switch s.columns[i].typ {
		case Int64, String, Text:
		default:
			return Schema{}, domain.NewValidation("schema",
				"primary key %q must be int64 or string, got %s", primaryKey, s.columns[i].typ)
		}
		s.columns[i].nullable = false
	}
	return s, nil
}

// IsZero reports an uninitialized schema.
func (s Schema) IsZero() bool { return len(s.columns) == 0 }

// Columns returns a copy of the columns in order.
func (s Schema) Columns() []Column { return append([]Column(nil), s.columns...) }

// Names returns column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.name
	}
	return out
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.columns) }

// Column looks up a column by name.
func (s Schema) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// Has reports whether the column exists.
func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// PrimaryKey returns the primary-key column name or "".
func (s Schema) PrimaryKey() string { return s.primaryKey }

// VectorColumn returns the vector column, if any.
func (s Schema) VectorColumn() (Column, bool) {
	if s.vectorIdx < 0 {
		return Column{}, false
	}
	return s.columns[s.vectorIdx], true
}

// TextColumns returns the names of columns usable for full-text search.
func (s Schema) TextColumns() []string {
	var out []string
	for _, c := range s.columns {
		if c.IsText() {
			out = append(out, c.name)
		}
	}
	return out
}

// CheckVector verifies v matches the vector column dimension.
func (s Schema) CheckVector(v []float32) error {
	col, ok := s.VectorColumn()
	if !ok {
		return domain.NewValidation("vector", "table has no vector column")
	}
	if len(v) != col.dim {
		return &domain.DimensionMismatchError{Column: col.name, Expected: col.dim, Actual: len(v)}
	}
	return nil
}

// CheckColumns verifies every name exists.
func (s Schema) CheckColumns(field string, names []string) error {
	for _, n := range names {
		if !s.Has(n) {
			return domain.NewValidation(field, "unknown column %q", n)
		}
	}
	return nil
}
