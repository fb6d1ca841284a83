package schema

import (
	"regexp"

	"github.com/kailas-cloud/holodex/internal/domain"
)

// Type is the logical type of a column.
type Type string

// Logical column types.
const (
	Int64     Type = "int64"
	Float64   Type = "float64"
	String    Type = "string"
	Text      Type = "text"
	Bool      Type = "bool"
	Timestamp Type = "timestamp"
	JSON      Type = "json"
	Vector    Type = "vector"
)

// IsValid checks the type is supported.
func (t Type) IsValid() bool {
	switch t {
	case Int64, Float64, String, Text, Bool, Timestamp, JSON, Vector:
		return true
	default:
		return false
	}
}

// Element is the numeric element type of a vector column.
type Element string

// Vector element types.
const (
	Float32Element Element = "float32"
	Float64Element Element = "float64"
)

// MaxVectorDim bounds vector dimensionality.
const MaxVectorDim = 16000

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Names the engine adds to result rows.
var reservedNames = map[string]bool{
	"_rowid": true, "_distance": true, "_score": true, "_text_score": true, "_vector_score": true,
}

// IsIdentifier reports whether s is a valid table, column or index name.
func IsIdentifier(s string) bool {
	return identRegex.MatchString(s)
}

// Column is an immutable column definition.
type Column struct {
	name     string
	typ      Type
	dim      int
	elem     Element
	nullable bool
}

// NewColumn creates a scalar column. Use NewVectorColumn for vectors.
func NewColumn(name string, t Type) (Column, error) {
	if err := validateName(name); err != nil {
		return Column{}, err
	}
	if !t.IsValid() {
		return Column{}, domain.NewValidation(name, "unknown column type %q", t)
	}
	if t == Vector {
		return Column{}, domain.NewValidation(name, "vector columns need a dimension, use NewVectorColumn")
	}
	return Column{name: name, typ: t, nullable: true}, nil
}

// NewVectorColumn creates a fixed-dimension vector column.
// An empty element type defaults to float32.
func NewVectorColumn(name string, dim int, elem Element) (Column, error) {
	if err := validateName(name); err != nil {
		return Column{}, err
	}
	if dim <= 0 || dim > MaxVectorDim {
		return Column{}, domain.NewValidation(name, "vector dimension must be in [1, %d], got %d", MaxVectorDim, dim)
	}
	if elem == "" {
		elem = Float32Element
	}
	if elem != Float32Element && elem != Float64Element {
		return Column{}, domain.NewValidation(name, "vector element must be float32 or float64, got %q", elem)
	}
	return Column{name: name, typ: Vector, dim: dim, elem: elem, nullable: true}, nil
}

// Reconstruct creates a Column without validation (backend hydration).
func Reconstruct(name string, t Type, dim int, elem Element, nullable bool) Column {
	return Column{name: name, typ: t, dim: dim, elem: elem, nullable: nullable}
}

func validateName(name string) error {
	if !IsIdentifier(name) {
		return domain.NewValidation("column", "invalid column name %q", name)
	}
	if reservedNames[name] {
		return domain.NewValidation("column", "column name %q is reserved", name)
	}
	return nil
}

// WithNullable returns a copy with the nullability flag set.
func (c Column) WithNullable(n bool) Column {
	c.nullable = n
	return c
}

// Name returns the column name.
func (c Column) Name() string { return c.name }

// Type returns the logical type.
func (c Column) Type() Type { return c.typ }

// Dim returns the vector dimension (0 for scalars).
func (c Column) Dim() int { return c.dim }

// Element returns the vector element type ("" for scalars).
func (c Column) Element() Element { return c.elem }

// Nullable reports whether NULL values are allowed.
func (c Column) Nullable() bool { return c.nullable }

// IsVector reports a vector column.
func (c Column) IsVector() bool { return c.typ == Vector }

// IsText reports a column usable for full-text search.
func (c Column) IsText() bool { return c.typ == Text || c.typ == String }

// IsNumeric reports int64 or float64.
func (c Column) IsNumeric() bool { return c.typ == Int64 || c.typ == Float64 }
