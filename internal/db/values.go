package db

import (
	"encoding/json"
	"math"
	"time"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Coerce converts v to the canonical Go type of col: int64, float64,
// string, bool, time.Time, []float32 or the value itself for json.
// Nil passes through for nullable columns.
func Coerce(col schema.Column, v any) (any, error) {
	if v == nil {
		if !col.Nullable() {
			return nil, domain.NewValidation(col.Name(), "column is not nullable")
		}
		return nil, nil
	}
	bad := func() error {
		return domain.NewValidation(col.Name(), "cannot store %T in %s column", v, col.Type())
	}
	switch col.Type() {
	case schema.Int64:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, bad()
			}
			return int64(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, bad()
			}
			return i, nil
		}
	case schema.Float64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, bad()
			}
			return f, nil
		}
	case schema.String, schema.Text:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case schema.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.Timestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := filter.ParseTime(t)
			if err != nil {
				return nil, bad()
			}
			return parsed, nil
		}
	case schema.JSON:
		return v, nil
	case schema.Vector:
		f, ok := vector.ToFloat32(v)
		if !ok {
			return nil, bad()
		}
		if len(f) != col.Dim() {
			return nil, &domain.DimensionMismatchError{Column: col.Name(), Expected: col.Dim(), Actual: len(f)}
		}
		if vector.HasNonFinite(f) {
			return nil, domain.NewValidation(col.Name(), "vector has NaN or Inf components")
		}
		return append([]float32(nil), f...), nil
	}
	return nil, bad()
}

// CoerceRow validates r against s and returns a canonical copy.
// Missing nullable columns are stored as nil.
func CoerceRow(s schema.Schema, r Row) (Row, error) {
	for k := range r {
		if !s.Has(k) {
			return nil, domain.NewValidation(k, "unknown column")
		}
	}
	out := make(Row, s.Len())
	for _, col := range s.Columns() {
		v, err := Coerce(col, r[col.Name()])
		if err != nil {
			return nil, err
		}
		out[col.Name()] = v
	}
	return out, nil
}

// Project copies the named columns of r. Nil names copies every column.
func Project(r Row, names []string) Row {
	if names == nil {
		out := make(Row, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	out := make(Row, len(names)+1)
	for _, n := range names {
		out[n] = r[n]
	}
	return out
}
