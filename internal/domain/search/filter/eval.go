package filter

import (
	"encoding/json"
	"strings"
	"time"
)

// Truth is a three-valued logic result; comparisons with NULL are Unknown.
type Truth int8

// Truth values.
const (
	Unknown Truth = iota
	False
	True
)

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Getter reads a column value from a row; ok=false means the column is absent.
type Getter func(column string) (any, bool)

// Matches reports whether row satisfies e (Unknown counts as no match, as in SQL WHERE).
func Matches(e Expr, row map[string]any) bool {
	if e == nil {
		return true
	}
	return Eval(e, func(c string) (any, bool) {
		v, ok := row[c]
		return v, ok
	}) == True
}

// Eval evaluates e against a row.
func Eval(e Expr, get Getter) Truth {
	switch v := e.(type) {
	case nil:
		return True
	case Comparison:
		val, _ := get(v.Column)
		c, ok := compare(val, v.Value)
		if !ok {
			return Unknown
		}
		switch v.Op {
		case OpEq:
			return truth(c == 0)
		case OpNe:
			return truth(c != 0)
		case OpLt:
			return truth(c < 0)
		case OpLe:
			return truth(c <= 0)
		case OpGt:
			return truth(c > 0)
		case OpGe:
			return truth(c >= 0)
		}
		return Unknown
	case Membership:
		val, _ := get(v.Column)
		if val == nil {
			return Unknown
		}
		found := false
		for _, l := range v.Values {
			if c, ok := compare(val, l); ok && c == 0 {
				found = true
				break
			}
		}
		return truth(found != v.Negate)
	case NullCheck:
		val, _ := get(v.Column)
		return truth((val == nil) != v.Negate)
	case Conjunction:
		out := True
		for _, t := range v.Terms {
			switch Eval(t, get) {
			case False:
				return False
			case Unknown:
				out = Unknown
			}
		}
		return out
	case Disjunction:
		out := False
		for _, t := range v.Terms {
			switch Eval(t, get) {
			case True:
				return True
			case Unknown:
				out = Unknown
			}
		}
		return out
	case Negation:
		switch Eval(v.Term, get) {
		case True:
			return False
		case False:
			return True
		}
		return Unknown
	default:
		return Unknown
	}
}

// compare orders a row value against a literal. ok=false when the value is
// NULL or the kinds are incomparable.
func compare(v any, l Literal) (int, bool) {
	switch l.kind {
	case LitInt, LitFloat:
		if i, isInt := asInt(v); isInt && l.kind == LitInt {
			return cmpOrdered(i, l.i), true
		}
		f, ok := asFloat(v)
		if !ok {
			return 0, false
		}
		return cmpOrdered(f, l.Float()), true
	case LitString:
		switch t := v.(type) {
		case string:
			return strings.Compare(t, l.s), true
		case time.Time:
			lt, err := ParseTime(l.s)
			if err != nil {
				return 0, false
			}
			return t.Compare(lt), true
		}
		return 0, false
	case LitBool:
		b, ok := v.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case b == l.b:
			return 0, true
		case !b:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	switch t := v.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// ParseTime parses timestamp literals: RFC 3339, "YYYY-MM-DD hh:mm:ss" or a bare date (UTC).
func ParseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
