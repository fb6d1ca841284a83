package result

import (
	"encoding/json"
	"math"
	"strconv"
)

// RowID is a stable row identifier: the primary key when the table has one,
// otherwise a transport-assigned id. Numeric ids order before string ids.
type RowID struct {
	n       int64
	s       string
	numeric bool
}

// IntID creates a numeric row id.
func IntID(n int64) RowID { return RowID{n: n, numeric: true} }

// StringID creates a string row id.
func StringID(s string) RowID { return RowID{s: s} }

// IDOf converts a backend value into a row id.
func IDOf(v any) (RowID, bool) {
	switch x := v.(type) {
	case RowID:
		return x, true
	case int:
		return IntID(int64(x)), true
	case int8:
		return IntID(int64(x)), true
	case int16:
		return IntID(int64(x)), true
	case int32:
		return IntID(int64(x)), true
	case int64:
		return IntID(x), true
	case uint32:
		return IntID(int64(x)), true
	case uint64:
		if x > math.MaxInt64 {
			return StringID(strconv.FormatUint(x, 10)), true
		}
		return IntID(int64(x)), true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return IntID(int64(x)), true
		}
		return StringID(strconv.FormatFloat(x, 'g', -1, 64)), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return IntID(n), true
		}
		return StringID(x.String()), true
	case string:
		return StringID(x), true
	case []byte:
		return StringID(string(x)), true
	case interface{ String() string }:
		return StringID(x.String()), true
	default:
		return RowID{}, false
	}
}

// IsNumeric reports a numeric id.
func (id RowID) IsNumeric() bool { return id.numeric }

// Value returns the id as int64 or string.
func (id RowID) Value() any {
	if id.numeric {
		return id.n
	}
	return id.s
}

func (id RowID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.n, 10)
	}
	return id.s
}

// Compare orders ids: numbers ascending, then strings ascending.
func (id RowID) Compare(other RowID) int {
	switch {
	case id.numeric && other.numeric:
		switch {
		case id.n < other.n:
			return -1
		case id.n > other.n:
			return 1
		}
		return 0
	case id.numeric:
		return -1
	case other.numeric:
		return 1
	case id.s < other.s:
		return -1
	case id.s > other.s:
		return 1
	default:
		return 0
	}
}

// MarshalJSON writes the id as a JSON number or string.
func (id RowID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value())
}

// UnmarshalJSON reads a JSON number or string.
func (id *RowID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	parsed, _ := IDOf(n)
	*id = parsed
	return nil
}
