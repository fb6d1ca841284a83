package result

import (
	"encoding/json"
	"testing"

	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
)

func ptr(f float64) *float64 { return &f }

func sample() *Result {
	return &Result{
		Mode:        mode.VectorOnly,
		ColumnNames: []string{"id", "body"},
		Rows: []Row{
			{ID: IntID(2), Values: map[string]any{"id": int64(2), "body": "dog"}, Score: 0.9, Distance: ptr(0.1)},
			{ID: IntID(1), Values: map[string]any{"id": int64(1), "body": "cat"}, Score: 0.5, Distance: ptr(0.5)},
		},
	}
}

func TestRowID_Compare(t *testing.T) {
	tests := []struct {
		a, b RowID
		want int
	}{
		{IntID(1), IntID(2), -1},
		{IntID(2), IntID(2), 0},
		{IntID(10), StringID("1"), -1},
		{StringID("a"), IntID(1), 1},
		{StringID("a"), StringID("b"), -1},
	}
	for _, tc := range tests {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestIDOf(t *testing.T) {
	tests := []struct {
		in   any
		want RowID
	}{
		{int32(7), IntID(7)},
		{float64(3), IntID(3)},
		{json.Number("42"), IntID(42)},
		{"abc", StringID("abc")},
		{[]byte("x"), StringID("x")},
	}
	for _, tc := range tests {
		got, ok := IDOf(tc.in)
		if !ok || got != tc.want {
			t.Errorf("IDOf(%v) = %v, %v", tc.in, got, ok)
		}
	}
	if _, ok := IDOf(struct{}{}); ok {
		t.Error("expected struct to be rejected")
	}
}

func TestRowID_JSON(t *testing.T) {
	for _, id := range []RowID{IntID(5), StringID("k")} {
		b, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back RowID
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != id {
			t.Errorf("round trip %v -> %s -> %v", id, b, back)
		}
	}
}

func TestRecords_PreserveOrder(t *testing.T) {
	recs := sample().Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0][RowIDColumn] != int64(2) || recs[1][RowIDColumn] != int64(1) {
		t.Errorf("order changed: %v", recs)
	}
	if recs[0][DistanceColumn] != 0.1 {
		t.Errorf("missing distance: %v", recs[0])
	}
	if _, ok := recs[0][TextScoreColumn]; ok {
		t.Error("text score should be absent for vector rows")
	}
}

func TestRecords_ScanHasNoScore(t *testing.T) {
	r := &Result{Mode: mode.Scan, Rows: []Row{{ID: IntID(1), Values: map[string]any{"a": 1}}}}
	if _, ok := r.Records()[0][ScoreColumn]; ok {
		t.Error("scan rows must not carry a score")
	}
}

func TestColumns(t *testing.T) {
	cols := sample().Columns()
	if got := cols["body"]; len(got) != 2 || got[0] != "dog" || got[1] != "cat" {
		t.Errorf("body column = %v", got)
	}
	if got := cols[ScoreColumn]; got[0] != 0.9 {
		t.Errorf("score column = %v", got)
	}
	if _, ok := cols[TextScoreColumn]; ok {
		t.Error("unexpected text score column")
	}
}

func TestJSON(t *testing.T) {
	b, err := sample().JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0]["body"] != "dog" {
		t.Errorf("unexpected JSON %s", b)
	}
}
