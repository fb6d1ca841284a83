package cloud

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
)

func TestFilterJSON_PreservesLiteralKinds(t *testing.T) {
	expr := filter.MustParse(`price >= 10 AND (tag IN ('a', 'b') OR NOT score < 0.5) AND note IS NOT NULL`)

	raw, err := json.Marshal(EncodeFilter(expr))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var node FilterNode
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&node); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := DecodeFilter(&node)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.String() != expr.String() {
		t.Errorf("got %s, want %s", got, expr)
	}

	row := map[string]any{"price": int64(12), "tag": "b", "score": 0.1, "note": "x"}
	if filter.Matches(got, row) != filter.Matches(expr, row) {
		t.Error("decoded filter evaluates differently")
	}
}

func TestDecodeFilter_Errors(t *testing.T) {
	tests := []struct {
		name string
		node *FilterNode
	}{
		{"unknown op", &FilterNode{Op: "~", Column: "a", Value: "x"}},
		{"bad literal", &FilterNode{Op: "=", Column: "a", Value: map[string]any{}}},
		{"nested", &FilterNode{Op: NodeAnd, Terms: []*FilterNode{{Op: "?"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeFilter(tc.node); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeFilter_Nil(t *testing.T) {
	e, err := DecodeFilter(nil)
	if e != nil || err != nil {
		t.Errorf("expected nil, got %v %v", e, err)
	}
}
