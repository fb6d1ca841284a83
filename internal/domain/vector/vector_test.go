package vector

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		a, b   []float32
		want   float64
	}{
		{"cosine identical", Cosine, []float32{1, 0}, []float32{2, 0}, 0},
		{"cosine orthogonal", Cosine, []float32{1, 0}, []float32{0, 1}, 1},
		{"cosine opposite", Cosine, []float32{1, 0}, []float32{-1, 0}, 2},
		{"cosine zero vector", Cosine, []float32{0, 0}, []float32{1, 0}, 1},
		{"l2", L2, []float32{0, 0}, []float32{3, 4}, 5},
		{"dot", Dot, []float32{1, 2}, []float32{3, 4}, -11},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Distance(tc.metric, tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Distance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDistance_LengthMismatch(t *testing.T) {
	if _, err := Distance(L2, []float32{1}, []float32{1, 2}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSimilarity_MonotoneInDistance(t *testing.T) {
	for _, m := range []Metric{Cosine, L2, Dot} {
		if Similarity(m, 0.1) <= Similarity(m, 0.2) {
			t.Errorf("%s: similarity must decrease as distance grows", m)
		}
	}
}

func TestParseMetric(t *testing.T) {
	tests := map[string]Metric{
		"cosine": Cosine, "L2": L2, "euclidean": L2, "dot": Dot, "IP": Dot,
	}
	for in, want := range tests {
		got, err := ParseMetric(in)
		if err != nil {
			t.Errorf("ParseMetric(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMetric(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseMetric("hamming"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestToFloat32(t *testing.T) {
	got, ok := ToFloat32([]any{1.0, float32(2), 3})
	if !ok || len(got) != 3 || got[2] != 3 {
		t.Errorf("unexpected conversion: %v %v", got, ok)
	}
	if _, ok := ToFloat32([]any{"x"}); ok {
		t.Error("expected failure for non-numeric element")
	}
	if _, ok := ToFloat32("abc"); ok {
		t.Error("expected failure for string")
	}
}
