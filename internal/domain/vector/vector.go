// Package vector holds distance metrics and client-side distance computation.
package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Metric is a vector distance metric.
type Metric string

const (
	// Cosine is 1 - cosine similarity.
	Cosine Metric = "cosine"
	// L2 is Euclidean distance.
	L2 Metric = "l2"
	// Dot is the negated inner product.
	Dot Metric = "dot"
)

// IsValid reports whether m is a known metric.
func (m Metric) IsValid() bool {
	switch m {
	case Cosine, L2, Dot:
		return true
	default:
		return false
	}
}

// ParseMetric accepts metric names case-insensitively, including the
// "euclidean" and "inner_product" aliases.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return Cosine, nil
	case "l2", "euclidean":
		return L2, nil
	case "dot", "ip", "inner_product":
		return Dot, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Distance computes the distance between a and b. Smaller is closer for every metric.
// Vectors must have equal length.
func Distance(m Metric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("length mismatch: %d vs %d", len(a), len(b))
	}
	switch m {
	case Cosine:
		return cosineDistance(a, b), nil
	case L2:
		return euclidean(a, b), nil
	case Dot:
		return -dot(a, b), nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q", m)
	}
}

// Similarity maps a distance to a score where larger is closer.
func Similarity(m Metric, distance float64) float64 {
	switch m {
	case Cosine:
		return 1 - distance
	default:
		return -distance
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosineDistance(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	// zero vectors have no direction
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - d/(math.Sqrt(na)*math.Sqrt(nb))
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// ToFloat32 converts a numeric slice of any supported element type.
func ToFloat32(v any) ([]float32, bool) {
	switch t := v.(type) {
	case []float32:
		return t, true
	case []float64:
		out := make([]float32, len(t))
		for i, x := range t {
			out[i] = float32(x)
		}
		return out, true
	case []any:
		out := make([]float32, len(t))
		for i, x := range t {
			switch n := x.(type) {
			case float64:
				out[i] = float32(n)
			case float32:
				out[i] = n
			case int:
				out[i] = float32(n)
			case int64:
				out[i] = float32(n)
			case json.Number:
				f, err := n.Float64()
				if err != nil {
					return nil, false
				}
				out[i] = float32(f)
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// HasNonFinite reports NaN or Inf components.
func HasNonFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
