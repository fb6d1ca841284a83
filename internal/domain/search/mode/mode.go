package mode

import "fmt"

// Mode is the query strategy.
type Mode string

// Query modes.
const (
	// VectorOnly ranks by vector distance.
	VectorOnly Mode = "vector"
	// TextOnly ranks by full-text relevance.
	TextOnly Mode = "fts"
	// Hybrid fuses vector and text rankings.
	Hybrid Mode = "hybrid"
	// Scan applies filter and projection without ranking.
	Scan Mode = "scan"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == VectorOnly || m == TextOnly || m == Hybrid || m == Scan
}

// Ranked reports whether rows carry a score.
func (m Mode) Ranked() bool { return m != Scan }

// Parse accepts the mode names plus "text" and "vector_only" style aliases.
func Parse(s string) (Mode, error) {
	switch s {
	case "vector", "vector_only", "knn":
		return VectorOnly, nil
	case "fts", "text", "text_only", "keyword":
		return TextOnly, nil
	case "hybrid":
		return Hybrid, nil
	case "scan":
		return Scan, nil
	default:
		return "", fmt.Errorf("invalid query mode %q", s)
	}
}
