package search

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
)

// materializer turns backend rows into result rows for one plan.
type materializer struct {
	columns []string
}

func newMaterializer(p plan.Plan, s schema.Schema) materializer {
	cols := p.Projection()
	if cols == nil {
		cols = s.Names()
	}
	return materializer{columns: cols}
}

// fetch returns the columns to request from the backend: the projection plus
// extra, or nil (all columns) when the plan has no projection.
func (m materializer) fetch(p plan.Plan, extra ...string) []string {
	proj := p.Projection()
	if proj == nil {
		return nil
	}
	for _, c := range extra {
		if !slices.Contains(proj, c) {
			proj = append(proj, c)
		}
	}
	return proj
}

// row keeps the output columns of r. Engine columns are dropped.
func (m materializer) row(r db.Row) (result.Row, error) {
	id, ok := result.IDOf(r[db.RowIDColumn])
	if !ok {
		return result.Row{}, fmt.Errorf("backend row has no usable %s", db.RowIDColumn)
	}
	values := make(map[string]any, len(m.columns))
	for _, c := range m.columns {
		values[c] = r[c]
	}
	return result.Row{ID: id, Values: values}, nil
}

// candidate is a ranked backend row.
type candidate struct {
	row result.Row
	// distance is set for vector candidates.
	distance float64
	// score is similarity for vector candidates, relevance for text.
	score float64
}

// byScore orders by score descending, ties by row id ascending.
func byScore(a, b candidate) int {
	switch {
	case a.score > b.score:
		return -1
	case a.score < b.score:
		return 1
	}
	return a.row.ID.Compare(b.row.ID)
}

// byDistance orders by distance ascending, ties by row id ascending.
func byDistance(a, b candidate) int {
	switch {
	case a.distance < b.distance:
		return -1
	case a.distance > b.distance:
		return 1
	}
	return a.row.ID.Compare(b.row.ID)
}

func byRowScore(a, b result.Row) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	return a.ID.Compare(b.ID)
}

// page skips offset elements and keeps at most limit. limit 0 keeps all.
func page[T any](xs []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(xs) {
		return nil
	}
	xs = xs[offset:]
	if limit > 0 && len(xs) > limit {
		xs = xs[:limit]
	}
	return xs
}

// floatOf reads a backend score or distance.
func floatOf(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func ptr(f float64) *float64 { return &f }
