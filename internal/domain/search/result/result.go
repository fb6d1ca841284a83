// Package result holds the ordered output of a query.
package result

import (
	"encoding/json"
	"slices"

	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
)

// Columns the engine adds to records.
const (
	RowIDColumn       = "_rowid"
	ScoreColumn       = "_score"
	DistanceColumn    = "_distance"
	TextScoreColumn   = "_text_score"
	VectorScoreColumn = "_vector_score"
)

// Degraded-performance reasons.
const (
	ReasonNoVectorIndex  = "no vector index"
	ReasonIndexStale     = "index stale"
	ReasonIndexBuilding  = "index building"
	ReasonMetricMismatch = "metric mismatch"
	ReasonIndexBypassed  = "index bypassed"
	ReasonNoTextIndex    = "no text index"
)

// Row is one output row.
type Row struct {
	ID     RowID
	Values map[string]any
	// Score is the ranking score, higher first. Zero in scan mode.
	Score float64
	// Distance is the raw vector distance.
	Distance *float64
	// Relevance is the raw full-text relevance.
	Relevance *float64
	// VectorNorm and TextNorm are the normalized hybrid sub-scores.
	VectorNorm *float64
	TextNorm   *float64
}

// Result is an ordered row sequence plus execution diagnostics.
type Result struct {
	Rows []Row
	// ColumnNames is the projection in output order.
	ColumnNames []string
	Mode        mode.Mode
	// TotalConsidered counts the candidate rows that were ranked.
	TotalConsidered int
	Degraded        bool
	DegradedReason  string
	Warnings        []string
	EmbeddingTokens int
}

// Len returns the row count.
func (r *Result) Len() int { return len(r.Rows) }

// IDs returns row ids in order.
func (r *Result) IDs() []RowID {
	ids := make([]RowID, len(r.Rows))
	for i, row := range r.Rows {
		ids[i] = row.ID
	}
	return ids
}

// Records returns one map per row with the engine columns added.
func (r *Result) Records() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = r.record(row)
	}
	return out
}

func (r *Result) record(row Row) map[string]any {
	rec := make(map[string]any, len(row.Values)+4)
	for k, v := range row.Values {
		rec[k] = v
	}
	rec[RowIDColumn] = row.ID.Value()
	if r.Mode.Ranked() {
		rec[ScoreColumn] = row.Score
	}
	if row.Distance != nil {
		rec[DistanceColumn] = *row.Distance
	}
	if row.Relevance != nil {
		rec[TextScoreColumn] = *row.Relevance
	}
	if row.VectorNorm != nil {
		rec[VectorScoreColumn] = *row.VectorNorm
	}
	return rec
}

// Columns returns a column-major view. Every slice has Len() entries in row
// order; missing values are nil.
func (r *Result) Columns() map[string][]any {
	names := r.OutputColumns()
	cols := make(map[string][]any, len(names))
	for _, n := range names {
		cols[n] = make([]any, len(r.Rows))
	}
	for i, row := range r.Rows {
		rec := r.record(row)
		for _, n := range names {
			cols[n][i] = rec[n]
		}
	}
	return cols
}

// OutputColumns lists projection columns then the engine columns present.
func (r *Result) OutputColumns() []string {
	names := slices.Clone(r.ColumnNames)
	if len(names) == 0 {
		seen := map[string]bool{}
		for _, row := range r.Rows {
			for k := range row.Values {
				if !seen[k] {
					seen[k] = true
					names = append(names, k)
				}
			}
		}
		slices.Sort(names)
	}
	names = append(names, RowIDColumn)
	if r.Mode.Ranked() {
		names = append(names, ScoreColumn)
	}
	var dist, text, vec bool
	for _, row := range r.Rows {
		dist = dist || row.Distance != nil
		text = text || row.Relevance != nil
		vec = vec || row.VectorNorm != nil
	}
	if dist {
		names = append(names, DistanceColumn)
	}
	if text {
		names = append(names, TextScoreColumn)
	}
	if vec {
		names = append(names, VectorScoreColumn)
	}
	return names
}

// JSON encodes the records as an array in row order.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(r.Records())
}
