package search

import (
	"slices"

	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
)

// Candidate limit bounds.
const (
	candidateFactor = 4
	minCandidates   = 50
)

// CandidateLimit returns the per-sub-query fetch size of a hybrid query.
// It is always greater than limit+offset; an override below that is raised.
func CandidateLimit(limit, offset, override int) int {
	floor := limit + offset + 1
	if override > 0 {
		return max(override, floor)
	}
	return max(candidateFactor*limit, minCandidates, floor)
}

// normalize min-max scales scores to [0,1]. Equal scores all map to 1.
func normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := slices.Min(scores), slices.Max(scores)
	for i, s := range scores {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

func scoresOf(cs []candidate) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.score
	}
	return out
}

// fuse combines the vector and text rankings as w.Vector*nv + w.Text*nt.
// A row missing from one list scores 0 on that side. The output is ordered
// by fused score descending, ties by row id ascending.
func fuse(vec, text []candidate, w plan.Weights) []result.Row {
	nv := normalize(scoresOf(vec))
	nt := normalize(scoresOf(text))

	type entry struct {
		row  result.Row
		v, t float64
	}
	byID := make(map[result.RowID]*entry, len(vec)+len(text))
	order := make([]*entry, 0, len(vec)+len(text))

	for i, c := range vec {
		r := c.row
		r.Distance = ptr(c.distance)
		e := &entry{row: r, v: nv[i]}
		byID[r.ID] = e
		order = append(order, e)
	}
	for i, c := range text {
		if e, ok := byID[c.row.ID]; ok {
			e.t = nt[i]
			e.row.Relevance = ptr(c.score)
			for k, v := range c.row.Values {
				if e.row.Values[k] == nil {
					e.row.Values[k] = v
				}
			}
			continue
		}
		r := c.row
		r.Relevance = ptr(c.score)
		e := &entry{row: r, t: nt[i]}
		byID[r.ID] = e
		order = append(order, e)
	}

	rows := make([]result.Row, len(order))
	for i, e := range order {
		r := e.row
		r.VectorNorm = ptr(e.v)
		r.TextNorm = ptr(e.t)
		r.Score = w.Vector*e.v + w.Text*e.t
		rows[i] = r
	}
	slices.SortStableFunc(rows, byRowScore)
	return rows
}
