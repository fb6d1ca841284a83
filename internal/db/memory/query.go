package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

type ranked struct {
	slot  uint32
	score float64
}

// RunQuery evaluates q against a snapshot of the table.
func (s *Store) RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, db.Fatal(db.OpQuery, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(db.OpQuery, q.Table)
	if err != nil {
		return nil, err
	}
	if err := t.schema.CheckColumns("columns", q.Columns); err != nil {
		return nil, db.Fatal(db.OpQuery, err)
	}
	if q.Filter != nil {
		if err := filter.Validate(q.Filter, t.schema); err != nil {
			return nil, db.Fatal(db.OpQuery, err)
		}
	}

	switch q.Kind {
	case db.QueryScan, "":
		return t.scan(q), nil
	case db.QueryCount:
		return &db.RowSet{Total: int64(len(t.matching(q.Filter)))}, nil
	case db.QueryKNN:
		rs, err := t.knn(q)
		if err != nil {
			return nil, db.Fatal(db.OpQuery, err)
		}
		return rs, nil
	case db.QueryText:
		rs, err := t.search(q)
		if err != nil {
			return nil, db.Fatal(db.OpQuery, err)
		}
		return rs, nil
	default:
		return nil, db.Fatal(db.OpQuery, fmt.Errorf("unknown query kind %q", q.Kind))
	}
}

func (t *table) scan(q *db.Query) *db.RowSet {
	slots := t.matching(q.Filter)
	slices.SortFunc(slots, func(a, b uint32) int { return t.ids[a].Compare(t.ids[b]) })
	slots = page(slots, q.Offset, q.Limit)

	rs := &db.RowSet{Rows: make([]db.Row, 0, len(slots))}
	for _, slot := range slots {
		rs.Rows = append(rs.Rows, t.output(slot, q.Columns))
	}
	return rs
}

func (t *table) knn(q *db.Query) (*db.RowSet, error) {
	col, ok := t.schema.VectorColumn()
	if !ok {
		return nil, fmt.Errorf("table has no vector column")
	}
	if q.VectorColumn != "" && q.VectorColumn != col.Name() {
		return nil, fmt.Errorf("unknown vector column %q", q.VectorColumn)
	}
	if err := t.schema.CheckVector(q.Vector); err != nil {
		return nil, err
	}
	metric := q.Metric
	if metric == "" {
		metric = vector.Cosine
		if st, ok := t.vectorIndex(); ok && st.Params.Metric != "" {
			metric = st.Params.Metric
		}
	}

	var hits []ranked
	for _, slot := range t.matching(q.Filter) {
		v, ok := t.rows[slot][col.Name()].([]float32)
		if !ok {
			continue
		}
		d, err := vector.Distance(metric, q.Vector, v)
		if err != nil {
			return nil, err
		}
		hits = append(hits, ranked{slot: slot, score: d})
	}
	slices.SortFunc(hits, func(a, b ranked) int {
		if c := cmp.Compare(a.score, b.score); c != 0 {
			return c
		}
		return t.ids[a.slot].Compare(t.ids[b.slot])
	})
	hits = page(hits, q.Offset, q.Limit)

	rs := &db.RowSet{Rows: make([]db.Row, 0, len(hits))}
	for _, h := range hits {
		row := t.output(h.slot, q.Columns)
		row[db.DistanceColumn] = h.score
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

func (t *table) search(q *db.Query) (*db.RowSet, error) {
	if q.Text == nil {
		return nil, fmt.Errorf("text query without text search")
	}
	cols := q.Text.Columns
	if len(cols) == 0 {
		cols = t.schema.TextColumns()
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table has no text columns")
	}
	for _, c := range cols {
		if _, ok := t.text[c]; !ok {
			return nil, fmt.Errorf("column %q is not a text column", c)
		}
	}

	var terms []string
	var candidates *roaring.Bitmap
	switch q.Text.Match {
	case db.MatchBoolean:
		terms, candidates = t.booleanCandidates(q.Text, cols)
	default:
		terms = tokenize(q.Text.Query)
		if len(terms) == 0 {
			return &db.RowSet{}, nil
		}
		per := make([]*roaring.Bitmap, 0, len(cols))
		for _, c := range cols {
			per = append(per, t.text[c].allOf(terms))
		}
		candidates = roaring.FastOr(per...)
	}

	var hits []ranked
	it := candidates.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if t.rows[slot] == nil {
			continue
		}
		if q.Filter != nil && !filter.Matches(q.Filter, t.rows[slot]) {
			continue
		}
		if q.Text.Match == db.MatchPhrase && !t.phraseIn(slot, cols, terms) {
			continue
		}
		var score float64
		for _, c := range cols {
			score += t.text[c].score(slot, terms)
		}
		hits = append(hits, ranked{slot: slot, score: score})
	}
	slices.SortFunc(hits, func(a, b ranked) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return t.ids[a.slot].Compare(t.ids[b.slot])
	})
	hits = page(hits, q.Offset, q.Limit)

	rs := &db.RowSet{Rows: make([]db.Row, 0, len(hits))}
	for _, h := range hits {
		row := t.output(h.slot, q.Columns)
		row[db.ScoreColumn] = h.score
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// booleanCandidates returns the scoring terms and the slots that contain
// every must term (or, without must terms, any should term) in one of the
// columns and no must-not term in any of them.
func (t *table) booleanCandidates(ts *db.TextSearch, cols []string) ([]string, *roaring.Bitmap) {
	must := tokenizeAll(ts.Must)
	should := tokenizeAll(ts.Should)
	mustNot := tokenizeAll(ts.MustNot)

	per := make([]*roaring.Bitmap, 0, len(cols))
	excluded := make([]*roaring.Bitmap, 0, len(cols))
	for _, c := range cols {
		p := t.text[c]
		if len(must) > 0 {
			per = append(per, p.allOf(must))
		} else {
			per = append(per, p.anyOf(should))
		}
		if len(mustNot) > 0 {
			excluded = append(excluded, p.anyOf(mustNot))
		}
	}
	candidates := roaring.FastOr(per...)
	if len(excluded) > 0 {
		candidates.AndNot(roaring.FastOr(excluded...))
	}
	return append(must, should...), candidates
}

func (t *table) phraseIn(slot uint32, cols, terms []string) bool {
	for _, c := range cols {
		if t.text[c].phrase(slot, terms) {
			return true
		}
	}
	return false
}

func tokenizeAll(phrases []string) []string {
	var out []string
	for _, p := range phrases {
		out = append(out, tokenize(p)...)
	}
	return out
}

// output copies the projected columns and the row id of slot.
func (t *table) output(slot uint32, cols []string) db.Row {
	row := db.Project(t.rows[slot], cols)
	for k, v := range row {
		if f, ok := v.([]float32); ok {
			row[k] = slices.Clone(f)
		}
	}
	row[db.RowIDColumn] = t.ids[slot].Value()
	return row
}

func page[T any](s []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(s) {
		return nil
	}
	s = s[offset:]
	if limit > 0 && limit < len(s) {
		s = s[:limit]
	}
	return s
}
