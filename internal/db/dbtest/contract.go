// Package dbtest is a behavioral suite every db.Transport must pass.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Factory returns a fresh, empty transport. The suite closes it.
type Factory func(t *testing.T) db.Transport

// DocsSchema is the fixture schema: id int64 pk, body text, price float64, v vector(2).
func DocsSchema() schema.Schema {
	id, _ := schema.NewColumn("id", schema.Int64)
	body, _ := schema.NewColumn("body", schema.Text)
	price, _ := schema.NewColumn("price", schema.Float64)
	v, _ := schema.NewVectorColumn("v", 2, schema.Float32Element)
	s, err := schema.New("id", id, body, price, v)
	if err != nil {
		panic(err)
	}
	return s
}

// DocsRows are the fixture rows.
func DocsRows() []db.Row {
	return []db.Row{
		{"id": int64(1), "body": "the quick brown fox", "price": 5.0, "v": []float32{1, 0}},
		{"id": int64(2), "body": "lazy dog sleeps", "price": 15.0, "v": []float32{0, 1}},
		{"id": int64(3), "body": "quick dog runs fast", "price": 25.0, "v": []float32{0.7, 0.7}},
	}
}

// Seed creates table name with the fixture schema and rows.
func Seed(t *testing.T, tr db.Transport, name string) {
	t.Helper()
	ctx := context.Background()
	if err := tr.CreateTable(ctx, name, DocsSchema()); err != nil {
		t.Fatalf("create table: %v", err)
	}
	n, err := tr.RunMutation(ctx, &db.Mutation{Table: name, Kind: db.MutationInsert, Rows: DocsRows()})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 inserted rows, got %d", n)
	}
}

// IDs extracts row ids in order.
func IDs(t *testing.T, rs *db.RowSet) []string {
	t.Helper()
	out := make([]string, len(rs.Rows))
	for i, r := range rs.Rows {
		id, ok := result.IDOf(r[db.RowIDColumn])
		if !ok {
			t.Fatalf("row %d has no usable %s: %v", i, db.RowIDColumn, r)
		}
		out[i] = id.String()
	}
	return out
}

func expectIDs(t *testing.T, rs *db.RowSet, want ...string) {
	t.Helper()
	got := IDs(t, rs)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected ids %v, got %v", want, got)
	}
}

// RunContract runs the suite against transports made by f.
func RunContract(t *testing.T, f Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, tr db.Transport)
	}{
		{"Tables", testTables},
		{"Rename", testRename},
		{"Scan", testScan},
		{"Count", testCount},
		{"KNN", testKNN},
		{"Text", testText},
		{"Mutations", testMutations},
		{"InsertValidation", testInsertValidation},
		{"Indexes", testIndexes},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := f(t)
			t.Cleanup(func() { _ = tr.Close() })
			tc.fn(t, tr)
		})
	}
}

func testTables(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	if err := tr.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	Seed(t, tr, "docs")

	names, err := tr.ListTables(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if fmt.Sprint(names) != "[docs]" {
		t.Errorf("unexpected tables %v", names)
	}

	s, err := tr.FetchSchema(ctx, "docs")
	if err != nil {
		t.Fatalf("fetch schema: %v", err)
	}
	vc, ok := s.VectorColumn()
	if !ok || vc.Name() != "v" || vc.Dim() != 2 {
		t.Errorf("unexpected vector column %+v", vc)
	}
	if s.PrimaryKey() != "id" {
		t.Errorf("expected primary key id, got %q", s.PrimaryKey())
	}

	if err := tr.CreateTable(ctx, "docs", DocsSchema()); db.OutcomeOf(err) != db.OutcomeFatal || err == nil {
		t.Errorf("duplicate create should fail fatally, got %v", err)
	}
	if _, err := tr.FetchSchema(ctx, "missing"); !db.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := tr.DropTable(ctx, "docs"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := tr.DropTable(ctx, "docs"); !db.IsNotFound(err) {
		t.Errorf("second drop should be not found, got %v", err)
	}
}

func testRename(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")
	if err := tr.CreateTable(ctx, "taken", DocsSchema()); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := tr.RenameTable(ctx, "docs", "taken"); !errors.Is(err, db.ErrTableExists) {
		t.Errorf("rename onto an existing table: expected ErrTableExists, got %v", err)
	}
	if err := tr.RenameTable(ctx, "docs", "archive"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := tr.FetchSchema(ctx, "docs"); !db.IsNotFound(err) {
		t.Errorf("old name should be gone, got %v", err)
	}
	rs, err := tr.RunQuery(ctx, &db.Query{Table: "archive", Kind: db.QueryCount})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if rs.Total != 3 {
		t.Errorf("renamed table should keep its rows, got %d", rs.Total)
	}
	if err := tr.RenameTable(ctx, "missing", "elsewhere"); !db.IsNotFound(err) {
		t.Errorf("renaming a missing table: expected not found, got %v", err)
	}
}

func testScan(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	rs, err := tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryScan})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	expectIDs(t, rs, "1", "2", "3")

	rs, err = tr.RunQuery(ctx, &db.Query{
		Table:   "docs",
		Kind:    db.QueryScan,
		Filter:  filter.Gt("price", 10),
		Columns: []string{"body"},
		Limit:   1,
		Offset:  1,
	})
	if err != nil {
		t.Fatalf("scan page: %v", err)
	}
	expectIDs(t, rs, "3")
	if _, ok := rs.Rows[0]["price"]; ok {
		t.Error("projection leaked price")
	}
	if rs.Rows[0]["body"] != "quick dog runs fast" {
		t.Errorf("unexpected body %v", rs.Rows[0]["body"])
	}
}

func testCount(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	rs, err := tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryCount, Filter: filter.MustParse("price >= 15")})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if rs.Total != 2 {
		t.Errorf("expected 2, got %d", rs.Total)
	}
}

func testKNN(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	rs, err := tr.RunQuery(ctx, &db.Query{
		Table:        "docs",
		Kind:         db.QueryKNN,
		VectorColumn: "v",
		Vector:       []float32{1, 0},
		Metric:       vector.Cosine,
		Limit:        3,
	})
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	expectIDs(t, rs, "1", "3", "2")
	prev := -1.0
	for _, r := range rs.Rows {
		d, ok := asFloat(r[db.DistanceColumn])
		if !ok {
			t.Fatalf("row without distance: %v", r)
		}
		if d < prev {
			t.Errorf("distances not ascending: %v then %v", prev, d)
		}
		prev = d
	}

	rs, err = tr.RunQuery(ctx, &db.Query{
		Table:        "docs",
		Kind:         db.QueryKNN,
		VectorColumn: "v",
		Vector:       []float32{1, 0},
		Metric:       vector.L2,
		Filter:       filter.Gt("price", 10),
		Limit:        1,
	})
	if err != nil {
		t.Fatalf("filtered knn: %v", err)
	}
	expectIDs(t, rs, "3")

	_, err = tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryKNN, VectorColumn: "v", Vector: []float32{1, 0, 0}, Limit: 1})
	if err == nil {
		t.Error("expected error for wrong dimension")
	}
}

func testText(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	run := func(ts *db.TextSearch) *db.RowSet {
		t.Helper()
		ts.Columns = []string{"body"}
		rs, err := tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryText, Text: ts, Limit: 10})
		if err != nil {
			t.Fatalf("text %+v: %v", ts, err)
		}
		return rs
	}

	rs := run(&db.TextSearch{Query: "quick", Match: db.MatchPlain})
	if got := IDs(t, rs); len(got) != 2 {
		t.Errorf("expected 2 matches for quick, got %v", got)
	}
	for _, r := range rs.Rows {
		if s, ok := asFloat(r[db.ScoreColumn]); !ok || s <= 0 {
			t.Errorf("expected positive score, got %v", r[db.ScoreColumn])
		}
	}

	expectIDs(t, run(&db.TextSearch{Query: "quick brown", Match: db.MatchPhrase}), "1")
	expectIDs(t, run(&db.TextSearch{Query: "brown quick", Match: db.MatchPhrase}))
	expectIDs(t, run(&db.TextSearch{Match: db.MatchBoolean, Must: []string{"dog"}, MustNot: []string{"lazy"}}), "3")
	expectIDs(t, run(&db.TextSearch{Query: "zebra", Match: db.MatchPlain}))
}

func testMutations(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	n, err := tr.RunMutation(ctx, &db.Mutation{
		Table:  "docs",
		Kind:   db.MutationUpdate,
		Filter: filter.Eq("id", 2),
		Values: map[string]any{"price": 1.0},
	})
	if err != nil || n != 1 {
		t.Fatalf("update: n=%d err=%v", n, err)
	}
	rs, err := tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryScan, Filter: filter.Lt("price", 10)})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	expectIDs(t, rs, "1", "2")

	n, err = tr.RunMutation(ctx, &db.Mutation{Table: "docs", Kind: db.MutationDelete, Filter: filter.Eq("id", 1)})
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	rs, err = tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryText, Text: &db.TextSearch{Query: "quick", Match: db.MatchPlain, Columns: []string{"body"}}, Limit: 10})
	if err != nil {
		t.Fatalf("text after delete: %v", err)
	}
	expectIDs(t, rs, "3")

	n, err = tr.RunMutation(ctx, &db.Mutation{
		Table: "docs",
		Kind:  db.MutationOverwrite,
		Rows:  []db.Row{{"id": int64(9), "body": "fresh", "price": 1.0, "v": []float32{0, 1}}},
	})
	if err != nil || n != 1 {
		t.Fatalf("overwrite: n=%d err=%v", n, err)
	}
	rs, err = tr.RunQuery(ctx, &db.Query{Table: "docs", Kind: db.QueryScan})
	if err != nil {
		t.Fatalf("scan after overwrite: %v", err)
	}
	expectIDs(t, rs, "9")
}

func testInsertValidation(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	_, err := tr.RunMutation(ctx, &db.Mutation{
		Table: "docs",
		Kind:  db.MutationInsert,
		Rows:  []db.Row{{"id": int64(4), "body": "bad", "price": 1.0, "v": []float32{1, 2, 3}}},
	})
	if err == nil || db.OutcomeOf(err) != db.OutcomeFatal {
		t.Errorf("expected fatal dimension error, got %v", err)
	}

	_, err = tr.RunMutation(ctx, &db.Mutation{Table: "missing", Kind: db.MutationInsert, Rows: DocsRows()})
	if !db.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func testIndexes(t *testing.T, tr db.Transport) {
	ctx := context.Background()
	Seed(t, tr, "docs")

	spec := db.IndexSpec{
		Name:   "docs_v_idx",
		Kind:   index.KindVector,
		Column: "v",
		Params: index.Params{Algorithm: index.IVFFlat, Metric: vector.Cosine, Partitions: 1},
	}
	if err := tr.CreateIndex(ctx, "docs", spec); err != nil {
		t.Fatalf("create index: %v", err)
	}
	fts := db.IndexSpec{Name: "docs_body_fts_idx", Kind: index.KindFullText, Column: "body", Params: index.Params{}.WithDefaults(index.KindFullText)}
	if err := tr.CreateIndex(ctx, "docs", fts); err != nil {
		t.Fatalf("create fts index: %v", err)
	}

	st, err := tr.DescribeIndex(ctx, "docs", "docs_v_idx")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if st.Kind != index.KindVector || st.Column != "v" {
		t.Errorf("unexpected state %+v", st)
	}

	list, err := tr.ListIndexes(ctx, "docs")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 indexes, got %+v", list)
	}

	if err := tr.DropIndex(ctx, "docs", "docs_v_idx"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := tr.DropIndex(ctx, "docs", "docs_v_idx"); !db.IsNotFound(err) {
		t.Errorf("second drop should be not found, got %v", err)
	}
	if _, err := tr.DescribeIndex(ctx, "docs", "docs_v_idx"); !db.IsNotFound(err) {
		t.Errorf("describe after drop should be not found, got %v", err)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
