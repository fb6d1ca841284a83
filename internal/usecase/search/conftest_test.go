package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/dbtest"
	"github.com/kailas-cloud/holodex/internal/db/memory"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// failingQuerier fails queries selected by fail and forwards the rest.
type failingQuerier struct {
	inner Querier
	fail  func(q *db.Query) error
	pipe  bool
}

func (f *failingQuerier) RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error) {
	if f.fail != nil {
		if err := f.fail(q); err != nil {
			return nil, err
		}
	}
	return f.inner.RunQuery(ctx, q)
}

func (f *failingQuerier) Capabilities() db.Capabilities {
	return db.Capabilities{Pipelining: f.pipe, Name: "failing"}
}

// stubEmbedder returns a fixed vector.
type stubEmbedder struct {
	vec    []float32
	tokens int
	err    error
	calls  int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	s.calls++
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	return domain.EmbeddingResult{Embedding: s.vec, TotalTokens: s.tokens}, nil
}

func seededDocs(t *testing.T) (*memory.Store, Target) {
	t.Helper()
	st := memory.New("test")
	dbtest.Seed(t, st, "docs")
	return st, Target{Table: "docs", Schema: dbtest.DocsSchema()}
}

// petsTarget holds the two-row cat/dog table.
func petsTarget(t *testing.T) (*memory.Store, Target) {
	t.Helper()
	id, _ := schema.NewColumn("id", schema.Int64)
	text, _ := schema.NewColumn("text", schema.Text)
	v, _ := schema.NewVectorColumn("v", 2, schema.Float32Element)
	s, err := schema.New("id", id, text, v)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	st := memory.New("pets")
	ctx := context.Background()
	if err := st.CreateTable(ctx, "pets", s); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err = st.RunMutation(ctx, &db.Mutation{Table: "pets", Kind: db.MutationInsert, Rows: []db.Row{
		{"id": int64(1), "text": "cat", "v": []float32{1, 0}},
		{"id": int64(2), "text": "dog", "v": []float32{0, 1}},
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return st, Target{
		Table:  "pets",
		Schema: s,
		Indexes: []index.Descriptor{
			vectorIndex("v", vector.Cosine, index.Ready),
			index.Reconstruct("pets_text_fts", index.KindFullText, "text",
				index.Params{}.WithDefaults(index.KindFullText), index.Ready),
		},
	}
}

func vectorIndex(col string, m vector.Metric, s index.Status) index.Descriptor {
	p := index.Params{Metric: m}.WithDefaults(index.KindVector)
	return index.Reconstruct(col+"_idx", index.KindVector, col, p, s)
}

func ids(res *result.Result) string {
	return fmt.Sprint(res.IDs())
}

// modes runs fn once with sync and once with async dispatch.
func modes(t *testing.T, fn func(t *testing.T, async bool)) {
	t.Helper()
	for _, async := range []bool{false, true} {
		t.Run(fmt.Sprintf("async=%v", async), func(t *testing.T) { fn(t, async) })
	}
}
