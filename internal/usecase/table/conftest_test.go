package table

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/dbtest"
	"github.com/kailas-cloud/holodex/internal/db/memory"
	"github.com/kailas-cloud/holodex/internal/domain"
)

type mockMarker struct {
	mu     sync.Mutex
	tables []string
}

func (m *mockMarker) MarkStale(table string) {
	m.mu.Lock()
	m.tables = append(m.tables, table)
	m.mu.Unlock()
}

func (m *mockMarker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

// singleEmbedder embeds one text per call.
type singleEmbedder struct {
	mu     sync.Mutex
	dim    int
	calls  int
	failOn string
}

func (e *singleEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if text == e.failOn {
		return domain.EmbeddingResult{}, errors.New("provider rejected input")
	}
	v := make([]float32, e.dim)
	v[0] = float32(len(text))
	return domain.EmbeddingResult{Embedding: v, TotalTokens: 2}, nil
}

// batchEmbedder also implements BatchEmbed.
type batchEmbedder struct {
	singleEmbedder
	batches [][]string
}

func (e *batchEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.batches = append(e.batches, texts)
	out := domain.BatchEmbeddingResult{}
	for _, text := range texts {
		res, err := e.singleEmbedder.Embed(ctx, text)
		if err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		out.Embeddings = append(out.Embeddings, res.Embedding)
		out.TotalTokens += res.TotalTokens
	}
	return out, nil
}

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New("table")
	dbtest.Seed(t, st, "docs")
	return st
}

func newService(t *testing.T, st *memory.Store, cfg Config) (*Service, *mockMarker) {
	t.Helper()
	marker := &mockMarker{}
	svc, err := New(st, marker, "docs", dbtest.DocsSchema(), cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, marker
}

func count(t *testing.T, svc *Service) int64 {
	t.Helper()
	n, err := svc.Count(context.Background(), nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func vectorOf(t *testing.T, st *memory.Store, id int64) []float32 {
	t.Helper()
	rs, err := st.RunQuery(context.Background(), &db.Query{Table: "docs", Kind: db.QueryScan})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, r := range rs.Rows {
		if r["id"] == id {
			v, _ := r["v"].([]float32)
			return v
		}
	}
	t.Fatalf("row %d not found", id)
	return nil
}
