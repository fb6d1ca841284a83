package search

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
	"github.com/kailas-cloud/holodex/internal/metrics"
)

func TestExecute_HybridExample(t *testing.T) {
	modes(t, func(t *testing.T, async bool) {
		st, target := petsTarget(t)
		p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).WithText("cat").Limit(2).Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}

		res, err := New(st, Config{Async: async}).Execute(context.Background(), p, target)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := ids(res); got != "[1 2]" {
			t.Errorf("expected order [1 2], got %s", got)
		}
		if res.Mode != mode.Hybrid {
			t.Errorf("expected hybrid mode, got %s", res.Mode)
		}
		if res.Degraded {
			t.Errorf("unexpected degraded result: %s", res.DegradedReason)
		}
		if res.Rows[0].Score != 1 || res.Rows[1].Score != 0 {
			t.Errorf("expected fused scores 1 and 0, got %v and %v", res.Rows[0].Score, res.Rows[1].Score)
		}
		if res.Rows[1].TextNorm == nil || *res.Rows[1].TextNorm != 0 {
			t.Error("row missing from the text list should have text norm 0")
		}
		if res.TotalConsidered != 2 {
			t.Errorf("expected 2 considered rows, got %d", res.TotalConsidered)
		}
	})
}

func TestExecute_HybridDeterministic(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).WithVector([]float32{0.6, 0.8}).WithText("dog").Limit(3).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var first []byte
	for _, async := range []bool{false, true, false, true} {
		res, err := New(st, Config{Async: async}).Execute(context.Background(), p, target)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out, err := res.JSON()
		if err != nil {
			t.Fatalf("json: %v", err)
		}
		if first == nil {
			first = out
			continue
		}
		if string(out) != string(first) {
			t.Fatalf("results differ between runs:\n%s\n%s", first, out)
		}
	}
}

func TestExecute_VectorOnly(t *testing.T) {
	modes(t, func(t *testing.T, async bool) {
		st, target := seededDocs(t)
		target.Indexes = []index.Descriptor{vectorIndex("v", vector.Cosine, index.Ready)}
		p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).Limit(3).Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}

		res, err := New(st, Config{Async: async}).Execute(context.Background(), p, target)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := ids(res); got != "[1 3 2]" {
			t.Errorf("expected [1 3 2], got %s", got)
		}
		if res.Degraded {
			t.Errorf("unexpected degraded result: %s", res.DegradedReason)
		}
		if !slices.IsSortedFunc(res.Rows, func(a, b result.Row) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			}
			return 0
		}) {
			t.Error("rows should be sorted by similarity descending")
		}
		for _, r := range res.Rows {
			if r.Distance == nil {
				t.Fatalf("row %s has no distance", r.ID)
			}
			if math.Abs(r.Score-(1-*r.Distance)) > 1e-9 {
				t.Errorf("cosine similarity should be 1-d, got score %v for distance %v", r.Score, *r.Distance)
			}
		}
	})
}

func TestExecute_VectorLimitOffset(t *testing.T) {
	st, target := seededDocs(t)
	target.Indexes = []index.Descriptor{vectorIndex("v", vector.Cosine, index.Ready)}
	p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).Limit(1).Offset(1).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(res); got != "[3]" {
		t.Errorf("expected [3], got %s", got)
	}
}

func TestExecute_VectorFallback(t *testing.T) {
	tests := []struct {
		name    string
		indexes []index.Descriptor
		build   func(b plan.Builder) plan.Builder
		reason  string
	}{
		{
			name:    "stale index",
			indexes: []index.Descriptor{vectorIndex("v", vector.Cosine, index.Stale)},
			reason:  result.ReasonIndexStale,
		},
		{
			name:    "building index",
			indexes: []index.Descriptor{vectorIndex("v", vector.Cosine, index.Building)},
			reason:  result.ReasonIndexBuilding,
		},
		{
			name:   "no index",
			reason: result.ReasonNoVectorIndex,
		},
		{
			name:    "metric mismatch",
			indexes: []index.Descriptor{vectorIndex("v", vector.L2, index.Ready)},
			build:   func(b plan.Builder) plan.Builder { return b.Metric(vector.Cosine) },
			reason:  result.ReasonMetricMismatch,
		},
		{
			name:    "bypass",
			indexes: []index.Descriptor{vectorIndex("v", vector.Cosine, index.Ready)},
			build:   func(b plan.Builder) plan.Builder { return b.BypassIndex() },
			reason:  result.ReasonIndexBypassed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, target := seededDocs(t)
			target.Indexes = tc.indexes
			b := plan.For(target.Schema).WithVector([]float32{1, 0}).Limit(3)
			if tc.build != nil {
				b = tc.build(b)
			}
			p, err := b.Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}

			reg := prometheus.NewRegistry()
			res, err := New(st, Config{Metrics: metrics.NewSDK(reg)}).Execute(context.Background(), p, target)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Degraded || res.DegradedReason != tc.reason {
				t.Errorf("expected degraded %q, got %v %q", tc.reason, res.Degraded, res.DegradedReason)
			}
			if got := ids(res); got != "[1 3 2]" {
				t.Errorf("fallback should rank correctly, got %s", got)
			}
			if res.TotalConsidered != 3 {
				t.Errorf("expected 3 scanned rows, got %d", res.TotalConsidered)
			}
			n, err := testutil.GatherAndCount(reg, "holodex_sdk_degraded_queries_total")
			if err != nil {
				t.Fatalf("gather: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 degraded series, got %d", n)
			}
		})
	}
}

func TestExecute_FallbackMatchesKNN(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).WithVector([]float32{0.2, 0.9}).Metric(vector.L2).Limit(3).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	eng := New(st, Config{})

	target.Indexes = []index.Descriptor{vectorIndex("v", vector.L2, index.Ready)}
	indexed, err := eng.Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("indexed: %v", err)
	}
	target.Indexes = []index.Descriptor{vectorIndex("v", vector.L2, index.Stale)}
	scanned, err := eng.Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("scanned: %v", err)
	}
	if ids(indexed) != ids(scanned) {
		t.Errorf("scan fallback order %s differs from knn order %s", ids(scanned), ids(indexed))
	}
	if indexed.Degraded || !scanned.Degraded {
		t.Error("only the scan fallback should be degraded")
	}
}

func TestExecute_RequireIndex(t *testing.T) {
	tests := []struct {
		name    string
		indexes []index.Descriptor
		state   string
	}{
		{"absent", nil, "absent"},
		{"stale", []index.Descriptor{vectorIndex("v", vector.Cosine, index.Stale)}, "stale"},
		{"building", []index.Descriptor{vectorIndex("v", vector.Cosine, index.Building)}, "building"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, target := seededDocs(t)
			target.Indexes = tc.indexes
			p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).RequireIndex().Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}

			_, err = New(st, Config{}).Execute(context.Background(), p, target)
			if !errors.Is(err, domain.ErrIndexState) {
				t.Fatalf("expected ErrIndexState, got %v", err)
			}
			var ise *domain.IndexStateError
			if !errors.As(err, &ise) || ise.State != tc.state || ise.Column != "v" {
				t.Errorf("unexpected index state error: %+v", ise)
			}
			var qe *domain.QueryError
			if !errors.As(err, &qe) || qe.Table != "docs" || qe.Mode != string(mode.VectorOnly) {
				t.Errorf("expected query error for docs/vector, got %+v", qe)
			}
		})
	}
}

func TestExecute_TextOnly(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).WithText("quick").Limit(5).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(res); got != "[1 3]" {
		t.Errorf("expected [1 3], got %s", got)
	}
	for _, r := range res.Rows {
		if r.Relevance == nil || *r.Relevance != r.Score || r.Score <= 0 {
			t.Errorf("row %s should carry positive relevance as its score", r.ID)
		}
	}
	if !res.Degraded || res.DegradedReason != result.ReasonNoTextIndex {
		t.Errorf("expected no-text-index degradation, got %q", res.DegradedReason)
	}
}

func TestExecute_TextRequireIndex(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).WithText("quick").RequireIndex().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = New(st, Config{}).Execute(context.Background(), p, target)
	if !errors.Is(err, domain.ErrIndexState) {
		t.Fatalf("expected ErrIndexState, got %v", err)
	}

	target.Indexes = []index.Descriptor{
		index.Reconstruct("body_fts", index.KindFullText, "body", index.Params{}.WithDefaults(index.KindFullText), index.Ready),
	}
	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error with ready index: %v", err)
	}
	if res.Degraded {
		t.Error("ready text index should not degrade")
	}
}

func TestExecute_Scan(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).Filter("price > 10").Select("body").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(res); got != "[2 3]" {
		t.Errorf("expected [2 3], got %s", got)
	}
	if !slices.Equal(res.ColumnNames, []string{"body"}) {
		t.Errorf("expected projection [body], got %v", res.ColumnNames)
	}
	for _, r := range res.Rows {
		if len(r.Values) != 1 || r.Values["body"] == nil {
			t.Errorf("row %s should only carry body, got %v", r.ID, r.Values)
		}
	}
}

func TestExecute_ProjectionDropsVectorOnFallback(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).Select("price").Limit(2).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range res.Rows {
		if _, ok := r.Values["v"]; ok {
			t.Errorf("vector column leaked into projection: %v", r.Values)
		}
	}
}

func TestExecute_RawProbe(t *testing.T) {
	st, target := seededDocs(t)
	emb := &stubEmbedder{vec: []float32{1, 0}, tokens: 7}
	target.Embedder = emb

	p, err := plan.For(target.Schema).WithValue("fox").Limit(1).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(res); got != "[1]" {
		t.Errorf("expected [1], got %s", got)
	}
	if res.EmbeddingTokens != 7 {
		t.Errorf("expected 7 embedding tokens, got %d", res.EmbeddingTokens)
	}

	target.Embedder = nil
	_, err = New(st, Config{}).Execute(context.Background(), p, target)
	if !errors.Is(err, domain.ErrNoEmbeddingFunction) {
		t.Errorf("expected ErrNoEmbeddingFunction, got %v", err)
	}
}

func TestExecute_EmbeddingFailure(t *testing.T) {
	st, target := seededDocs(t)
	target.Embedder = &stubEmbedder{err: errors.New("provider down")}
	p, err := plan.For(target.Schema).WithValue("fox").WithText("fox").Limit(1).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = New(st, Config{}).Execute(context.Background(), p, target)
	if !errors.Is(err, domain.ErrEmbedding) || !errors.Is(err, domain.ErrHybridExecution) {
		t.Fatalf("expected embedding failure inside hybrid error, got %v", err)
	}
	var he *domain.HybridExecutionError
	if errors.As(err, &he) && he.SubQuery != domain.SubQueryVector {
		t.Errorf("expected vector sub-query, got %s", he.SubQuery)
	}
}

func TestExecute_HybridSubQueryFailure(t *testing.T) {
	tests := []struct {
		name     string
		failKind db.QueryKind
		err      error
		subQuery string
		sentinel error
	}{
		{"text fatal", db.QueryText, db.Fatal(db.OpQuery, errors.New("syntax error")), domain.SubQueryText, domain.ErrTransportFatal},
		{"text transient", db.QueryText, db.Transient(db.OpQuery, errors.New("timeout")), domain.SubQueryText, domain.ErrTransport},
		{"vector fatal", db.QueryKNN, db.Fatal(db.OpQuery, errors.New("bad operator")), domain.SubQueryVector, domain.ErrTransportFatal},
		{"not found", db.QueryText, db.NotFound(db.OpQuery, db.ErrTableNotFound), domain.SubQueryText, domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			modes(t, func(t *testing.T, async bool) {
				st, target := petsTarget(t)
				q := &failingQuerier{inner: st, fail: func(q *db.Query) error {
					if q.Kind == tc.failKind {
						return tc.err
					}
					return nil
				}}
				p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).WithText("cat").Limit(2).Build()
				if err != nil {
					t.Fatalf("build: %v", err)
				}

				res, err := New(q, Config{Async: async}).Execute(context.Background(), p, target)
				if res != nil {
					t.Error("no partial result expected")
				}
				var he *domain.HybridExecutionError
				if !errors.As(err, &he) {
					t.Fatalf("expected HybridExecutionError, got %v", err)
				}
				if he.SubQuery != tc.subQuery {
					t.Errorf("expected %s sub-query, got %s", tc.subQuery, he.SubQuery)
				}
				if !errors.Is(err, tc.sentinel) {
					t.Errorf("expected %v in chain, got %v", tc.sentinel, err)
				}
				var qe *domain.QueryError
				if !errors.As(err, &qe) || qe.Table != "pets" || qe.Mode != string(mode.Hybrid) {
					t.Errorf("expected query error for pets/hybrid, got %+v", qe)
				}
			})
		})
	}
}

func TestExecute_HybridCancelsSibling(t *testing.T) {
	st, target := petsTarget(t)
	textStarted := make(chan struct{})
	q := &failingQuerier{inner: st, pipe: true, fail: func(q *db.Query) error {
		if q.Kind == db.QueryText {
			close(textStarted)
			return db.Fatal(db.OpQuery, errors.New("boom"))
		}
		return nil
	}}
	block := &blockingQuerier{inner: q, kind: db.QueryKNN, started: textStarted}
	p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).WithText("cat").Limit(2).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err = New(block, Config{}).Execute(context.Background(), p, target)
	var he *domain.HybridExecutionError
	if !errors.As(err, &he) || he.SubQuery != domain.SubQueryText {
		t.Fatalf("expected the text failure to be reported first, got %v", err)
	}
	if !block.cancelled {
		t.Error("vector sub-query should observe cancellation")
	}
}

// blockingQuerier holds queries of kind until ctx is done.
type blockingQuerier struct {
	inner     Querier
	kind      db.QueryKind
	started   chan struct{}
	cancelled bool
}

func (b *blockingQuerier) RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error) {
	if q.Kind != b.kind {
		return b.inner.RunQuery(ctx, q)
	}
	<-b.started
	<-ctx.Done()
	b.cancelled = true
	return nil, db.Fatal(db.OpQuery, ctx.Err())
}

func (b *blockingQuerier) Capabilities() db.Capabilities { return b.inner.Capabilities() }

func TestExecute_PlanWarningsCarried(t *testing.T) {
	st, target := seededDocs(t)
	p, err := plan.For(target.Schema).Mode(mode.VectorOnly).WithVector([]float32{1, 0}).WithText("fox").Limit(1).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := New(st, Config{}).Execute(context.Background(), p, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected the ignored text probe warning")
	}
}

// tiedQuerier answers KNN queries with n rows at equal distance, ordered
// and truncated by row id the way a SQL backend does.
type tiedQuerier struct{ n int }

func (q tiedQuerier) RunQuery(_ context.Context, dq *db.Query) (*db.RowSet, error) {
	rs := &db.RowSet{}
	for i := 1; i <= q.n && (dq.Limit == 0 || len(rs.Rows) < dq.Limit); i++ {
		rs.Rows = append(rs.Rows, db.Row{db.RowIDColumn: int64(i), db.DistanceColumn: 0.5})
	}
	return rs, nil
}

func (tiedQuerier) Capabilities() db.Capabilities { return db.Capabilities{Name: "tied"} }

func TestExecute_TiedPagesPartition(t *testing.T) {
	_, target := seededDocs(t)
	target.Indexes = []index.Descriptor{vectorIndex("v", vector.Cosine, index.Ready)}
	e := New(tiedQuerier{n: 20}, Config{})

	seen := make(map[int64]int)
	for _, offset := range []int{0, 10} {
		p, err := plan.For(target.Schema).WithVector([]float32{1, 0}).Limit(10).Offset(offset).Build()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		res, err := e.Execute(context.Background(), p, target)
		if err != nil {
			t.Fatalf("execute offset %d: %v", offset, err)
		}
		got := res.IDs()
		if len(got) != 10 {
			t.Fatalf("offset %d: got %d rows, want 10", offset, len(got))
		}
		for i, id := range got {
			want := int64(offset + i + 1)
			if n, ok := id.Value().(int64); !ok || n != want {
				t.Errorf("offset %d row %d: got id %v, want %d", offset, i, id, want)
				continue
			}
			seen[want]++
		}
	}
	if len(seen) != 20 {
		t.Errorf("pages overlap: %d distinct ids of 20", len(seen))
	}
}
