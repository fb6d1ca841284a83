// Package search executes query plans against a transport.
package search

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
	"github.com/kailas-cloud/holodex/internal/metrics"
	"github.com/kailas-cloud/holodex/internal/usecase/embedding"
)

// Querier is the part of a transport the engine reads through.
type Querier interface {
	RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error)
	Capabilities() db.Capabilities
}

// Target is the table a plan runs against.
type Target struct {
	Table    string
	Schema   schema.Schema
	Indexes  []index.Descriptor
	Embedder domain.Embedder
}

// Config configures an Engine.
type Config struct {
	// Async dispatches hybrid sub-queries concurrently regardless of
	// transport pipelining.
	Async   bool
	Metrics *metrics.SDK
	Logger  *zap.Logger
}

// Engine runs plans. It never retries: transports own retries.
type Engine struct {
	q       Querier
	async   bool
	metrics *metrics.SDK
	logger  *zap.Logger
}

// New creates an engine over q.
func New(q Querier, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{q: q, async: cfg.Async, metrics: cfg.Metrics, logger: cfg.Logger}
}

// side is the ranked output of one sub-query.
type side struct {
	cands      []candidate
	considered int
	reason     string
	warnings   []string
}

// Execute runs p against t. Every error is a *domain.QueryError.
func (e *Engine) Execute(ctx context.Context, p plan.Plan, t Target) (*result.Result, error) {
	usage := domain.UsageFromContext(ctx)
	if usage == nil {
		ctx, usage = domain.NewContextWithUsage(ctx)
	}
	tokensBefore := usage.TotalTokens()

	m := newMaterializer(p, t.Schema)
	res, err := e.execute(ctx, p, t, m)
	if err != nil {
		return nil, &domain.QueryError{Table: t.Table, Mode: string(p.Mode()), Err: err}
	}
	res.Mode = p.Mode()
	res.ColumnNames = m.columns
	res.Warnings = append(p.Warnings(), res.Warnings...)
	res.EmbeddingTokens = usage.TotalTokens() - tokensBefore

	if res.Degraded {
		e.metrics.IncDegraded(res.DegradedReason)
		e.logger.Debug("query degraded",
			zap.String("table", t.Table),
			zap.String("mode", string(p.Mode())),
			zap.String("reason", res.DegradedReason),
		)
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, p plan.Plan, t Target, m materializer) (*result.Result, error) {
	switch p.Mode() {
	case mode.Scan:
		return e.scan(ctx, p, t, m)
	case mode.VectorOnly:
		s, err := e.vectorSide(ctx, p, t, m, p.Limit()+p.Offset())
		if err != nil {
			return nil, err
		}
		rows := make([]result.Row, 0, len(s.cands))
		for _, c := range page(s.cands, p.Offset(), p.Limit()) {
			r := c.row
			r.Score = c.score
			r.Distance = ptr(c.distance)
			rows = append(rows, r)
		}
		return finished(rows, s.considered, s.reason, s.warnings), nil
	case mode.TextOnly:
		s, err := e.textSide(ctx, p, t, m, p.Limit()+p.Offset())
		if err != nil {
			return nil, err
		}
		rows := make([]result.Row, 0, len(s.cands))
		for _, c := range page(s.cands, p.Offset(), p.Limit()) {
			r := c.row
			r.Score = c.score
			r.Relevance = ptr(c.score)
			rows = append(rows, r)
		}
		return finished(rows, s.considered, s.reason, s.warnings), nil
	case mode.Hybrid:
		return e.hybrid(ctx, p, t, m)
	default:
		return nil, &domain.PlanError{Mode: string(p.Mode()), Reason: "unsupported mode"}
	}
}

func finished(rows []result.Row, considered int, reason string, warnings []string) *result.Result {
	return &result.Result{
		Rows:            rows,
		TotalConsidered: considered,
		Degraded:        reason != "",
		DegradedReason:  reason,
		Warnings:        warnings,
	}
}

func (e *Engine) run(ctx context.Context, q *db.Query) (*db.RowSet, error) {
	rs, err := e.q.RunQuery(ctx, q)
	if err != nil {
		return nil, db.Public(db.OpQuery, err)
	}
	return rs, nil
}

func (e *Engine) scan(ctx context.Context, p plan.Plan, t Target, m materializer) (*result.Result, error) {
	rs, err := e.run(ctx, &db.Query{
		Table:   t.Table,
		Kind:    db.QueryScan,
		Filter:  p.Filter(),
		Columns: m.fetch(p),
		Limit:   p.Limit(),
		Offset:  p.Offset(),
	})
	if err != nil {
		return nil, err
	}
	rows := make([]result.Row, 0, len(rs.Rows))
	for _, br := range rs.Rows {
		r, err := m.row(br)
		if err != nil {
			return nil, &domain.TransportFatalError{Op: db.OpQuery, Err: err}
		}
		rows = append(rows, r)
	}
	slices.SortStableFunc(rows, func(a, b result.Row) int { return a.ID.Compare(b.ID) })
	return finished(rows, len(rows), "", nil), nil
}

func (e *Engine) hybrid(ctx context.Context, p plan.Plan, t Target, m materializer) (*result.Result, error) {
	limit := CandidateLimit(p.Limit(), p.Offset(), p.CandidateLimit())

	var vec, text side
	runVector := func(ctx context.Context) error {
		s, err := e.vectorSide(ctx, p, t, m, limit)
		if err != nil {
			return &domain.HybridExecutionError{SubQuery: domain.SubQueryVector, Err: err}
		}
		vec = s
		return nil
	}
	runText := func(ctx context.Context) error {
		s, err := e.textSide(ctx, p, t, m, limit)
		if err != nil {
			return &domain.HybridExecutionError{SubQuery: domain.SubQueryText, Err: err}
		}
		text = s
		return nil
	}

	if e.async || e.q.Capabilities().Pipelining {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runVector(gctx) })
		g.Go(func() error { return runText(gctx) })
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		if err := runVector(ctx); err != nil {
			return nil, err
		}
		if err := runText(ctx); err != nil {
			return nil, err
		}
	}

	fused := fuse(vec.cands, text.cands, p.Weights())
	reason := vec.reason
	if reason == "" {
		reason = text.reason
	}
	return finished(
		page(fused, p.Offset(), p.Limit()),
		len(fused),
		reason,
		append(vec.warnings, text.warnings...),
	), nil
}

// vectorRoute picks the metric and reports why the vector index cannot
// serve the query, if it cannot.
func vectorRoute(p plan.Plan, t Target, column string) (vector.Metric, string, error) {
	idx, found := findIndex(t.Indexes, index.KindVector, column)
	metric := p.Metric()
	if metric == "" {
		metric = vector.Cosine
		if found && idx.Params().Metric != "" {
			metric = idx.Params().Metric
		}
	}

	var reason string
	switch {
	case p.IndexPolicy() == plan.IndexBypass:
		reason = result.ReasonIndexBypassed
	case !found:
		reason = result.ReasonNoVectorIndex
	case idx.Status() == index.Stale:
		reason = result.ReasonIndexStale
	case idx.Status() == index.Building:
		reason = result.ReasonIndexBuilding
	case idx.Params().Metric != "" && idx.Params().Metric != metric:
		reason = result.ReasonMetricMismatch
	}
	if reason != "" && p.IndexPolicy() == plan.IndexRequire {
		return "", "", &domain.IndexStateError{Column: column, State: stateOf(idx, found), Reason: reason}
	}
	return metric, reason, nil
}

func (e *Engine) vectorSide(ctx context.Context, p plan.Plan, t Target, m materializer, limit int) (side, error) {
	probe, ok := p.Vector()
	if !ok {
		return side{}, &domain.PlanError{Mode: string(p.Mode()), Reason: "missing vector probe"}
	}
	col, ok := t.Schema.VectorColumn()
	if !ok {
		return side{}, domain.NewValidation("vector", "table has no vector column")
	}
	metric, reason, err := vectorRoute(p, t, col.Name())
	if err != nil {
		return side{}, err
	}
	v, err := embedding.Resolve(ctx, probe, t.Schema, t.Embedder)
	if err != nil {
		return side{}, err
	}

	if reason != "" {
		return e.vectorScan(ctx, p, t, m, col.Name(), v, metric, limit, reason)
	}

	rs, err := e.run(ctx, &db.Query{
		Table:        t.Table,
		Kind:         db.QueryKNN,
		Filter:       p.Filter(),
		Columns:      m.fetch(p),
		Limit:        limit,
		VectorColumn: col.Name(),
		Vector:       v,
		Metric:       metric,
		Probes:       p.Nprobes(),
		RefineFactor: p.RefineFactor(),
	})
	if err != nil {
		return side{}, err
	}
	cands := make([]candidate, 0, len(rs.Rows))
	for _, br := range rs.Rows {
		d, ok := floatOf(br[db.DistanceColumn])
		if !ok {
			return side{}, &domain.TransportFatalError{
				Op: db.OpQuery, Err: fmt.Errorf("knn row has no %s", db.DistanceColumn),
			}
		}
		r, err := m.row(br)
		if err != nil {
			return side{}, &domain.TransportFatalError{Op: db.OpQuery, Err: err}
		}
		cands = append(cands, candidate{row: r, distance: d, score: vector.Similarity(metric, d)})
	}
	slices.SortStableFunc(cands, byDistance)
	return side{cands: cands, considered: len(cands)}, nil
}

// vectorScan ranks every filtered row by client-side distance.
func (e *Engine) vectorScan(
	ctx context.Context, p plan.Plan, t Target, m materializer,
	column string, v []float32, metric vector.Metric, limit int, reason string,
) (side, error) {
	rs, err := e.run(ctx, &db.Query{
		Table:   t.Table,
		Kind:    db.QueryScan,
		Filter:  p.Filter(),
		Columns: m.fetch(p, column),
	})
	if err != nil {
		return side{}, err
	}
	cands := make([]candidate, 0, len(rs.Rows))
	for _, br := range rs.Rows {
		stored, ok := vector.ToFloat32(br[column])
		if !ok || stored == nil {
			continue
		}
		d, err := vector.Distance(metric, v, stored)
		if err != nil {
			return side{}, &domain.DimensionMismatchError{Column: column, Expected: len(v), Actual: len(stored)}
		}
		r, err := m.row(br)
		if err != nil {
			return side{}, &domain.TransportFatalError{Op: db.OpQuery, Err: err}
		}
		cands = append(cands, candidate{row: r, distance: d, score: vector.Similarity(metric, d)})
	}
	slices.SortStableFunc(cands, byDistance)
	considered := len(cands)
	return side{cands: page(cands, 0, limit), considered: considered, reason: reason}, nil
}

func (e *Engine) textSide(ctx context.Context, p plan.Plan, t Target, m materializer, limit int) (side, error) {
	probe, ok := p.Text()
	if !ok {
		return side{}, &domain.PlanError{Mode: string(p.Mode()), Reason: "missing text probe"}
	}
	cols := probe.Columns()
	if len(cols) == 0 {
		cols = t.Schema.TextColumns()
	}
	if len(cols) == 0 {
		return side{}, domain.NewValidation("text_columns", "table has no text columns")
	}
	for _, c := range cols {
		sc, ok := t.Schema.Column(c)
		if !ok || !sc.IsText() {
			return side{}, domain.NewValidation("text_columns", "column %q is not a text column", c)
		}
	}

	idx, found := findIndex(t.Indexes, index.KindFullText, cols...)
	var reason string
	switch {
	case !found:
		reason = result.ReasonNoTextIndex
	case idx.Status() == index.Stale:
		reason = result.ReasonIndexStale
	case idx.Status() == index.Building:
		reason = result.ReasonIndexBuilding
	}
	if reason != "" && p.IndexPolicy() == plan.IndexRequire {
		return side{}, &domain.IndexStateError{Column: cols[0], State: stateOf(idx, found), Reason: reason}
	}
	var warnings []string
	if p.IndexPolicy() == plan.IndexBypass && p.Mode() == mode.TextOnly {
		warnings = append(warnings, "index bypass does not apply to full-text queries")
	}

	ts := &db.TextSearch{
		Query:   probe.Query(),
		Match:   db.TextMatch(probe.Match()),
		Columns: cols,
		Must:    probe.Must(),
		Should:  probe.Should(),
		MustNot: probe.MustNot(),
	}
	if found {
		ts.Language = idx.Params().Language
	}
	rs, err := e.run(ctx, &db.Query{
		Table:   t.Table,
		Kind:    db.QueryText,
		Filter:  p.Filter(),
		Columns: m.fetch(p),
		Limit:   limit,
		Text:    ts,
	})
	if err != nil {
		return side{}, err
	}
	cands := make([]candidate, 0, len(rs.Rows))
	for _, br := range rs.Rows {
		s, ok := floatOf(br[db.ScoreColumn])
		if !ok {
			return side{}, &domain.TransportFatalError{
				Op: db.OpQuery, Err: fmt.Errorf("text row has no %s", db.ScoreColumn),
			}
		}
		r, err := m.row(br)
		if err != nil {
			return side{}, &domain.TransportFatalError{Op: db.OpQuery, Err: err}
		}
		cands = append(cands, candidate{row: r, score: s})
	}
	slices.SortStableFunc(cands, byScore)
	return side{cands: cands, considered: len(cands), reason: reason, warnings: warnings}, nil
}

// findIndex returns the index of kind k on one of columns, preferring a
// Ready one.
func findIndex(idxs []index.Descriptor, k index.Kind, columns ...string) (index.Descriptor, bool) {
	var (
		best  index.Descriptor
		found bool
	)
	for _, d := range idxs {
		if d.Kind() != k || !slices.Contains(columns, d.Column()) {
			continue
		}
		if d.IsReady() {
			return d, true
		}
		if !found {
			best, found = d, true
		}
	}
	return best, found
}

func stateOf(d index.Descriptor, found bool) string {
	if !found {
		return "absent"
	}
	return string(d.Status())
}
