package holodex

import (
	"context"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
)

// Query is an immutable query builder bound to one table. Every call
// returns a new Query; a partially built Query is a reusable template and
// is safe to share between goroutines.
//
// The first invalid argument is kept and reported by Err and by Search.
type Query struct {
	table *Table
	b     plan.Builder
	mode  Mode
}

func newQuery(t *Table) Query {
	return Query{table: t, b: plan.For(t.schema)}
}

func (q Query) with(b plan.Builder) Query {
	q.b = b
	return q
}

// WithVector sets a literal vector probe.
func (q Query) WithVector(v []float32) Query { return q.with(q.b.WithVector(v)) }

// WithValue sets a raw probe embedded by the table's embedding function.
// Strings go through Embed; other values need a ValueEmbedder.
func (q Query) WithValue(v any) Query { return q.with(q.b.WithValue(v)) }

// WithText sets a plain full-text probe: all terms, any order.
func (q Query) WithText(text string) Query { return q.with(q.b.WithText(text)) }

// WithPhrase sets a phrase probe.
func (q Query) WithPhrase(text string) Query { return q.with(q.b.WithPhrase(text)) }

// WithBoolean sets a boolean probe from must, should and must-not terms.
func (q Query) WithBoolean(must, should, mustNot []string) Query {
	return q.with(q.b.WithBoolean(must, should, mustNot))
}

// TextColumns restricts the text probe to cols. Default: every text column.
func (q Query) TextColumns(cols ...string) Query { return q.with(q.b.TextColumns(cols...)) }

// Mode fixes the query mode. Without it the mode follows the probes.
func (q Query) Mode(m Mode) Query {
	q.mode = m
	return q.with(q.b.Mode(m))
}

// Where sets the filter predicate.
func (q Query) Where(e Expr) Query { return q.with(q.b.Where(e)) }

// Filter parses s as the filter predicate, e.g. "price < 10 AND NOT archived".
func (q Query) Filter(s string) Query { return q.with(q.b.Filter(s)) }

// Select limits the projection to cols.
func (q Query) Select(cols ...string) Query { return q.with(q.b.Select(cols...)) }

// Limit caps the returned rows. Negative values are rejected.
func (q Query) Limit(n int) Query { return q.with(q.b.Limit(n)) }

// Offset skips the first n ranked rows.
func (q Query) Offset(n int) Query { return q.with(q.b.Offset(n)) }

// Metric overrides the distance metric.
func (q Query) Metric(m Metric) Query { return q.with(q.b.Metric(m)) }

// Weights sets the hybrid fusion weights. Default: 0.5 and 0.5.
func (q Query) Weights(vectorWeight, textWeight float64) Query {
	return q.with(q.b.Weights(vectorWeight, textWeight))
}

// CandidateLimit overrides the hybrid per-side candidate count. It is
// raised to stay above limit+offset.
func (q Query) CandidateLimit(n int) Query { return q.with(q.b.CandidateLimit(n)) }

// RequireIndex fails the query with IndexStateError unless a Ready index
// serves it.
func (q Query) RequireIndex() Query { return q.with(q.b.RequireIndex()) }

// BypassIndex always scans.
func (q Query) BypassIndex() Query { return q.with(q.b.BypassIndex()) }

// Nprobes hints the number of IVF partitions to probe.
func (q Query) Nprobes(n int) Query { return q.with(q.b.Nprobes(n)) }

// RefineFactor hints the re-ranking factor for approximate indexes.
func (q Query) RefineFactor(n int) Query { return q.with(q.b.RefineFactor(n)) }

// Err returns the first recorded argument error.
func (q Query) Err() error { return q.b.Err() }

// Build validates the query and returns its plan.
func (q Query) Build() (Plan, error) { return q.b.Build() }

// Execute runs the query on its table.
func (q Query) Execute(ctx context.Context) (*Result, error) {
	if q.table == nil {
		return nil, domain.NewValidation("query", "query is not bound to a table; use Table.Query")
	}
	return q.table.Search(ctx, q)
}
