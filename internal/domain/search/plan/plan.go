// Package plan builds immutable, validated query plans.
package plan

import (
	"slices"

	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Query parameter limits.
const (
	DefaultLimit      = 10
	MaxLimit          = 10000
	MaxOffset         = 1_000_000
	MaxQueryLength    = 4096
	MaxCandidateLimit = 10000
	MaxBooleanTerms   = 64
)

// MatchKind selects full-text match semantics.
type MatchKind string

// Match kinds.
const (
	// MatchPlain matches documents containing all query terms, in any order.
	MatchPlain MatchKind = "plain"
	// MatchPhrase matches the terms as an adjacent phrase.
	MatchPhrase MatchKind = "phrase"
	// MatchBoolean combines must, should and must-not term lists.
	MatchBoolean MatchKind = "boolean"
)

// IndexPolicy controls index use for vector and text queries.
type IndexPolicy string

// Index policies.
const (
	// IndexAuto uses a Ready index and falls back to a scan otherwise.
	IndexAuto IndexPolicy = "auto"
	// IndexRequire fails with IndexStateError unless a Ready index exists.
	IndexRequire IndexPolicy = "require"
	// IndexBypass always scans.
	IndexBypass IndexPolicy = "bypass"
)

// Weights are the hybrid fusion weights.
type Weights struct {
	Vector float64
	Text   float64
}

// DefaultWeights weigh both rankings equally.
var DefaultWeights = Weights{Vector: 0.5, Text: 0.5}

// VectorProbe is a literal vector or a raw value for the embedding function.
type VectorProbe struct {
	vector []float32
	value  any
	raw    bool
}

// Vector returns the literal vector (nil for raw probes). Callers must not modify it.
func (p VectorProbe) Vector() []float32 { return p.vector }

// Value returns the raw value to embed.
func (p VectorProbe) Value() any { return p.value }

// IsRaw reports a probe that needs embedding.
func (p VectorProbe) IsRaw() bool { return p.raw }

// TextProbe is a full-text query.
type TextProbe struct {
	query   string
	match   MatchKind
	columns []string
	must    []string
	should  []string
	mustNot []string
}

// Query returns the query text (space-joined terms for boolean probes).
func (p TextProbe) Query() string { return p.query }

// Match returns the match semantics.
func (p TextProbe) Match() MatchKind { return p.match }

// Columns returns the searched columns. Empty means the engine picks them.
func (p TextProbe) Columns() []string { return slices.Clone(p.columns) }

// Must returns terms every match contains.
func (p TextProbe) Must() []string { return slices.Clone(p.must) }

// Should returns optional terms that raise relevance.
func (p TextProbe) Should() []string { return slices.Clone(p.should) }

// MustNot returns excluded terms.
func (p TextProbe) MustNot() []string { return slices.Clone(p.mustNot) }

// WithColumns returns a copy searching the given columns.
func (p TextProbe) WithColumns(cols []string) TextProbe {
	p.columns = slices.Clone(cols)
	return p
}

// Plan is an immutable, validated query description. Plans are safe to
// share between goroutines.
type Plan struct {
	mode       mode.Mode
	vec        *VectorProbe
	text       *TextProbe
	filter     filter.Expr
	projection []string
	limit      int
	offset     int
	metric     vector.Metric
	weights    Weights
	candidates int
	policy     IndexPolicy
	nprobes    int
	refine     int
	warnings   []string
}

// Mode returns the query mode.
func (p Plan) Mode() mode.Mode { return p.mode }

// Vector returns the vector probe.
func (p Plan) Vector() (VectorProbe, bool) {
	if p.vec == nil {
		return VectorProbe{}, false
	}
	return *p.vec, true
}

// Text returns the text probe.
func (p Plan) Text() (TextProbe, bool) {
	if p.text == nil {
		return TextProbe{}, false
	}
	return *p.text, true
}

// Filter returns the predicate, nil for none.
func (p Plan) Filter() filter.Expr { return p.filter }

// Projection returns the selected columns; nil selects all.
func (p Plan) Projection() []string { return slices.Clone(p.projection) }

// Limit returns the maximum row count. 0 means unlimited (scan mode only).
func (p Plan) Limit() int { return p.limit }

// Offset returns the number of leading rows to skip.
func (p Plan) Offset() int { return p.offset }

// Metric returns the requested metric or "" to use the index metric.
func (p Plan) Metric() vector.Metric { return p.metric }

// Weights returns the fusion weights.
func (p Plan) Weights() Weights { return p.weights }

// CandidateLimit returns the per-sub-query over-fetch override, 0 for the default.
func (p Plan) CandidateLimit() int { return p.candidates }

// IndexPolicy returns the index policy.
func (p Plan) IndexPolicy() IndexPolicy { return p.policy }

// Nprobes returns the IVF probe hint, 0 for backend default.
func (p Plan) Nprobes() int { return p.nprobes }

// RefineFactor returns the re-ranking over-fetch hint, 0 for none.
func (p Plan) RefineFactor() int { return p.refine }

// Warnings lists ignored inputs.
func (p Plan) Warnings() []string { return slices.Clone(p.warnings) }
