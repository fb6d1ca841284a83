package plan

import (
	"math"
	"slices"
	"strings"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Builder accumulates query parameters. Every method returns a new Builder
// and leaves the receiver untouched, so a partially built Builder can serve
// as a template for many plans. The first validation error sticks: later
// calls are no-ops and Build returns it.
type Builder struct {
	schema     *schema.Schema
	mode       mode.Mode
	vec        *VectorProbe
	text       *TextProbe
	textCols   []string
	filter     filter.Expr
	projection []string
	limit      int
	offset     int
	metric     vector.Metric
	weights    *Weights
	candidates int
	policy     IndexPolicy
	nprobes    int
	refine     int
	err        error
}

// New returns an empty Builder not bound to a schema.
func New() Builder {
	return Builder{limit: DefaultLimit, policy: IndexAuto}
}

// For returns a Builder that validates columns and literals against s.
func For(s schema.Schema) Builder {
	b := New()
	b.schema = &s
	return b
}

func (b Builder) fail(field, format string, args ...any) Builder {
	if b.err == nil {
		b.err = domain.NewValidation(field, format, args...)
	}
	return b
}

// Err returns the first recorded validation error.
func (b Builder) Err() error { return b.err }

// WithVector sets a literal vector probe. The slice is copied.
func (b Builder) WithVector(v []float32) Builder {
	if b.err != nil {
		return b
	}
	if len(v) == 0 {
		return b.fail("vector", "query vector is empty")
	}
	if vector.HasNonFinite(v) {
		return b.fail("vector", "query vector has NaN or Inf components")
	}
	b.vec = &VectorProbe{vector: slices.Clone(v)}
	return b
}

// WithValue sets a vector probe from a raw value. Numeric slices are taken
// as literal vectors; anything else is embedded by the table's embedding
// function at execution time.
func (b Builder) WithValue(v any) Builder {
	if b.err != nil {
		return b
	}
	if v == nil {
		return b.fail("vector", "query value is nil")
	}
	switch v.(type) {
	case []float32, []float64, []any:
		if f, ok := vector.ToFloat32(v); ok {
			return b.WithVector(f)
		}
	case string:
		if strings.TrimSpace(v.(string)) == "" {
			return b.fail("vector", "query text is empty")
		}
	}
	b.vec = &VectorProbe{value: v, raw: true}
	return b
}

// WithText sets a plain full-text probe.
func (b Builder) WithText(q string) Builder {
	return b.withText(q, MatchPlain)
}

// WithPhrase sets a phrase full-text probe.
func (b Builder) WithPhrase(q string) Builder {
	return b.withText(q, MatchPhrase)
}

func (b Builder) withText(q string, m MatchKind) Builder {
	if b.err != nil {
		return b
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return b.fail("text", "query text is empty")
	}
	if len(q) > MaxQueryLength {
		return b.fail("text", "query too long (max %d chars)", MaxQueryLength)
	}
	b.text = &TextProbe{query: q, match: m}
	return b
}

// WithBoolean sets a boolean full-text probe. At least one must or should
// term is required.
func (b Builder) WithBoolean(must, should, mustNot []string) Builder {
	if b.err != nil {
		return b
	}
	if len(must) == 0 && len(should) == 0 {
		return b.fail("text", "boolean query needs a must or should term")
	}
	if len(must)+len(should)+len(mustNot) > MaxBooleanTerms {
		return b.fail("text", "too many boolean terms (max %d)", MaxBooleanTerms)
	}
	for _, group := range [][]string{must, should, mustNot} {
		for _, t := range group {
			if strings.TrimSpace(t) == "" {
				return b.fail("text", "boolean term is empty")
			}
		}
	}
	b.text = &TextProbe{
		query:   strings.Join(append(slices.Clone(must), should...), " "),
		match:   MatchBoolean,
		must:    slices.Clone(must),
		should:  slices.Clone(should),
		mustNot: slices.Clone(mustNot),
	}
	return b
}

// TextColumns restricts full-text matching to the given columns.
func (b Builder) TextColumns(cols ...string) Builder {
	if b.err != nil {
		return b
	}
	if len(cols) == 0 {
		return b.fail("text_columns", "at least one column is required")
	}
	if b.schema != nil {
		for _, c := range cols {
			col, ok := b.schema.Column(c)
			if !ok {
				return b.fail("text_columns", "unknown column %q", c)
			}
			if !col.IsText() {
				return b.fail("text_columns", "column %q is %s, not text", c, col.Type())
			}
		}
	}
	b.textCols = slices.Clone(cols)
	return b
}

// Mode fixes the query mode instead of inferring it from the probes.
func (b Builder) Mode(m mode.Mode) Builder {
	if b.err != nil {
		return b
	}
	if !m.IsValid() {
		return b.fail("mode", "invalid query mode %q", m)
	}
	b.mode = m
	return b
}

// Where ANDs e into the predicate.
func (b Builder) Where(e filter.Expr) Builder {
	if b.err != nil || e == nil {
		return b
	}
	b.filter = filter.And(b.filter, e)
	return b
}

// Filter parses s and ANDs it into the predicate.
func (b Builder) Filter(s string) Builder {
	if b.err != nil {
		return b
	}
	e, err := filter.Parse(s)
	if err != nil {
		b.err = err
		return b
	}
	return b.Where(e)
}

// Select sets the projection. No columns selects all of them.
func (b Builder) Select(cols ...string) Builder {
	if b.err != nil {
		return b
	}
	if len(cols) == 0 {
		b.projection = nil
		return b
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c] {
			return b.fail("select", "duplicate column %q", c)
		}
		seen[c] = true
		if b.schema != nil && !b.schema.Has(c) {
			return b.fail("select", "unknown column %q", c)
		}
	}
	b.projection = slices.Clone(cols)
	return b
}

// Limit sets the maximum row count.
func (b Builder) Limit(n int) Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		return b.fail("limit", "must be >= 0, got %d", n)
	}
	if n > MaxLimit {
		return b.fail("limit", "must be <= %d, got %d", MaxLimit, n)
	}
	b.limit = n
	return b
}

// Offset skips leading rows.
func (b Builder) Offset(n int) Builder {
	if b.err != nil {
		return b
	}
	if n < 0 {
		return b.fail("offset", "must be >= 0, got %d", n)
	}
	if n > MaxOffset {
		return b.fail("offset", "must be <= %d, got %d", MaxOffset, n)
	}
	b.offset = n
	return b
}

// Metric sets the distance metric.
func (b Builder) Metric(m vector.Metric) Builder {
	if b.err != nil {
		return b
	}
	if !m.IsValid() {
		return b.fail("metric", "unknown distance metric %q", m)
	}
	b.metric = m
	return b
}

// Weights sets the hybrid fusion weights.
func (b Builder) Weights(vectorWeight, textWeight float64) Builder {
	if b.err != nil {
		return b
	}
	for _, w := range []float64{vectorWeight, textWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return b.fail("weights", "weights must be finite and >= 0")
		}
	}
	if vectorWeight+textWeight == 0 {
		return b.fail("weights", "weights must not both be zero")
	}
	b.weights = &Weights{Vector: vectorWeight, Text: textWeight}
	return b
}

// CandidateLimit overrides the per-sub-query over-fetch of hybrid search.
func (b Builder) CandidateLimit(n int) Builder {
	if b.err != nil {
		return b
	}
	if n <= 0 || n > MaxCandidateLimit {
		return b.fail("candidate_limit", "must be in [1, %d], got %d", MaxCandidateLimit, n)
	}
	b.candidates = n
	return b
}

// RequireIndex fails execution unless a Ready index serves the query.
func (b Builder) RequireIndex() Builder {
	if b.err != nil {
		return b
	}
	b.policy = IndexRequire
	return b
}

// BypassIndex forces an exact scan.
func (b Builder) BypassIndex() Builder {
	if b.err != nil {
		return b
	}
	b.policy = IndexBypass
	return b
}

// Nprobes sets the number of IVF partitions to probe.
func (b Builder) Nprobes(n int) Builder {
	if b.err != nil {
		return b
	}
	if n <= 0 {
		return b.fail("nprobes", "must be > 0, got %d", n)
	}
	b.nprobes = n
	return b
}

// RefineFactor over-fetches n*limit index candidates and re-ranks them exactly.
func (b Builder) RefineFactor(n int) Builder {
	if b.err != nil {
		return b
	}
	if n <= 0 {
		return b.fail("refine_factor", "must be > 0, got %d", n)
	}
	b.refine = n
	return b
}

// Build validates mode requirements and returns the plan.
func (b Builder) Build() (Plan, error) {
	if b.err != nil {
		return Plan{}, b.err
	}

	p := Plan{
		mode:       b.mode,
		vec:        b.vec,
		text:       b.text,
		filter:     b.filter,
		projection: b.projection,
		limit:      b.limit,
		offset:     b.offset,
		metric:     b.metric,
		weights:    DefaultWeights,
		candidates: b.candidates,
		policy:     b.policy,
		nprobes:    b.nprobes,
		refine:     b.refine,
	}
	if b.weights != nil {
		p.weights = *b.weights
	}

	if p.mode == "" {
		p.mode = inferMode(p.vec != nil, p.text != nil)
	}

	switch p.mode {
	case mode.VectorOnly:
		if p.text != nil {
			p.warnings = append(p.warnings, "text probe ignored in vector mode")
			p.text = nil
		}
		if p.vec == nil {
			return Plan{}, &domain.PlanError{Mode: string(p.mode), Reason: "vector probe is required"}
		}
	case mode.TextOnly:
		if p.vec != nil {
			p.warnings = append(p.warnings, "vector probe ignored in text mode")
			p.vec = nil
		}
		if p.text == nil {
			return Plan{}, &domain.PlanError{Mode: string(p.mode), Reason: "text probe is required"}
		}
	case mode.Hybrid:
		if p.vec == nil {
			return Plan{}, &domain.PlanError{Mode: string(p.mode), Reason: "vector probe is required"}
		}
		if p.text == nil {
			return Plan{}, &domain.PlanError{Mode: string(p.mode), Reason: "text probe is required"}
		}
	case mode.Scan:
		if p.vec != nil || p.text != nil {
			p.warnings = append(p.warnings, "probes ignored in scan mode")
			p.vec, p.text = nil, nil
		}
	}

	if p.mode.Ranked() && p.limit == 0 {
		return Plan{}, &domain.PlanError{Mode: string(p.mode), Reason: "limit must be positive for ranked queries"}
	}
	if p.mode != mode.Hybrid && (b.weights != nil || b.candidates > 0) {
		p.warnings = append(p.warnings, "fusion parameters ignored outside hybrid mode")
	}

	if p.text != nil && len(b.textCols) > 0 {
		t := p.text.WithColumns(b.textCols)
		p.text = &t
	}

	if b.schema != nil {
		if err := p.checkSchema(*b.schema); err != nil {
			return Plan{}, err
		}
	}
	return p, nil
}

func (p *Plan) checkSchema(s schema.Schema) error {
	if err := filter.Validate(p.filter, s); err != nil {
		return err
	}
	if err := s.CheckColumns("select", p.projection); err != nil {
		return err
	}
	if p.vec != nil {
		if _, ok := s.VectorColumn(); !ok {
			return domain.NewValidation("vector", "table has no vector column")
		}
	}
	if p.text != nil && len(p.text.columns) == 0 {
		cols := s.TextColumns()
		if len(cols) == 0 {
			return domain.NewValidation("text", "table has no text columns")
		}
		t := p.text.WithColumns(cols)
		p.text = &t
	}
	return nil
}

func inferMode(hasVector, hasText bool) mode.Mode {
	switch {
	case hasVector && hasText:
		return mode.Hybrid
	case hasVector:
		return mode.VectorOnly
	case hasText:
		return mode.TextOnly
	default:
		return mode.Scan
	}
}
