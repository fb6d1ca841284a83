// Package embedding resolves vector probes and decorates embedding functions.
package embedding

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Resolve turns a vector probe into a query vector for the table's vector
// column. Literal vectors are dimension-checked and returned unchanged. Raw
// values go through e; strings use Embed, other values need ValueEmbedder.
// Tokens are added to the usage collector in ctx.
func Resolve(ctx context.Context, probe plan.VectorProbe, s schema.Schema, e domain.Embedder) ([]float32, error) {
	col, ok := s.VectorColumn()
	if !ok {
		return nil, domain.NewValidation("vector", "table has no vector column")
	}

	if !probe.IsRaw() {
		v := probe.Vector()
		if len(v) != col.Dim() {
			return nil, &domain.DimensionMismatchError{Column: col.Name(), Expected: col.Dim(), Actual: len(v)}
		}
		return v, nil
	}

	if e == nil {
		return nil, domain.ErrNoEmbeddingFunction
	}

	var (
		res domain.EmbeddingResult
		err error
	)
	switch v := probe.Value().(type) {
	case string:
		res, err = e.Embed(ctx, v)
	default:
		ve, ok := e.(domain.ValueEmbedder)
		if !ok {
			return nil, &domain.EmbeddingError{Err: fmt.Errorf("embedding function cannot embed %T values", v)}
		}
		res, err = ve.EmbedValue(ctx, v)
	}
	if err != nil {
		return nil, &domain.EmbeddingError{Err: err}
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)

	if len(res.Embedding) != col.Dim() {
		return nil, &domain.EmbeddingError{Err: &domain.DimensionMismatchError{
			Column: col.Name(), Expected: col.Dim(), Actual: len(res.Embedding),
		}}
	}
	if vector.HasNonFinite(res.Embedding) {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("embedding has NaN or Inf components")}
	}
	return res.Embedding, nil
}
