package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/metrics"
)

// DefaultMaxAPIBatchSize caps the texts sent in one provider call.
const DefaultMaxAPIBatchSize = 256

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
}

// Instrumented wraps an Embedder with latency and error metrics, an
// optional token budget and logging.
type Instrumented struct {
	inner    domain.Embedder
	provider string
	model    string
	budget   BudgetChecker
	metrics  *metrics.Embedding
	logger   *zap.Logger
}

// NewInstrumented wraps inner. budget, m and logger may be nil.
func NewInstrumented(
	inner domain.Embedder, provider, model string,
	budget BudgetChecker, m *metrics.Embedding, logger *zap.Logger,
) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{
		inner:    inner,
		provider: provider,
		model:    model,
		budget:   budget,
		metrics:  m,
		logger:   logger,
	}
}

// Embed checks the budget, delegates and records the call.
func (p *Instrumented) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := p.checkBudget(ctx, 1); err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	result, err := p.inner.Embed(ctx, text)
	duration := time.Since(start)
	p.metrics.ObserveRequest(p.provider, p.model, duration, err)

	if err != nil {
		p.metrics.IncError(p.provider, p.model, errorType(err))
		p.logger.Warn("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	p.record(result.PromptTokens, result.TotalTokens)
	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)
	return result, nil
}

// BatchEmbed splits texts into DefaultMaxAPIBatchSize chunks, re-checking
// the budget before each chunk.
func (p *Instrumented) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()
	var out domain.BatchEmbeddingResult
	for offset := 0; offset < len(texts); offset += DefaultMaxAPIBatchSize {
		if err := p.checkBudget(ctx, len(texts)-offset); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}

		chunk := texts[offset:min(offset+DefaultMaxAPIBatchSize, len(texts))]
		chunkStart := time.Now()
		res, err := domain.EmbedSources(ctx, p.inner, chunk)
		p.metrics.ObserveRequest(p.provider, p.model, time.Since(chunkStart), err)
		if err != nil {
			p.metrics.IncError(p.provider, p.model, errorType(err))
			p.logger.Warn("Batch embedding request failed",
				zap.String("provider", p.provider),
				zap.String("model", p.model),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}

		p.record(res.PromptTokens, res.TotalTokens)
		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

// EmbedValue forwards to the inner ValueEmbedder.
func (p *Instrumented) EmbedValue(ctx context.Context, value any) (domain.EmbeddingResult, error) {
	ve, ok := p.inner.(domain.ValueEmbedder)
	if !ok {
		return domain.EmbeddingResult{}, fmt.Errorf("embedding function cannot embed %T values", value)
	}
	if err := p.checkBudget(ctx, 1); err != nil {
		return domain.EmbeddingResult{}, err
	}
	start := time.Now()
	result, err := ve.EmbedValue(ctx, value)
	p.metrics.ObserveRequest(p.provider, p.model, time.Since(start), err)
	if err != nil {
		p.metrics.IncError(p.provider, p.model, errorType(err))
		return domain.EmbeddingResult{}, fmt.Errorf("embed value: %w", err)
	}
	p.record(result.PromptTokens, result.TotalTokens)
	return result, nil
}

// Dimensions forwards to the inner embedder when it reports them.
func (p *Instrumented) Dimensions() int {
	if d, ok := p.inner.(domain.Dimensioner); ok {
		return d.Dimensions()
	}
	return 0
}

func (p *Instrumented) checkBudget(ctx context.Context, texts int) error {
	if p.budget == nil {
		return nil
	}
	if err := p.budget.Check(ctx); err != nil {
		p.metrics.IncError(p.provider, p.model, "budget")
		p.logger.Error("Budget exceeded",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Int("pending_texts", texts),
			zap.Error(err),
		)
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

func (p *Instrumented) record(prompt, total int) {
	p.metrics.AddTokens(p.provider, p.model, "prompt", prompt)
	p.metrics.AddTokens(p.provider, p.model, "total", total)
	if p.budget != nil {
		p.budget.Record(int64(total))
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "provider"
	}
}
