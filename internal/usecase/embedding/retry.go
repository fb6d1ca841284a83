package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain"
)

const opEmbed = "embed"

// Retrying re-invokes the inner embedder under its own retry policy.
// The engine never retries embedding calls; this decorator is opt-in.
type Retrying struct {
	inner  domain.Embedder
	policy retry.Policy
}

// WithRetry wraps inner. A policy without Retryable retries errors that
// report Retryable() true, and never retries cancellation.
func WithRetry(inner domain.Embedder, p retry.Policy, logger *zap.Logger) *Retrying {
	if p.Retryable == nil {
		p.Retryable = Retryable
	}
	if logger != nil {
		next := p.OnRetry
		p.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("Retrying embedding call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if next != nil {
				next(attempt, delay, err)
			}
		}
	}
	return &Retrying{inner: inner, policy: p}
}

// Retryable is the default classifier: errors exposing Retryable() bool
// decide for themselves, context errors never retry, everything else does.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBudgetExceeded) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Embed implements domain.Embedder.
func (r *Retrying) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var out domain.EmbeddingResult
	err := r.policy.Do(ctx, opEmbed, func(ctx context.Context) error {
		res, err := r.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return domain.EmbeddingResult{}, unwrapAttempts(err)
	}
	return out, nil
}

// BatchEmbed retries the whole batch.
func (r *Retrying) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var out domain.BatchEmbeddingResult
	err := r.policy.Do(ctx, opEmbed, func(ctx context.Context) error {
		res, err := domain.EmbedSources(ctx, r.inner, texts)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return domain.BatchEmbeddingResult{}, unwrapAttempts(err)
	}
	return out, nil
}

// Dimensions forwards to the inner embedder when it reports them.
func (r *Retrying) Dimensions() int {
	if d, ok := r.inner.(domain.Dimensioner); ok {
		return d.Dimensions()
	}
	return 0
}

// unwrapAttempts strips the transport envelope retry.Policy adds so
// embedding failures never read as transport outcomes.
func unwrapAttempts(err error) error {
	var de *db.Error
	if errors.As(err, &de) {
		if de.Attempts > 1 {
			return fmt.Errorf("after %d attempts: %w", de.Attempts, de.Err)
		}
		return de.Err
	}
	return err
}
