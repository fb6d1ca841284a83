package domain

import (
	"context"
	"fmt"
)

// Embedder turns query text into a vector. It is the only capability the
// search engine requires from an embedding function.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder embeds source texts in one provider call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// ValueEmbedder embeds non-text probe values (images, structured records).
type ValueEmbedder interface {
	EmbedValue(ctx context.Context, value any) (EmbeddingResult, error)
}

// Dimensioner reports the output dimensionality of an embedding function.
type Dimensioner interface {
	Dimensions() int
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries one vector and its token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries vectors in input order plus aggregate usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbedEach embeds texts one at a time. Used for providers without a batch endpoint.
func EmbedEach(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	out := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("embed [%d]: %w", i, err)
		}
		out.Embeddings[i] = res.Embedding
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}
	return out, nil
}

// EmbedSources uses the batch endpoint when the embedder has one.
func EmbedSources(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		if len(res.Embeddings) != len(texts) {
			return BatchEmbeddingResult{}, fmt.Errorf(
				"batch embed: provider returned %d vectors for %d texts", len(res.Embeddings), len(texts))
		}
		return res, nil
	}
	return EmbedEach(ctx, e, texts)
}

// Instructed prefixes query text and source text with separate instructions.
// Asymmetric retrieval models expect different prompts on each side.
type Instructed struct {
	inner  Embedder
	query  string
	source string
}

// NewInstructed wraps inner with query and source instructions.
func NewInstructed(inner Embedder, queryInstruction, sourceInstruction string) *Instructed {
	return &Instructed{inner: inner, query: queryInstruction, source: sourceInstruction}
}

// Embed embeds a query.
func (e *Instructed) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := e.inner.Embed(ctx, e.query+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instructed embed: %w", err)
	}
	return res, nil
}

// BatchEmbed embeds source texts.
func (e *Instructed) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.source + t
	}
	res, err := EmbedSources(ctx, e.inner, prefixed)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("instructed source embed: %w", err)
	}
	return res, nil
}

// Dimensions forwards to the inner embedder when it reports them.
func (e *Instructed) Dimensions() int {
	if d, ok := e.inner.(Dimensioner); ok {
		return d.Dimensions()
	}
	return 0
}
