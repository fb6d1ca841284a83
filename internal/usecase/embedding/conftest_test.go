package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/holodex/internal/domain"
)

type mockEmbedder struct {
	mu          sync.Mutex
	result      domain.EmbeddingResult
	err         error
	errs        []error // consumed one per call before err
	batchResult domain.BatchEmbeddingResult
	batchErr    error
	calls       int
	batchCalls  int
	batchSizes  []int
	dims        int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return domain.EmbeddingResult{}, err
	}
	return m.result, m.err
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.batchErr != nil {
		return domain.BatchEmbeddingResult{}, m.batchErr
	}
	if m.batchResult.Embeddings != nil {
		return m.batchResult, nil
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = m.result.Embedding
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: m.result.PromptTokens * len(texts),
		TotalTokens:  m.result.TotalTokens * len(texts),
	}, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }

// singleEmbedder has no batch endpoint.
type singleEmbedder struct {
	result domain.EmbeddingResult
	calls  int
}

func (s *singleEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	s.calls++
	return s.result, nil
}

// valueEmbedder embeds any value.
type valueEmbedder struct {
	singleEmbedder
	got any
}

func (v *valueEmbedder) EmbedValue(_ context.Context, value any) (domain.EmbeddingResult, error) {
	v.got = value
	return v.result, nil
}

type mockBudgetStore struct {
	mu      sync.Mutex
	data    map[string]int64
	ttls    map[string]time.Duration
	loadErr error
	incrErr error
}

func newMockBudgetStore() *mockBudgetStore {
	return &mockBudgetStore{data: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *mockBudgetStore) IncrBy(_ context.Context, key string, val int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return m.incrErr
	}
	m.data[key] += val
	return nil
}

func (m *mockBudgetStore) Counter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	return m.data[key], nil
}

func (m *mockBudgetStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttls[key] = ttl
	return nil
}
