package holodex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db/redis"
	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/metrics"
	"github.com/kailas-cloud/holodex/internal/repository/embcache"
	"github.com/kailas-cloud/holodex/internal/transport/openai"
	"github.com/kailas-cloud/holodex/internal/usecase/embedding"
)

const cacheReadyTimeout = 5 * time.Second

// EmbedderConfig configures an OpenAI-compatible embedding function.
type EmbedderConfig struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint. Default: api.openai.com.
	BaseURL    string
	Model      string
	Dimensions int
	// Provider labels metrics and budget keys. Default: "openai".
	Provider   string
	HTTPClient *http.Client

	// QueryInstruction and SourceInstruction prefix query and source
	// texts for asymmetric retrieval models.
	QueryInstruction  string
	SourceInstruction string

	// CacheAddrs enables a Redis or Valkey embedding cache.
	CacheAddrs    []string
	CachePassword string
	CacheTTL      time.Duration

	// Token caps; zero is unlimited. The budget is persisted in the cache
	// store when one is configured.
	DailyTokenLimit   int64
	MonthlyTokenLimit int64
	RejectOverBudget  bool

	// Retries of failed provider calls. Zero disables retries.
	Retries int

	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// EmbeddingFunction is an embedding function built by NewEmbedder. It
// implements Embedder, BatchEmbedder and the dimension and health
// capabilities. Close releases the cache connection.
type EmbeddingFunction struct {
	chain    *domain.Instructed
	provider *openai.Embedder
	store    *redis.Store
}

// NewEmbedder builds the embedding chain: provider, cache, metrics and
// budget, retry and instructions, innermost first.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (*EmbeddingFunction, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidation("api_key", "embedding api key is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))

	var m *metrics.Embedding
	if cfg.Registerer != nil {
		m = metrics.NewEmbedding(cfg.Registerer)
	}

	provider := openai.NewEmbedder(&openai.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Metrics:    m,
		Logger:     log,
		HTTPClient: cfg.HTTPClient,
	})

	var (
		inner domain.Embedder = provider
		store *redis.Store
	)
	if len(cfg.CacheAddrs) > 0 {
		s, err := redis.NewStore(redis.Config{Addrs: cfg.CacheAddrs, Password: cfg.CachePassword})
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		if err := s.WaitForReady(ctx, cacheReadyTimeout); err != nil {
			s.Close()
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		store = s
		inner = embcache.New(inner, store, embcache.Config{Namespace: cfg.Model, TTL: cfg.CacheTTL}, m, log)
	}

	var budget embedding.BudgetChecker
	if cfg.DailyTokenLimit > 0 || cfg.MonthlyTokenLimit > 0 {
		action := embedding.BudgetActionWarn
		if cfg.RejectOverBudget {
			action = embedding.BudgetActionReject
		}
		b := embedding.NewBudget(embedding.BudgetConfig{
			Provider:     cfg.Provider,
			DailyLimit:   cfg.DailyTokenLimit,
			MonthlyLimit: cfg.MonthlyTokenLimit,
			Action:       action,
		}, m, log)
		if store != nil {
			b = b.WithStore(ctx, store)
		}
		budget = b
	}
	inner = embedding.NewInstrumented(inner, cfg.Provider, cfg.Model, budget, m, log)

	if cfg.Retries > 0 {
		p := retry.Default()
		p.MaxRetries = cfg.Retries
		inner = embedding.WithRetry(inner, p, log)
	}

	return &EmbeddingFunction{
		chain:    domain.NewInstructed(inner, cfg.QueryInstruction, cfg.SourceInstruction),
		provider: provider,
		store:    store,
	}, nil
}

// Embed embeds a query text.
func (e *EmbeddingFunction) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return e.chain.Embed(ctx, text)
}

// BatchEmbed embeds source texts in input order.
func (e *EmbeddingFunction) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	return e.chain.BatchEmbed(ctx, texts)
}

// Dimensions reports the configured output size, zero when unknown.
func (e *EmbeddingFunction) Dimensions() int { return e.chain.Dimensions() }

// HealthCheck probes the provider and the cache.
func (e *EmbeddingFunction) HealthCheck(ctx context.Context) error {
	var errs []error
	if err := e.provider.HealthCheck(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		if err := e.store.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("embedding cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the cache connection.
func (e *EmbeddingFunction) Close() {
	if e.store != nil {
		e.store.Close()
	}
}
