// Package metrics defines the Prometheus collectors of the SDK, the
// transports, the embedding decorators and the gateway. Collectors are
// registered on a caller-supplied registerer; a nil set records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "holodex"

// registerOrReuse registers c, or returns the collector already
// registered under the same descriptor.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// SDK holds per-operation metrics of a connection.
type SDK struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	degraded   *prometheus.CounterVec
	retries    *prometheus.CounterVec
}

// NewSDK registers the SDK collectors on reg.
func NewSDK(reg prometheus.Registerer) *SDK {
	return &SDK{
		operations: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sdk",
				Name:      "operations_total",
				Help:      "Table operations by kind, mode and status",
			},
			[]string{"op", "mode", "status"},
		)),
		duration: registerOrReuse(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sdk",
				Name:      "operation_duration_seconds",
				Help:      "Table operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op", "mode"},
		)),
		degraded: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sdk",
				Name:      "degraded_queries_total",
				Help:      "Queries served without a usable index",
			},
			[]string{"reason"},
		)),
		retries: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "retries_total",
				Help:      "Transport retry attempts",
			},
			[]string{"transport", "op"},
		)),
	}
}

// ObserveOperation records one finished operation.
func (m *SDK) ObserveOperation(op, mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, mode, status(err)).Inc()
	m.duration.WithLabelValues(op, mode).Observe(d.Seconds())
}

// IncDegraded counts a degraded query.
func (m *SDK) IncDegraded(reason string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(reason).Inc()
}

// IncRetry counts a transport retry.
func (m *SDK) IncRetry(transport, op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(transport, op).Inc()
}

// Embedding holds embedding provider and cache metrics.
type Embedding struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	cache    *prometheus.CounterVec
	budget   *prometheus.GaugeVec
}

// NewEmbedding registers the embedding collectors on reg.
func NewEmbedding(reg prometheus.Registerer) *Embedding {
	return &Embedding{
		requests: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Total number of embedding requests",
			},
			[]string{"provider", "model", "status"},
		)),
		duration: registerOrReuse(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_request_duration_seconds",
				Help:      "Embedding request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "model"},
		)),
		tokens: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_tokens_total",
				Help:      "Total embedding tokens consumed",
			},
			[]string{"provider", "model", "type"},
		)),
		errors: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_errors_total",
				Help:      "Total embedding errors",
			},
			[]string{"provider", "model", "error_type"},
		)),
		cache: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_total",
				Help:      "Embedding cache hits and misses",
			},
			[]string{"result"}, // "hit" / "miss"
		)),
		budget: registerOrReuse(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "embedding_budget_tokens_remaining",
				Help:      "Remaining embedding token budget",
			},
			[]string{"provider", "period"}, // "daily" / "monthly"
		)),
	}
}

// ObserveRequest records one provider call.
func (m *Embedding) ObserveRequest(provider, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, model, status(err)).Inc()
	m.duration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// AddTokens records prompt or total tokens.
func (m *Embedding) AddTokens(provider, model, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(provider, model, kind).Add(float64(n))
}

// IncError counts a classified provider failure.
func (m *Embedding) IncError(provider, model, errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(provider, model, errorType).Inc()
}

// CacheResult counts a cache "hit" or "miss".
func (m *Embedding) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

// SetBudgetRemaining publishes the remaining token budget for a period.
func (m *Embedding) SetBudgetRemaining(provider, period string, remaining int64) {
	if m == nil || remaining < 0 {
		return
	}
	m.budget.WithLabelValues(provider, period).Set(float64(remaining))
}
