package holodex

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/config"
	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/retry"
)

// Option configures a Connection.
type Option interface {
	apply(*connConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*connConfig)

func (f optionFunc) apply(c *connConfig) { f(c) }

// Backoff selects the delay progression between transport retries.
type Backoff = retry.Backoff

// Backoff strategies.
const (
	BackoffFixed       = retry.BackoffFixed
	BackoffExponential = retry.BackoffExponential
)

type connConfig struct {
	env config.Env

	// cloud
	apiKey     string
	region     string
	host       string
	signingKey []byte
	httpClient *http.Client
	timeout    time.Duration
	rate       float64

	// local
	maxConns        int32
	arrayDistance   bool
	createExtension bool

	retry *retry.Policy

	embedder     Embedder
	embedWorkers int
	indexWait    time.Duration

	logger     *zap.Logger
	metricsReg prometheus.Registerer

	// transport replaces URI resolution; used by tests.
	transport db.Transport
}

// WithAPIKey sets the Cloud API key. Defaults to HOLOGRES_API_KEY.
func WithAPIKey(key string) Option {
	return optionFunc(func(c *connConfig) {
		c.apiKey = key
	})
}

// WithRegion sets the Cloud region. Defaults to HOLOGRES_REGION, then cn-hangzhou.
func WithRegion(region string) Option {
	return optionFunc(func(c *connConfig) {
		c.region = region
	})
}

// WithHostOverride points the Cloud transport at an explicit base URL
// instead of the regional endpoint.
func WithHostOverride(baseURL string) Option {
	return optionFunc(func(c *connConfig) {
		c.host = baseURL
	})
}

// WithSigningKey signs every Cloud request with an HS256 signature.
func WithSigningKey(key []byte) Option {
	return optionFunc(func(c *connConfig) {
		c.signingKey = key
	})
}

// WithHTTPClient replaces the Cloud HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *connConfig) {
		c.httpClient = hc
	})
}

// WithRequestTimeout bounds each Cloud request. Default: 30s.
func WithRequestTimeout(d time.Duration) Option {
	return optionFunc(func(c *connConfig) {
		c.timeout = d
	})
}

// WithRateLimit caps Cloud requests per second. Default: unlimited.
func WithRateLimit(perSecond float64) Option {
	return optionFunc(func(c *connConfig) {
		c.rate = perSecond
	})
}

// WithPoolSize caps the Local connection pool.
func WithPoolSize(maxConns int32) Option {
	return optionFunc(func(c *connConfig) {
		c.maxConns = maxConns
	})
}

// WithArrayDistance stores vectors as real[] and ranks with distance
// functions instead of pgvector operators. Hologres uses this form.
func WithArrayDistance() Option {
	return optionFunc(func(c *connConfig) {
		c.arrayDistance = true
	})
}

// WithCreateExtension runs CREATE EXTENSION IF NOT EXISTS vector on connect.
func WithCreateExtension() Option {
	return optionFunc(func(c *connConfig) {
		c.createExtension = true
	})
}

// WithRetry sets the transport retry budget. It overrides retry
// parameters in the URI. Cloud mutations are never retried.
func WithRetry(maxRetries int, backoff Backoff, baseDelay time.Duration) Option {
	return optionFunc(func(c *connConfig) {
		p := retry.Default()
		p.MaxRetries = maxRetries
		p.Backoff = backoff
		if baseDelay > 0 {
			p.BaseDelay = baseDelay
		}
		c.retry = &p
	})
}

// WithoutRetry makes every transport call a single attempt.
func WithoutRetry() Option {
	return optionFunc(func(c *connConfig) {
		p := retry.None()
		c.retry = &p
	})
}

// WithEmbedder binds a default embedding function to every table opened
// on the connection. A table option overrides it.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *connConfig) {
		c.embedder = e
	})
}

// WithEmbedWorkers bounds the concurrent embedding calls Add makes when the
// embedder has no batch endpoint. Default: 8.
func WithEmbedWorkers(n int) Option {
	return optionFunc(func(c *connConfig) {
		c.embedWorkers = n
	})
}

// WithIndexWaitTimeout bounds how long CreateIndex waits for a build.
// Default: 5m.
func WithIndexWaitTimeout(d time.Duration) Option {
	return optionFunc(func(c *connConfig) {
		c.indexWait = d
	})
}

// WithEnv replaces the environment lookup used for HOLOGRES_* fallbacks.
func WithEnv(lookup func(key string) string) Option {
	return optionFunc(func(c *connConfig) {
		c.env = lookup
	})
}

// WithLogger enables structured logging for connection operations.
// Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *connConfig) {
		c.logger = l
	})
}

// WithPrometheus registers operation, retry and degraded-query metrics
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *connConfig) {
		c.metricsReg = reg
	})
}

func withTransport(t db.Transport) Option {
	return optionFunc(func(c *connConfig) {
		c.transport = t
	})
}

const defaultEmbedWorkers = 8

func newConnConfig(opts []Option) *connConfig {
	c := &connConfig{embedWorkers: defaultEmbedWorkers}
	for _, o := range opts {
		o.apply(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.embedWorkers <= 0 {
		c.embedWorkers = defaultEmbedWorkers
	}
	return c
}

// retryPolicy picks the option policy, then the URI policy.
func (c *connConfig) retryPolicy(res config.Resolved) retry.Policy {
	if c.retry != nil {
		return *c.retry
	}
	return res.Retry.Policy()
}
