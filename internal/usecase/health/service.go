// Package health probes the components a connection depends on.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded means queries work but embedding is unavailable.
	Degraded Status = "degraded"
	// Unhealthy means the backend is unreachable.
	Unhealthy Status = "error"
)

// CheckResult is an individual component outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names used in Report.Checks.
const (
	ComponentBackend   = "backend"
	ComponentEmbedding = "embedding"
)

// DefaultTimeout bounds each component check.
const DefaultTimeout = 5 * time.Second

// Check is the outcome of one component probe.
type Check struct {
	Result  CheckResult   `json:"result"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// Report aggregates health check results.
type Report struct {
	Status Status           `json:"status"`
	Checks map[string]Check `json:"checks"`
}

// Pinger is a transport that answers a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker is an embedding function that can probe its provider.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// Service coordinates health checks.
type Service struct {
	backend   Pinger
	embedding EmbeddingChecker
	timeout   time.Duration
}

// New creates a Service. embedding can be nil.
func New(backend Pinger, embedding EmbeddingChecker) *Service {
	return &Service{backend: backend, embedding: embedding, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of s bounding each probe by d.
func (s *Service) WithTimeout(d time.Duration) *Service {
	c := *s
	if d > 0 {
		c.timeout = d
	}
	return &c
}

// Check probes every component concurrently.
func (s *Service) Check(ctx context.Context) Report {
	probes := map[string]func(context.Context) error{
		ComponentBackend: s.backend.Ping,
	}
	if s.embedding != nil {
		probes[ComponentEmbedding] = s.embedding.HealthCheck
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]Check, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := s.probe(ctx, probe)
			mu.Lock()
			checks[name] = c
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := Healthy
	switch {
	case checks[ComponentBackend].Result == CheckError:
		status = Unhealthy
	case s.embedding != nil && checks[ComponentEmbedding].Result == CheckError:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}

func (s *Service) probe(ctx context.Context, fn func(context.Context) error) Check {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c := Check{Result: CheckOK, Latency: time.Since(start)}
	if err != nil {
		c.Result = CheckError
		c.Error = err.Error()
	}
	return c
}
