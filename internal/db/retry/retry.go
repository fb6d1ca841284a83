// Package retry runs transport operations under a bounded retry budget.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/kailas-cloud/holodex/internal/db"
)

// Backoff selects the delay progression between attempts.
type Backoff string

// Backoff strategies.
const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// Policy is a retry budget. The zero value never retries.
type Policy struct {
	MaxRetries int
	Backoff    Backoff
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter adds up to ±25% random variation to each delay.
	Jitter bool
	// Retryable overrides the default classifier, db.IsTransient.
	Retryable func(error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns the policy used when none is configured.
func Default() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    BackoffExponential,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     true,
	}
}

// None returns a policy that makes a single attempt.
func None() Policy { return Policy{} }

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// budget is spent. The returned *db.Error records the attempt count.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = db.IsTransient
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return withAttempts(op, ctx.Err(), db.OutcomeFatal, attempt+1)
		}
		if !retryable(err) || attempt >= p.MaxRetries {
			return withAttempts(op, err, db.OutcomeOf(err), attempt+1)
		}

		delay := p.Delay(attempt)
		var de *db.Error
		if errors.As(err, &de) && de.RetryAfter > delay {
			delay = de.RetryAfter
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return withAttempts(op, ctx.Err(), db.OutcomeFatal, attempt+1)
		case <-t.C:
		}
	}
}

// Delay returns the sleep before retry number attempt+1.
// Exponential backoff is BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	if p.Backoff != BackoffFixed && attempt > 0 {
		if attempt > 30 {
			attempt = 30
		}
		delay = p.BaseDelay * time.Duration(1<<uint(attempt))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
		delay += jitter
	}
	if delay < 0 {
		delay = p.BaseDelay
	}
	return delay
}

func withAttempts(op string, err error, outcome db.Outcome, attempts int) error {
	var de *db.Error
	if errors.As(err, &de) {
		out := *de
		out.Attempts = attempts
		return &out
	}
	return &db.Error{Op: op, Outcome: outcome, Attempts: attempts, Err: err}
}
