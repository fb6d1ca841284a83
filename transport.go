package holodex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/config"
	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/cloud"
	"github.com/kailas-cloud/holodex/internal/db/memory"
	"github.com/kailas-cloud/holodex/internal/db/postgres"
	"github.com/kailas-cloud/holodex/internal/domain"
)

// openTransport builds the transport named by res and verifies it answers.
func openTransport(ctx context.Context, res config.Resolved, cfg *connConfig, obs *observer) (db.Transport, error) {
	policy := cfg.retryPolicy(res)
	policy.OnRetry = obs.retryHook(string(res.Kind))
	log := cfg.logger.With(zap.String("transport", string(res.Kind)))

	switch res.Kind {
	case config.KindMemory:
		return memory.New(res.Credentials.Database), nil

	case config.KindLocal:
		pc := postgres.Config{
			DSN:             res.Credentials.DSN,
			MaxConns:        res.Pool.MaxConns,
			MinConns:        res.Pool.MinConns,
			MaxConnIdleTime: res.Pool.MaxConnIdleTime,
			Retry:           policy,
			CreateExtension: cfg.createExtension,
			Logger:          log,
		}
		if cfg.maxConns > 0 {
			pc.MaxConns = cfg.maxConns
		}
		if cfg.arrayDistance {
			pc.Style = postgres.StyleFunction
		}
		s, err := postgres.New(ctx, pc)
		if err != nil {
			return nil, &domain.TransportFatalError{Op: db.OpPing, Err: err}
		}
		return s, nil

	case config.KindCloud:
		creds := res.Credentials
		apiKey := first(cfg.apiKey, creds.APIKey)
		if apiKey == "" {
			return nil, domain.NewValidation("api_key", "cloud connections need an api key (WithAPIKey or %s)", config.EnvAPIKey)
		}
		base := cfg.host
		if base == "" {
			base = creds.BaseURL()
		}
		c, err := cloud.New(cloud.Config{
			BaseURL:    base,
			Region:     first(cfg.region, creds.Region),
			Database:   creds.Database,
			APIKey:     apiKey,
			SigningKey: cfg.signingKey,
			Timeout:    cfg.timeout,
			Rate:       cfg.rate,
			Retry:      policy,
			HTTPClient: cfg.httpClient,
			Logger:     log,
		})
		if err != nil {
			return nil, domain.NewValidation("uri", "%v", err)
		}
		if err := c.Ping(ctx); err != nil {
			_ = c.Close()
			return nil, db.Public(db.OpPing, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unsupported backend kind %q", res.Kind)
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
