package holodex

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/metrics"
)

// observer provides logging and metrics for connection operations.
type observer struct {
	logger  *zap.Logger
	metrics *metrics.SDK
}

func newObserver(cfg *connConfig) *observer {
	var m *metrics.SDK
	if cfg.metricsReg != nil {
		m = metrics.NewSDK(cfg.metricsReg)
	}
	return &observer{logger: cfg.logger, metrics: m}
}

func (o *observer) observe(op, mode string, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	o.metrics.ObserveOperation(op, mode, dur, err)

	if err != nil {
		o.logger.Warn("operation failed",
			zap.String("op", op),
			zap.String("mode", mode),
			zap.Duration("duration", dur),
			zap.Error(err),
		)
		return
	}
	o.logger.Debug("operation completed",
		zap.String("op", op),
		zap.String("mode", mode),
		zap.Duration("duration", dur),
	)
}

// retryHook counts transport retries by the failing operation.
func (o *observer) retryHook(transport string) func(int, time.Duration, error) {
	return func(_ int, _ time.Duration, err error) {
		op := "unknown"
		var de *db.Error
		if errors.As(err, &de) {
			op = de.Op
		}
		o.metrics.IncRetry(transport, op)
	}
}
