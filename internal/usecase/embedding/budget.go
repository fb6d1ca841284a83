package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/metrics"
)

// ErrBudgetExceeded is returned by a rejecting budget once a period cap is reached.
var ErrBudgetExceeded = errors.New("embedding token budget exceeded")

// BudgetAction defines behavior when the token budget is exceeded.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but allows the request.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject blocks the request.
	BudgetActionReject BudgetAction = "reject"
)

const budgetKeyPrefix = "holodex:budget:"

// BudgetStore persists budget counters across processes.
// *redis.Store satisfies it.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Counter(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// BudgetConfig sets the token caps. Zero limits are unlimited.
type BudgetConfig struct {
	Provider     string
	DailyLimit   int64
	MonthlyLimit int64
	Action       BudgetAction
}

// Budget tracks embedding tokens per UTC day and month.
// Check is in-memory only; Record writes behind to the store when attached.
type Budget struct {
	cfg     BudgetConfig
	store   BudgetStore
	metrics *metrics.Embedding
	logger  *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	day         time.Time
	month       time.Time
	dailyUsed   int64
	monthlyUsed int64
}

// NewBudget creates a budget. m and logger may be nil.
func NewBudget(cfg BudgetConfig, m *metrics.Embedding, logger *zap.Logger) *Budget {
	if cfg.Action == "" {
		cfg.Action = BudgetActionReject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Budget{cfg: cfg, metrics: m, logger: logger, now: time.Now}
	b.day, b.month = periods(b.now())
	return b
}

// WithStore attaches a persistence store and loads the current counters.
func (b *Budget) WithStore(ctx context.Context, store BudgetStore) *Budget {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	if v, err := store.Counter(ctx, b.dailyKey(b.day)); err == nil {
		b.dailyUsed = v
	} else {
		b.logger.Warn("Failed to load daily budget from store", zap.Error(err))
	}
	if v, err := store.Counter(ctx, b.monthlyKey(b.month)); err == nil {
		b.monthlyUsed = v
	} else {
		b.logger.Warn("Failed to load monthly budget from store", zap.Error(err))
	}

	b.logger.Info("Budget loaded from store",
		zap.String("provider", b.cfg.Provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("monthly_used", b.monthlyUsed),
	)
	return b
}

// Check verifies the budget allows a new request.
func (b *Budget) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	daily := b.cfg.DailyLimit > 0 && b.dailyUsed >= b.cfg.DailyLimit
	monthly := b.cfg.MonthlyLimit > 0 && b.monthlyUsed >= b.cfg.MonthlyLimit
	if !daily && !monthly {
		return nil
	}
	if b.cfg.Action == BudgetActionReject {
		period := "daily"
		if !daily {
			period = "monthly"
		}
		return fmt.Errorf("%w: %s cap reached", ErrBudgetExceeded, period)
	}

	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.cfg.Provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("daily_limit", b.cfg.DailyLimit),
		zap.Int64("monthly_used", b.monthlyUsed),
		zap.Int64("monthly_limit", b.cfg.MonthlyLimit),
	)
	return nil
}

// Record adds consumed tokens.
func (b *Budget) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.rollover()
	b.dailyUsed += tokens
	b.monthlyUsed += tokens
	store := b.store
	dailyKey, monthlyKey := b.dailyKey(b.day), b.monthlyKey(b.month)
	daily, monthly := b.remaining(b.cfg.DailyLimit, b.dailyUsed), b.remaining(b.cfg.MonthlyLimit, b.monthlyUsed)
	b.mu.Unlock()

	b.metrics.SetBudgetRemaining(b.cfg.Provider, "daily", daily)
	b.metrics.SetBudgetRemaining(b.cfg.Provider, "monthly", monthly)

	if store == nil {
		return
	}

	// detached from the caller's context so a cancelled query still counts
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b.persist(ctx, store, dailyKey, tokens, 48*time.Hour)
	b.persist(ctx, store, monthlyKey, tokens, 32*24*time.Hour)
}

func (b *Budget) persist(ctx context.Context, store BudgetStore, key string, tokens int64, ttl time.Duration) {
	if err := store.IncrBy(ctx, key, tokens); err != nil {
		b.logger.Warn("Failed to persist budget", zap.String("key", key), zap.Error(err))
		return
	}
	if err := store.Expire(ctx, key, ttl); err != nil {
		b.logger.Warn("Failed to set budget expiry", zap.String("key", key), zap.Error(err))
	}
}

// RemainingDaily returns tokens left today, -1 when unlimited.
func (b *Budget) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.remaining(b.cfg.DailyLimit, b.dailyUsed)
}

// RemainingMonthly returns tokens left this month, -1 when unlimited.
func (b *Budget) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.remaining(b.cfg.MonthlyLimit, b.monthlyUsed)
}

// DailyUsed returns tokens consumed today.
func (b *Budget) DailyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.dailyUsed
}

// MonthlyUsed returns tokens consumed this month.
func (b *Budget) MonthlyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.monthlyUsed
}

func (b *Budget) remaining(limit, used int64) int64 {
	if limit == 0 {
		return -1
	}
	return max(limit-used, 0)
}

// rollover zeroes counters when the day or month changes. Caller holds mu.
func (b *Budget) rollover() {
	day, month := periods(b.now())
	if day.After(b.day) {
		b.dailyUsed = 0
		b.day = day
	}
	if month.After(b.month) {
		b.monthlyUsed = 0
		b.month = month
	}
}

func (b *Budget) dailyKey(day time.Time) string {
	return budgetKeyPrefix + b.cfg.Provider + ":daily:" + day.Format("2006-01-02")
}

func (b *Budget) monthlyKey(month time.Time) string {
	return budgetKeyPrefix + b.cfg.Provider + ":monthly:" + month.Format("2006-01")
}

func periods(t time.Time) (day, month time.Time) {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
