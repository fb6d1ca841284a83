// Package postgres is the Local transport: a pgx pool speaking SQL to a
// Postgres-compatible server with pgvector or array distance functions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Compile-time check: Store implements db.Transport.
var _ db.Transport = (*Store)(nil)

// Config holds pool, retry and dialect settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration

	Retry retry.Policy

	Style             VectorStyle
	DistanceFunctions map[vector.Metric]string
	// Language is the default text search configuration.
	Language string
	// CreateExtension runs CREATE EXTENSION IF NOT EXISTS vector on connect.
	CreateExtension bool

	Logger *zap.Logger
}

// Store implements db.Transport over pgxpool.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
	log  *zap.Logger

	mu     sync.RWMutex
	tables map[string]tableInfo
}

// tableInfo is the cached catalog view of one table.
type tableInfo struct {
	schema schema.Schema
	rowID  string
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := newStore(pool, cfg)
	if cfg.CreateExtension && s.cfg.Style == StylePgvector {
		if _, err := pool.Exec(cctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create vector extension: %w", err)
		}
	}
	return s, nil
}

func newStore(pool *pgxpool.Pool, cfg Config) *Store {
	if cfg.Style == "" {
		cfg.Style = StylePgvector
	}
	if cfg.DistanceFunctions == nil {
		cfg.DistanceFunctions = DefaultDistanceFunctions
	}
	if cfg.Language == "" {
		cfg.Language = "english"
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, cfg: cfg, log: log, tables: make(map[string]tableInfo)}
}

// Capabilities reports a pipelining transport: the pool runs concurrent
// queries on separate connections.
func (s *Store) Capabilities() db.Capabilities {
	return db.Capabilities{Pipelining: true, Name: "postgres"}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(db.OpPing, err)
	}
	return nil
}

// Close shuts down the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// do runs fn under the retry policy. Reads retry on any transient error;
// writes only when the statement never reached the server.
func (s *Store) do(ctx context.Context, op string, write bool, fn func(ctx context.Context) error) error {
	p := s.cfg.Retry
	if write {
		p.Retryable = func(err error) bool {
			var de *db.Error
			return errors.As(err, &de) && pgconn.SafeToRetry(de.Err)
		}
	}
	next := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.log.Warn("retrying statement",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return p.Do(ctx, op, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return classify(op, err)
		}
		return nil
	})
}

var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// classify maps a pgx error onto the transport outcome taxonomy.
func classify(op string, err error) error {
	var de *db.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return db.Fatal(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01":
			return db.NotFound(op, fmt.Errorf("%w: %s", db.ErrTableNotFound, pgErr.Message))
		case pgErr.Code == "42704" && op == db.OpDropIndex:
			return db.NotFound(op, fmt.Errorf("%w: %s", db.ErrIndexNotFound, pgErr.Message))
		case pgErr.Code == "42P07":
			return db.Fatal(op, fmt.Errorf("%w: %s", db.ErrTableExists, pgErr.Message))
		case transientCodes[pgErr.Code] || len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return db.Transient(op, err)
		}
		return db.Fatal(op, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return db.NotFound(op, err)
	}
	if pgconn.SafeToRetry(err) {
		return db.Transient(op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return db.Transient(op, err)
	}
	return db.Fatal(op, err)
}

func (s *Store) lowering(t tableInfo) *lowering {
	return &lowering{
		style:     s.cfg.Style,
		functions: s.cfg.DistanceFunctions,
		language:  s.cfg.Language,
		schema:    t.schema,
		rowIDCol:  t.rowID,
	}
}

// table returns the cached catalog view of name, fetching it on first use.
func (s *Store) table(ctx context.Context, name string) (tableInfo, error) {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}
	t, err := s.fetchTable(ctx, name)
	if err != nil {
		return tableInfo{}, err
	}
	s.mu.Lock()
	s.tables[name] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Store) forget(table string) {
	s.mu.Lock()
	delete(s.tables, table)
	s.mu.Unlock()
}
