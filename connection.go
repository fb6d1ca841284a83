package holodex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/config"
	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/usecase/health"
	"github.com/kailas-cloud/holodex/internal/usecase/index"
	"github.com/kailas-cloud/holodex/internal/usecase/search"
)

// HealthReport is the outcome of Connection.Health.
type HealthReport = health.Report

// Health statuses.
const (
	Healthy   = health.Healthy
	Degraded  = health.Degraded
	Unhealthy = health.Unhealthy
)

// core is the state shared by the sync and async surfaces of one connection.
type core struct {
	transport db.Transport
	engine    *search.Engine
	indexes   *index.Manager
	pool      *ants.Pool
	obs       *observer
	cfg       *connConfig

	// ctx is cancelled by close; every operation derives from it too.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func newCore(ctx context.Context, uri string, async bool, opts []Option) (*core, error) {
	cfg := newConnConfig(opts)
	obs := newObserver(cfg)

	start := time.Now()
	t := cfg.transport
	if t == nil {
		res, err := config.ParseURI(uri, cfg.env)
		if err != nil {
			obs.observe("connect", "", start, err)
			return nil, fmt.Errorf("holodex: connect: %w", err)
		}
		t, err = openTransport(ctx, res, cfg, obs)
		if err != nil {
			obs.observe("connect", "", start, err)
			return nil, fmt.Errorf("holodex: connect %s: %w", res.URI, err)
		}
	}

	pool, err := ants.NewPool(cfg.embedWorkers)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("holodex: connect: embed pool: %w", err)
	}

	bg, cancel := context.WithCancel(context.Background())
	c := &core{
		transport: t,
		engine: search.New(t, search.Config{
			Async:   async,
			Metrics: obs.metrics,
			Logger:  cfg.logger,
		}),
		indexes: index.New(t, nil, index.Config{
			WaitTimeout: cfg.indexWait,
			Logger:      cfg.logger,
		}),
		pool:   pool,
		obs:    obs,
		cfg:    cfg,
		ctx:    bg,
		cancel: cancel,
	}
	obs.observe("connect", "", start, nil)
	cfg.logger.Info("connected",
		zap.String("transport", t.Capabilities().Name),
		zap.Bool("async", async),
	)
	return c, nil
}

// begin registers an in-flight operation. The returned context is
// cancelled when ctx ends or the connection closes.
func (c *core) begin(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, domain.ErrConnectionClosed
	}
	c.inflight.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		c.inflight.Done()
	}, nil
}

// do runs fn as a tracked operation and wraps its error.
func (c *core) do(ctx context.Context, op, mode string, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() { c.obs.observe(op, mode, start, err) }()

	ctx, end, err := c.begin(ctx)
	if err != nil {
		return fmt.Errorf("holodex: %s: %w", op, err)
	}
	defer end()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("holodex: %s: %w", op, err)
	}
	return nil
}

func (c *core) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close cancels in-flight operations, waits for them and releases the
// transport. Later calls return nil.
func (c *core) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.inflight.Wait()
	c.pool.Release()
	err := c.transport.Close()
	c.cfg.logger.Info("connection closed")
	if err != nil {
		return fmt.Errorf("holodex: close: %w", err)
	}
	return nil
}

func (c *core) createTable(ctx context.Context, name string, s Schema, opts []TableOption) (*Table, error) {
	var t *Table
	err := c.do(ctx, "create_table", "", func(ctx context.Context) error {
		if name == "" {
			return domain.NewValidation("name", "table name is required")
		}
		tbl, err := c.newTable(name, s, opts)
		if err != nil {
			return err
		}
		if err := c.transport.CreateTable(ctx, name, s); err != nil {
			if errors.Is(err, db.ErrTableExists) {
				return domain.NewValidation("name", "table %q already exists", name)
			}
			return db.Public(db.OpCreateTable, err)
		}
		t = tbl
		return nil
	})
	return t, err
}

func (c *core) openTable(ctx context.Context, name string, opts []TableOption) (*Table, error) {
	var t *Table
	err := c.do(ctx, "open_table", "", func(ctx context.Context) error {
		s, err := c.transport.FetchSchema(ctx, name)
		if err != nil {
			return db.Public(db.OpFetchSchema, err)
		}
		tbl, err := c.newTable(name, s, opts)
		if err != nil {
			return err
		}
		if _, err := c.indexes.List(ctx, name); err != nil {
			return err
		}
		t = tbl
		return nil
	})
	return t, err
}

func (c *core) dropTable(ctx context.Context, name string) error {
	return c.do(ctx, "drop_table", "", func(ctx context.Context) error {
		if err := c.transport.DropTable(ctx, name); err != nil {
			return db.Public(db.OpDropTable, err)
		}
		c.indexes.Forget(name)
		return nil
	})
}

func (c *core) renameTable(ctx context.Context, from, to string) error {
	return c.do(ctx, "rename_table", "", func(ctx context.Context) error {
		if to == "" {
			return domain.NewValidation("name", "new table name is required")
		}
		if err := c.transport.RenameTable(ctx, from, to); err != nil {
			if errors.Is(err, db.ErrTableExists) {
				return domain.NewValidation("name", "table %q already exists", to)
			}
			return db.Public(db.OpRenameTable, err)
		}
		c.indexes.Rename(from, to)
		return nil
	})
}

func (c *core) listTables(ctx context.Context) ([]string, error) {
	var names []string
	err := c.do(ctx, "list_tables", "", func(ctx context.Context) error {
		ns, err := c.transport.ListTables(ctx)
		if err != nil {
			return db.Public(db.OpListTables, err)
		}
		names = slices.Sorted(slices.Values(ns))
		return nil
	})
	return names, err
}

func (c *core) ping(ctx context.Context) error {
	return c.do(ctx, "ping", "", func(ctx context.Context) error {
		return db.Public(db.OpPing, c.transport.Ping(ctx))
	})
}

func (c *core) health(ctx context.Context) (HealthReport, error) {
	var report HealthReport
	err := c.do(ctx, "health", "", func(ctx context.Context) error {
		var emb health.EmbeddingChecker
		if hc, ok := c.cfg.embedder.(domain.HealthChecker); ok {
			emb = hc
		}
		report = health.New(c.transport, emb).Check(ctx)
		return nil
	})
	return report, err
}

// Connection is a synchronous connection: every operation blocks until
// it completes. It owns one transport until Close.
type Connection struct {
	c *core
}

// Connect opens a connection for uri. Supported schemes: holo:// (Cloud),
// postgres:// or postgresql:// (Local) and memory://. An empty uri falls
// back to HOLOGRES_URI, then to a Local DSN assembled from HOLOGRES_*.
func Connect(ctx context.Context, uri string, opts ...Option) (*Connection, error) {
	c, err := newCore(ctx, uri, false, opts)
	if err != nil {
		return nil, err
	}
	return &Connection{c: c}, nil
}

// WithConnection connects, runs fn and closes the connection, also when
// fn panics. The close error is returned when fn succeeds.
func WithConnection(ctx context.Context, uri string, fn func(*Connection) error, opts ...Option) (err error) {
	conn, err := Connect(ctx, uri, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(conn)
}

// CreateTable creates a table and returns a handle bound to it.
func (c *Connection) CreateTable(ctx context.Context, name string, s Schema, opts ...TableOption) (*Table, error) {
	return c.c.createTable(ctx, name, s, opts)
}

// OpenTable returns a handle for an existing table. It reads the schema
// and reconciles the table's indexes with the backend.
func (c *Connection) OpenTable(ctx context.Context, name string, opts ...TableOption) (*Table, error) {
	return c.c.openTable(ctx, name, opts)
}

// DropTable drops a table. A missing table reports ErrNotFound.
func (c *Connection) DropTable(ctx context.Context, name string) error {
	return c.c.dropTable(ctx, name)
}

// RenameTable renames a table; its indexes follow it. Handles opened under
// the old name keep addressing it and must be reopened.
func (c *Connection) RenameTable(ctx context.Context, from, to string) error {
	return c.c.renameTable(ctx, from, to)
}

// ListTables returns the table names in lexical order.
func (c *Connection) ListTables(ctx context.Context) ([]string, error) {
	return c.c.listTables(ctx)
}

// Ping checks that the backend answers.
func (c *Connection) Ping(ctx context.Context) error {
	return c.c.ping(ctx)
}

// Health probes the backend and, when it supports it, the default embedder.
func (c *Connection) Health(ctx context.Context) (HealthReport, error) {
	return c.c.health(ctx)
}

// Close cancels in-flight operations and releases the transport. Table
// handles of the connection fail with ErrConnectionClosed afterwards.
func (c *Connection) Close() error {
	return c.c.close()
}
