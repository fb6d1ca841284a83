package holodex

import "context"

// AsyncConnection is an asynchronous connection: every operation returns
// a Future at once. Hybrid queries always dispatch both sub-queries
// concurrently. Closing the connection cancels pending futures.
type AsyncConnection struct {
	c *core
}

// ConnectAsync opens an asynchronous connection for uri. See Connect for
// the supported URIs.
func ConnectAsync(ctx context.Context, uri string, opts ...Option) (*AsyncConnection, error) {
	c, err := newCore(ctx, uri, true, opts)
	if err != nil {
		return nil, err
	}
	return &AsyncConnection{c: c}, nil
}

// WithAsyncConnection connects, runs fn and closes the connection, also
// when fn panics. Close waits for the futures fn left pending.
func WithAsyncConnection(ctx context.Context, uri string, fn func(*AsyncConnection) error, opts ...Option) (err error) {
	conn, err := ConnectAsync(ctx, uri, opts...)
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

// CreateTable creates a table.
func (c *AsyncConnection) CreateTable(ctx context.Context, name string, s Schema, opts ...TableOption) *Future[*AsyncTable] {
	return run(ctx, func(ctx context.Context) (*AsyncTable, error) {
		t, err := c.c.createTable(ctx, name, s, opts)
		return asyncTable(t), err
	})
}

// OpenTable returns a handle for an existing table.
func (c *AsyncConnection) OpenTable(ctx context.Context, name string, opts ...TableOption) *Future[*AsyncTable] {
	return run(ctx, func(ctx context.Context) (*AsyncTable, error) {
		t, err := c.c.openTable(ctx, name, opts)
		return asyncTable(t), err
	})
}

// DropTable drops a table.
func (c *AsyncConnection) DropTable(ctx context.Context, name string) *Future[struct{}] {
	return run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.c.dropTable(ctx, name)
	})
}

// RenameTable renames a table.
func (c *AsyncConnection) RenameTable(ctx context.Context, from, to string) *Future[struct{}] {
	return run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.c.renameTable(ctx, from, to)
	})
}

// ListTables returns the table names in lexical order.
func (c *AsyncConnection) ListTables(ctx context.Context) *Future[[]string] {
	return run(ctx, c.c.listTables)
}

// Ping checks that the backend answers.
func (c *AsyncConnection) Ping(ctx context.Context) *Future[struct{}] {
	return run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.c.ping(ctx)
	})
}

// Health probes the backend and the default embedder.
func (c *AsyncConnection) Health(ctx context.Context) *Future[HealthReport] {
	return run(ctx, c.c.health)
}

// Close cancels pending futures, waits for them and releases the transport.
func (c *AsyncConnection) Close() error {
	return c.c.close()
}

// AsyncTable is the asynchronous form of Table. The same concurrency
// rules apply.
type AsyncTable struct {
	t *Table
}

func asyncTable(t *Table) *AsyncTable {
	if t == nil {
		return nil
	}
	return &AsyncTable{t: t}
}

// Name returns the table name.
func (a *AsyncTable) Name() string { return a.t.Name() }

// Schema returns the table schema.
func (a *AsyncTable) Schema() Schema { return a.t.Schema() }

// Query starts a query bound to the table's schema.
func (a *AsyncTable) Query() Query { return a.t.Query() }

// Search runs q.
func (a *AsyncTable) Search(ctx context.Context, q Query) *Future[*Result] {
	return run(ctx, func(ctx context.Context) (*Result, error) {
		return a.t.Search(ctx, q)
	})
}

// Add inserts rows.
func (a *AsyncTable) Add(ctx context.Context, rows []Row, opts ...AddOption) *Future[int64] {
	return run(ctx, func(ctx context.Context) (int64, error) {
		return a.t.Add(ctx, rows, opts...)
	})
}

// Update assigns values to the rows matching where.
func (a *AsyncTable) Update(ctx context.Context, where string, values map[string]any) *Future[int64] {
	return run(ctx, func(ctx context.Context) (int64, error) {
		return a.t.Update(ctx, where, values)
	})
}

// Delete removes the rows matching where.
func (a *AsyncTable) Delete(ctx context.Context, where string) *Future[int64] {
	return run(ctx, func(ctx context.Context) (int64, error) {
		return a.t.Delete(ctx, where)
	})
}

// Count returns the number of rows matching where.
func (a *AsyncTable) Count(ctx context.Context, where string) *Future[int64] {
	return run(ctx, func(ctx context.Context) (int64, error) {
		return a.t.Count(ctx, where)
	})
}

// CreateIndex builds an index and resolves once it is Ready.
func (a *AsyncTable) CreateIndex(ctx context.Context, column string, kind IndexKind, opts ...IndexOption) *Future[IndexDescriptor] {
	return run(ctx, func(ctx context.Context) (IndexDescriptor, error) {
		return a.t.CreateIndex(ctx, column, kind, opts...)
	})
}

// DropIndex drops the named index.
func (a *AsyncTable) DropIndex(ctx context.Context, name string) *Future[struct{}] {
	return run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.t.DropIndex(ctx, name)
	})
}

// RebuildIndex recreates the named index.
func (a *AsyncTable) RebuildIndex(ctx context.Context, name string) *Future[IndexDescriptor] {
	return run(ctx, func(ctx context.Context) (IndexDescriptor, error) {
		return a.t.RebuildIndex(ctx, name)
	})
}

// Indexes returns the locally known index descriptors.
func (a *AsyncTable) Indexes() ([]IndexDescriptor, error) { return a.t.Indexes() }

// ListIndexes reconciles the descriptors with the backend.
func (a *AsyncTable) ListIndexes(ctx context.Context) *Future[[]IndexDescriptor] {
	return run(ctx, a.t.ListIndexes)
}
