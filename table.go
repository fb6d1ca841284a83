package holodex

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain"
	domidx "github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/usecase/index"
	"github.com/kailas-cloud/holodex/internal/usecase/search"
	tablesvc "github.com/kailas-cloud/holodex/internal/usecase/table"
)

// TableOption configures a table handle.
type TableOption func(*tableConfig)

type tableConfig struct {
	embedder Embedder
	source   string
}

// WithTableEmbedder binds an embedding function to the handle. It
// overrides the connection default.
func WithTableEmbedder(e Embedder) TableOption {
	return func(c *tableConfig) { c.embedder = e }
}

// WithSourceColumn makes Add embed the named text column into the vector
// column for rows that carry no vector. It needs an embedder.
func WithSourceColumn(column string) TableOption {
	return func(c *tableConfig) { c.source = column }
}

// Table is a handle to one table of a connection. A handle is not safe
// for concurrent mutation without external synchronization; its indexes
// are a view into the connection's registry. Every operation fails with
// ErrConnectionClosed once the connection is closed.
type Table struct {
	core     *core
	name     string
	schema   Schema
	embedder Embedder
	rows     *tablesvc.Service
}

func (c *core) newTable(name string, s Schema, opts []TableOption) (*Table, error) {
	if s.IsZero() {
		return nil, domain.NewValidation("schema", "table %q has no columns", name)
	}
	tc := tableConfig{embedder: c.cfg.embedder}
	for _, o := range opts {
		o(&tc)
	}
	if tc.source != "" && tc.embedder == nil {
		return nil, domain.NewValidation("source_column", "needs an embedding function")
	}
	svc, err := tablesvc.New(c.transport, c.indexes, name, s, tablesvc.Config{
		Embedder:     tc.embedder,
		SourceColumn: tc.source,
		Pool:         c.pool,
		Logger:       c.cfg.logger,
	})
	if err != nil {
		return nil, err
	}
	return &Table{core: c, name: name, schema: s, embedder: tc.embedder, rows: svc}, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Schema returns the table schema.
func (t *Table) Schema() Schema { return t.schema }

// Query starts a query bound to the table's schema.
func (t *Table) Query() Query {
	return newQuery(t)
}

// Search runs q. q must come from this table's Query.
func (t *Table) Search(ctx context.Context, q Query) (*Result, error) {
	p, perr := t.plan(q)
	var res *Result
	err := t.core.do(ctx, "search", string(p.Mode()), func(ctx context.Context) error {
		if perr != nil {
			return perr
		}
		var err error
		res, err = t.core.engine.Execute(ctx, p, search.Target{
			Table:    t.name,
			Schema:   t.schema,
			Indexes:  t.core.indexes.Indexes(t.name),
			Embedder: t.embedder,
		})
		return err
	})
	return res, err
}

func (t *Table) plan(q Query) (Plan, error) {
	if q.table != t {
		return Plan{}, &domain.QueryError{Table: t.name, Err: domain.NewValidation("query", "query was built for another table")}
	}
	p, err := q.b.Build()
	if err != nil {
		return Plan{}, &domain.QueryError{Table: t.name, Mode: string(q.mode), Err: err}
	}
	return p, nil
}

// AddOption tunes Add.
type AddOption func(*tablesvc.AddOptions)

// Overwrite replaces the table contents with the added rows.
func Overwrite() AddOption {
	return func(o *tablesvc.AddOptions) { o.Mode = tablesvc.AddOverwrite }
}

// OnBadVectors selects the policy for rows whose vector is missing,
// mis-sized or not finite. Default: BadVectorsError.
func OnBadVectors(p BadVectors) AddOption {
	return func(o *tablesvc.AddOptions) { o.OnBadVectors = p }
}

// FillValue sets the component value BadVectorsFill writes.
func FillValue(v float32) AddOption {
	return func(o *tablesvc.AddOptions) { o.FillValue = v }
}

// Add inserts rows and returns how many were written. Ready indexes
// become Stale.
func (t *Table) Add(ctx context.Context, rows []Row, opts ...AddOption) (int64, error) {
	var ao tablesvc.AddOptions
	for _, o := range opts {
		o(&ao)
	}
	staged := make([]db.Row, len(rows))
	for i, r := range rows {
		staged[i] = r
	}
	var n int64
	err := t.core.do(ctx, "add", "", func(ctx context.Context) error {
		var err error
		n, err = t.rows.Add(ctx, staged, ao)
		return t.wrap(err)
	})
	return n, err
}

// Update assigns values to the rows matching where and returns the row
// count. An empty where matches every row.
func (t *Table) Update(ctx context.Context, where string, values map[string]any) (int64, error) {
	var n int64
	err := t.core.do(ctx, "update", "", func(ctx context.Context) error {
		expr, err := filter.Parse(where)
		if err != nil {
			return t.wrap(err)
		}
		n, err = t.rows.Update(ctx, expr, values)
		return t.wrap(err)
	})
	return n, err
}

// Delete removes the rows matching where and returns the row count.
// where is required.
func (t *Table) Delete(ctx context.Context, where string) (int64, error) {
	var n int64
	err := t.core.do(ctx, "delete", "", func(ctx context.Context) error {
		expr, err := filter.Parse(where)
		if err != nil {
			return t.wrap(err)
		}
		if expr == nil {
			return t.wrap(domain.NewValidation("where", "a predicate is required; use Add with Overwrite to clear a table"))
		}
		n, err = t.rows.Delete(ctx, expr)
		return t.wrap(err)
	})
	return n, err
}

// Count returns the number of rows matching where. An empty where counts
// every row.
func (t *Table) Count(ctx context.Context, where string) (int64, error) {
	var n int64
	err := t.core.do(ctx, "count", "", func(ctx context.Context) error {
		expr, err := filter.Parse(where)
		if err != nil {
			return t.wrap(err)
		}
		n, err = t.rows.Count(ctx, expr)
		return t.wrap(err)
	})
	return n, err
}

// IndexOption tunes CreateIndex.
type IndexOption func(*index.CreateRequest)

// IndexName names the index. Default: <table>_<column>_idx, or
// <table>_<column>_fts_idx for text indexes.
func IndexName(name string) IndexOption {
	return func(r *index.CreateRequest) { r.Name = name }
}

// ReplaceIndex drops an existing index of the same kind on the column first.
func ReplaceIndex() IndexOption {
	return func(r *index.CreateRequest) { r.Replace = true }
}

// WithIndexParams sets kind-specific parameters. Zero fields take defaults.
func WithIndexParams(p IndexParams) IndexOption {
	return func(r *index.CreateRequest) { r.Params = p }
}

// CreateIndex builds an index on column and waits until it is Ready.
// A vector index on a non-vector column, or a text index on a non-text
// column, fails with ValidationError before any backend call. A timed out
// wait returns IndexStateError and leaves the index Building.
func (t *Table) CreateIndex(ctx context.Context, column string, kind IndexKind, opts ...IndexOption) (IndexDescriptor, error) {
	req := index.CreateRequest{Kind: kind, Column: column}
	for _, o := range opts {
		o(&req)
	}
	var d IndexDescriptor
	err := t.core.do(ctx, "create_index", "", func(ctx context.Context) error {
		var err error
		d, err = t.core.indexes.Create(ctx, t.name, t.schema, req)
		return t.wrap(err)
	})
	return d, err
}

// DropIndex drops the named index. Dropping an absent index succeeds.
func (t *Table) DropIndex(ctx context.Context, name string) error {
	return t.core.do(ctx, "drop_index", "", func(ctx context.Context) error {
		return t.wrap(t.core.indexes.Drop(ctx, t.name, name))
	})
}

// RebuildIndex recreates the named index with its current parameters,
// clearing a Stale status.
func (t *Table) RebuildIndex(ctx context.Context, name string) (IndexDescriptor, error) {
	var d IndexDescriptor
	err := t.core.do(ctx, "rebuild_index", "", func(ctx context.Context) error {
		var err error
		d, err = t.core.indexes.Rebuild(ctx, t.name, t.schema, name)
		return t.wrap(err)
	})
	return d, err
}

// Indexes returns the locally known index descriptors without a backend
// call. It reports staleness.
func (t *Table) Indexes() ([]IndexDescriptor, error) {
	if t.core.isClosed() {
		return nil, fmt.Errorf("holodex: indexes: %w", domain.ErrConnectionClosed)
	}
	return t.core.indexes.Indexes(t.name), nil
}

// ListIndexes reconciles the local descriptors with the backend and
// returns them.
func (t *Table) ListIndexes(ctx context.Context) ([]IndexDescriptor, error) {
	var ds []domidx.Descriptor
	err := t.core.do(ctx, "list_indexes", "", func(ctx context.Context) error {
		var err error
		ds, err = t.core.indexes.List(ctx, t.name)
		return t.wrap(err)
	})
	return ds, err
}

// wrap attaches the table name to err.
func (t *Table) wrap(err error) error {
	if err == nil {
		return nil
	}
	return &domain.QueryError{Table: t.name, Err: err}
}
