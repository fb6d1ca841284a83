package db

import (
	"context"

	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Transport is the backend facade a Connection owns for its lifetime.
//
//nolint:interfacebloat // facade; consumers use the narrow sub-interfaces
type Transport interface {
	Pinger
	Querier
	Mutator
	SchemaManager
	IndexManager
	Capabilities() Capabilities
	Close() error
}

// Capabilities describe how a transport serves concurrent work.
type Capabilities struct {
	// Pipelining is true when concurrent queries are real parallel round trips.
	Pipelining bool
	Name       string
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Querier runs read queries.
type Querier interface {
	RunQuery(ctx context.Context, q *Query) (*RowSet, error)
}

// Mutator applies row mutations.
type Mutator interface {
	RunMutation(ctx context.Context, m *Mutation) (int64, error)
}

// SchemaManager manages tables.
type SchemaManager interface {
	CreateTable(ctx context.Context, name string, s schema.Schema) error
	DropTable(ctx context.Context, name string) error
	// RenameTable renames from to to. Indexes follow the table.
	RenameTable(ctx context.Context, from, to string) error
	ListTables(ctx context.Context) ([]string, error)
	FetchSchema(ctx context.Context, table string) (schema.Schema, error)
}

// IndexManager manages secondary indexes.
type IndexManager interface {
	CreateIndex(ctx context.Context, table string, spec IndexSpec) error
	DropIndex(ctx context.Context, table, name string) error
	DescribeIndex(ctx context.Context, table, name string) (IndexState, error)
	ListIndexes(ctx context.Context, table string) ([]IndexState, error)
}

// Row is one backend row keyed by column name. Transports add RowIDColumn
// and, for ranked queries, DistanceColumn or ScoreColumn.
type Row map[string]any

// Columns the transports add to rows.
const (
	RowIDColumn    = "_rowid"
	DistanceColumn = "_distance"
	ScoreColumn    = "_score"
)

// QueryKind selects the shape of a read query.
type QueryKind string

// Query kinds.
const (
	// QueryScan returns filtered rows ordered by row id.
	QueryScan QueryKind = "scan"
	// QueryKNN returns the nearest rows to Vector through the vector index.
	QueryKNN QueryKind = "knn"
	// QueryText returns full-text matches ordered by relevance.
	QueryText QueryKind = "text"
	// QueryCount returns only RowSet.Total.
	QueryCount QueryKind = "count"
)

// TextMatch selects full-text match semantics.
type TextMatch string

// Text match semantics.
const (
	MatchPlain   TextMatch = "plain"
	MatchPhrase  TextMatch = "phrase"
	MatchBoolean TextMatch = "boolean"
)

// TextSearch is the full-text part of a QueryText.
type TextSearch struct {
	Query    string
	Match    TextMatch
	Columns  []string
	Must     []string
	Should   []string
	MustNot  []string
	Language string
}

// Query is a backend-agnostic read. Transports lower it to their dialect.
type Query struct {
	Table  string
	Kind   QueryKind
	Filter filter.Expr
	// Columns is the projection; nil selects all.
	Columns []string
	// Limit 0 means unlimited.
	Limit  int
	Offset int

	VectorColumn string
	Vector       []float32
	Metric       vector.Metric
	Probes       int
	RefineFactor int

	Text *TextSearch
}

// RowSet is the result of a query.
type RowSet struct {
	Rows []Row
	// Total is set for QueryCount.
	Total int64
}

// MutationKind selects a row mutation.
type MutationKind string

// Mutation kinds.
const (
	MutationInsert    MutationKind = "insert"
	MutationOverwrite MutationKind = "overwrite"
	MutationUpdate    MutationKind = "update"
	MutationDelete    MutationKind = "delete"
)

// Mutation is a backend-agnostic write.
type Mutation struct {
	Table string
	Kind  MutationKind
	// Rows for insert and overwrite.
	Rows []Row
	// Filter selects rows for update and delete. Nil selects all.
	Filter filter.Expr
	// Values are assigned by update.
	Values map[string]any
}

// IndexSpec describes an index to build.
type IndexSpec struct {
	Name   string
	Kind   index.Kind
	Column string
	Params index.Params
}

// IndexState is the backend view of an index.
type IndexState struct {
	Name   string
	Kind   index.Kind
	Column string
	Params index.Params
	Ready  bool
}
