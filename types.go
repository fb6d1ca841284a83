package holodex

import (
	"github.com/kailas-cloud/holodex/internal/domain"
	domidx "github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
	"github.com/kailas-cloud/holodex/internal/domain/search/plan"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
	tablesvc "github.com/kailas-cloud/holodex/internal/usecase/table"
)

// Row is one input row keyed by column name.
type Row = map[string]any

// Schema types.
type (
	Schema     = schema.Schema
	Column     = schema.Column
	ColumnType = schema.Type
	Element    = schema.Element
)

// Column types.
const (
	Int64     = schema.Int64
	Float64   = schema.Float64
	String    = schema.String
	Text      = schema.Text
	Bool      = schema.Bool
	Timestamp = schema.Timestamp
	JSON      = schema.JSON
	Vector    = schema.Vector
)

// Vector element types.
const (
	Float32Element = schema.Float32Element
	Float64Element = schema.Float64Element
)

// NewSchema builds a schema. primaryKey may be empty.
func NewSchema(primaryKey string, columns ...Column) (Schema, error) {
	return schema.New(primaryKey, columns...)
}

// NewColumn builds a scalar column.
func NewColumn(name string, t ColumnType) (Column, error) {
	return schema.NewColumn(name, t)
}

// NewVectorColumn builds the vector column.
func NewVectorColumn(name string, dim int, elem Element) (Column, error) {
	return schema.NewVectorColumn(name, dim, elem)
}

// Query types.
type (
	Plan        = plan.Plan
	Mode        = mode.Mode
	Metric      = vector.Metric
	IndexPolicy = plan.IndexPolicy
	Expr        = filter.Expr
)

// Query modes.
const (
	ModeVector = mode.VectorOnly
	ModeText   = mode.TextOnly
	ModeHybrid = mode.Hybrid
	ModeScan   = mode.Scan
)

// Distance metrics.
const (
	Cosine = vector.Cosine
	L2     = vector.L2
	Dot    = vector.Dot
)

// ParseMode accepts mode names and their aliases.
func ParseMode(s string) (Mode, error) { return mode.Parse(s) }

// ParseMetric accepts metric names and their aliases.
func ParseMetric(s string) (Metric, error) { return vector.ParseMetric(s) }

// ParseFilter parses a SQL-like predicate such as "price < 10 AND tag IN ('a', 'b')".
func ParseFilter(s string) (Expr, error) { return filter.Parse(s) }

// Filter constructors.
var (
	Eq        = filter.Eq
	Ne        = filter.Ne
	Lt        = filter.Lt
	Le        = filter.Le
	Gt        = filter.Gt
	Ge        = filter.Ge
	In        = filter.In
	NotIn     = filter.NotIn
	IsNull    = filter.IsNull
	IsNotNull = filter.IsNotNull
	And       = filter.And
	Or        = filter.Or
	Not       = filter.Not
)

// Result types.
type (
	Result    = result.Result
	ResultRow = result.Row
	RowID     = result.RowID
)

// Degraded-performance reasons reported in Result.DegradedReason.
const (
	ReasonNoVectorIndex  = result.ReasonNoVectorIndex
	ReasonIndexStale     = result.ReasonIndexStale
	ReasonIndexBuilding  = result.ReasonIndexBuilding
	ReasonMetricMismatch = result.ReasonMetricMismatch
	ReasonIndexBypassed  = result.ReasonIndexBypassed
	ReasonNoTextIndex    = result.ReasonNoTextIndex
)

// Index types. Descriptors are snapshots; they are not safe to share
// for mutation across goroutines.
type (
	IndexKind       = domidx.Kind
	IndexStatus     = domidx.Status
	IndexAlgorithm  = domidx.Algorithm
	IndexParams     = domidx.Params
	IndexDescriptor = domidx.Descriptor
)

// Index kinds.
const (
	VectorIndex   = domidx.KindVector
	FullTextIndex = domidx.KindFullText
)

// Index build statuses.
const (
	IndexBuilding = domidx.Building
	IndexReady    = domidx.Ready
	IndexStale    = domidx.Stale
)

// Vector index algorithms.
const (
	IVFFlat = domidx.IVFFlat
	HNSW    = domidx.HNSW
	Flat    = domidx.Flat
)

// Embedding types.
type (
	Embedder             = domain.Embedder
	BatchEmbedder        = domain.BatchEmbedder
	ValueEmbedder        = domain.ValueEmbedder
	EmbeddingResult      = domain.EmbeddingResult
	BatchEmbeddingResult = domain.BatchEmbeddingResult
)

// BadVectors selects how Add treats rows with an invalid vector.
type BadVectors = tablesvc.BadVectors

// Bad-vector policies.
const (
	BadVectorsError = tablesvc.BadVectorsError
	BadVectorsDrop  = tablesvc.BadVectorsDrop
	BadVectorsFill  = tablesvc.BadVectorsFill
)
