package cloud

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// FilterNode is the JSON form of a filter expression.
type FilterNode struct {
	Op     string        `json:"op"`
	Column string        `json:"column,omitempty"`
	Value  any           `json:"value,omitempty"`
	Values []any         `json:"values,omitempty"`
	Negate bool          `json:"negate,omitempty"`
	Terms  []*FilterNode `json:"terms,omitempty"`
	Term   *FilterNode   `json:"term,omitempty"`
}

// Filter node ops besides the comparison operators.
const (
	NodeAnd    = "and"
	NodeOr     = "or"
	NodeNot    = "not"
	NodeIn     = "in"
	NodeIsNull = "is_null"
)

// EncodeFilter converts e to its JSON form. Nil stays nil.
func EncodeFilter(e filter.Expr) *FilterNode {
	switch v := e.(type) {
	case nil:
		return nil
	case filter.Comparison:
		return &FilterNode{Op: string(v.Op), Column: v.Column, Value: v.Value.Value()}
	case filter.Membership:
		vals := make([]any, len(v.Values))
		for i, l := range v.Values {
			vals[i] = l.Value()
		}
		return &FilterNode{Op: NodeIn, Column: v.Column, Values: vals, Negate: v.Negate}
	case filter.NullCheck:
		return &FilterNode{Op: NodeIsNull, Column: v.Column, Negate: v.Negate}
	case filter.Conjunction:
		return &FilterNode{Op: NodeAnd, Terms: encodeTerms(v.Terms)}
	case filter.Disjunction:
		return &FilterNode{Op: NodeOr, Terms: encodeTerms(v.Terms)}
	case filter.Negation:
		return &FilterNode{Op: NodeNot, Term: EncodeFilter(v.Term)}
	}
	return nil
}

func encodeTerms(terms []filter.Expr) []*FilterNode {
	out := make([]*FilterNode, len(terms))
	for i, t := range terms {
		out[i] = EncodeFilter(t)
	}
	return out
}

// DecodeFilter rebuilds an expression. JSON numbers without a fraction
// become integer literals.
func DecodeFilter(n *FilterNode) (filter.Expr, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Op {
	case NodeAnd, NodeOr:
		terms := make([]filter.Expr, len(n.Terms))
		for i, t := range n.Terms {
			e, err := DecodeFilter(t)
			if err != nil {
				return nil, err
			}
			terms[i] = e
		}
		if n.Op == NodeAnd {
			return filter.And(terms...), nil
		}
		return filter.Or(terms...), nil
	case NodeNot:
		e, err := DecodeFilter(n.Term)
		if err != nil {
			return nil, err
		}
		return filter.Negation{Term: e}, nil
	case NodeIn:
		vals := make([]any, len(n.Values))
		for i, v := range n.Values {
			vals[i] = literalValue(v)
		}
		if n.Negate {
			return filter.NotIn(n.Column, vals...), nil
		}
		return filter.In(n.Column, vals...), nil
	case NodeIsNull:
		if n.Negate {
			return filter.IsNotNull(n.Column), nil
		}
		return filter.IsNull(n.Column), nil
	}
	op := filter.Op(n.Op)
	if !op.IsValid() {
		return nil, fmt.Errorf("unknown filter op %q", n.Op)
	}
	lit := filter.Lit(literalValue(n.Value))
	if lit.Kind() == filter.LitInvalid {
		return nil, fmt.Errorf("unsupported literal %v for %q", n.Value, n.Column)
	}
	return filter.Comparison{Column: n.Column, Op: op, Value: lit}, nil
}

func literalValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

// ColumnDoc is the JSON form of a column.
type ColumnDoc struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Dim      int    `json:"dim,omitempty"`
	Element  string `json:"element,omitempty"`
	Nullable bool   `json:"nullable"`
}

// SchemaDoc is the JSON form of a schema.
type SchemaDoc struct {
	PrimaryKey string      `json:"primary_key,omitempty"`
	Columns    []ColumnDoc `json:"columns"`
}

// EncodeSchema converts s.
func EncodeSchema(s schema.Schema) SchemaDoc {
	doc := SchemaDoc{PrimaryKey: s.PrimaryKey()}
	for _, c := range s.Columns() {
		doc.Columns = append(doc.Columns, ColumnDoc{
			Name:     c.Name(),
			Type:     string(c.Type()),
			Dim:      c.Dim(),
			Element:  string(c.Element()),
			Nullable: c.Nullable(),
		})
	}
	return doc
}

// DecodeSchema validates and rebuilds a schema.
func DecodeSchema(doc SchemaDoc) (schema.Schema, error) {
	cols := make([]schema.Column, 0, len(doc.Columns))
	for _, cd := range doc.Columns {
		var (
			c   schema.Column
			err error
		)
		if schema.Type(cd.Type) == schema.Vector {
			c, err = schema.NewVectorColumn(cd.Name, cd.Dim, schema.Element(cd.Element))
		} else {
			c, err = schema.NewColumn(cd.Name, schema.Type(cd.Type))
		}
		if err != nil {
			return schema.Schema{}, err
		}
		cols = append(cols, c.WithNullable(cd.Nullable))
	}
	return schema.New(doc.PrimaryKey, cols...)
}

// CreateTableRequest is the body of POST /tables.
type CreateTableRequest struct {
	Name   string    `json:"name"`
	Schema SchemaDoc `json:"schema"`
}

// RenameTableRequest is the body of PATCH /tables/{table}.
type RenameTableRequest struct {
	Name string `json:"name"`
}

// TablesResponse is the body of GET /tables.
type TablesResponse struct {
	Tables []string `json:"tables"`
}

// TextDoc is the JSON form of db.TextSearch.
type TextDoc struct {
	Query    string   `json:"query,omitempty"`
	Match    string   `json:"match,omitempty"`
	Columns  []string `json:"columns,omitempty"`
	Must     []string `json:"must,omitempty"`
	Should   []string `json:"should,omitempty"`
	MustNot  []string `json:"must_not,omitempty"`
	Language string   `json:"language,omitempty"`
}

// QueryRequest is the body of POST /tables/{table}/query.
type QueryRequest struct {
	Kind         string      `json:"kind"`
	Filter       *FilterNode `json:"filter,omitempty"`
	Columns      []string    `json:"columns,omitempty"`
	Limit        int         `json:"limit,omitempty"`
	Offset       int         `json:"offset,omitempty"`
	VectorColumn string      `json:"vector_column,omitempty"`
	Vector       []float32   `json:"vector,omitempty"`
	Metric       string      `json:"metric,omitempty"`
	Probes       int         `json:"nprobes,omitempty"`
	RefineFactor int         `json:"refine_factor,omitempty"`
	Text         *TextDoc    `json:"text,omitempty"`
}

// QueryResponse is the result of a query.
type QueryResponse struct {
	Rows  []map[string]any `json:"rows"`
	Total int64            `json:"total,omitempty"`
}

// EncodeQuery converts q.
func EncodeQuery(q *db.Query) QueryRequest {
	req := QueryRequest{
		Kind:         string(q.Kind),
		Filter:       EncodeFilter(q.Filter),
		Columns:      q.Columns,
		Limit:        q.Limit,
		Offset:       q.Offset,
		VectorColumn: q.VectorColumn,
		Vector:       q.Vector,
		Metric:       string(q.Metric),
		Probes:       q.Probes,
		RefineFactor: q.RefineFactor,
	}
	if t := q.Text; t != nil {
		req.Text = &TextDoc{
			Query: t.Query, Match: string(t.Match), Columns: t.Columns,
			Must: t.Must, Should: t.Should, MustNot: t.MustNot, Language: t.Language,
		}
	}
	return req
}

// DecodeQuery rebuilds a query for table.
func DecodeQuery(table string, req QueryRequest) (*db.Query, error) {
	if req.Limit < 0 {
		return nil, domain.NewValidation("limit", "must not be negative, got %d", req.Limit)
	}
	if req.Offset < 0 {
		return nil, domain.NewValidation("offset", "must not be negative, got %d", req.Offset)
	}
	f, err := DecodeFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	q := &db.Query{
		Table:        table,
		Kind:         db.QueryKind(req.Kind),
		Filter:       f,
		Columns:      req.Columns,
		Limit:        req.Limit,
		Offset:       req.Offset,
		VectorColumn: req.VectorColumn,
		Vector:       req.Vector,
		Metric:       vector.Metric(req.Metric),
		Probes:       req.Probes,
		RefineFactor: req.RefineFactor,
	}
	if t := req.Text; t != nil {
		q.Text = &db.TextSearch{
			Query: t.Query, Match: db.TextMatch(t.Match), Columns: t.Columns,
			Must: t.Must, Should: t.Should, MustNot: t.MustNot, Language: t.Language,
		}
	}
	return q, nil
}

// MutationRequest is the body of POST /tables/{table}/data.
type MutationRequest struct {
	Kind   string           `json:"kind"`
	Rows   []map[string]any `json:"rows,omitempty"`
	Filter *FilterNode      `json:"filter,omitempty"`
	Values map[string]any   `json:"values,omitempty"`
}

// MutationResponse reports affected rows.
type MutationResponse struct {
	Affected int64 `json:"affected"`
}

// EncodeMutation converts m.
func EncodeMutation(m *db.Mutation) MutationRequest {
	rows := make([]map[string]any, len(m.Rows))
	for i, r := range m.Rows {
		rows[i] = r
	}
	return MutationRequest{Kind: string(m.Kind), Rows: rows, Filter: EncodeFilter(m.Filter), Values: m.Values}
}

// DecodeMutation rebuilds a mutation for table.
func DecodeMutation(table string, req MutationRequest) (*db.Mutation, error) {
	f, err := DecodeFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	rows := make([]db.Row, len(req.Rows))
	for i, r := range req.Rows {
		rows[i] = r
	}
	return &db.Mutation{Table: table, Kind: db.MutationKind(req.Kind), Rows: rows, Filter: f, Values: req.Values}, nil
}

// IndexParamsDoc is the JSON form of index.Params.
type IndexParamsDoc struct {
	Algorithm   string `json:"algorithm,omitempty"`
	Metric      string `json:"metric,omitempty"`
	Partitions  int    `json:"partitions,omitempty"`
	M           int    `json:"m,omitempty"`
	EFConstruct int    `json:"ef_construction,omitempty"`
	Tokenizer   string `json:"tokenizer,omitempty"`
	Language    string `json:"language,omitempty"`
	LowerCase   bool   `json:"lower_case,omitempty"`
	Stem        bool   `json:"stem,omitempty"`
}

// IndexDoc is the JSON form of an index spec or state.
type IndexDoc struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Column string         `json:"column"`
	Params IndexParamsDoc `json:"params"`
	Ready  bool           `json:"ready"`
}

// IndexesResponse is the body of GET /tables/{table}/indexes.
type IndexesResponse struct {
	Indexes []IndexDoc `json:"indexes"`
}

func encodeParams(p index.Params) IndexParamsDoc {
	return IndexParamsDoc{
		Algorithm: string(p.Algorithm), Metric: string(p.Metric), Partitions: p.Partitions,
		M: p.M, EFConstruct: p.EFConstruct, Tokenizer: p.Tokenizer, Language: p.Language,
		LowerCase: p.LowerCase, Stem: p.Stem,
	}
}

func decodeParams(d IndexParamsDoc) index.Params {
	return index.Params{
		Algorithm: index.Algorithm(d.Algorithm), Metric: vector.Metric(d.Metric), Partitions: d.Partitions,
		M: d.M, EFConstruct: d.EFConstruct, Tokenizer: d.Tokenizer, Language: d.Language,
		LowerCase: d.LowerCase, Stem: d.Stem,
	}
}

// EncodeIndexSpec converts spec.
func EncodeIndexSpec(spec db.IndexSpec) IndexDoc {
	return IndexDoc{Name: spec.Name, Kind: string(spec.Kind), Column: spec.Column, Params: encodeParams(spec.Params)}
}

// DecodeIndexSpec rebuilds a spec.
func DecodeIndexSpec(d IndexDoc) db.IndexSpec {
	return db.IndexSpec{Name: d.Name, Kind: index.Kind(d.Kind), Column: d.Column, Params: decodeParams(d.Params)}
}

// EncodeIndexState converts st.
func EncodeIndexState(st db.IndexState) IndexDoc {
	return IndexDoc{Name: st.Name, Kind: string(st.Kind), Column: st.Column, Params: encodeParams(st.Params), Ready: st.Ready}
}

// DecodeIndexState rebuilds a state.
func DecodeIndexState(d IndexDoc) db.IndexState {
	return db.IndexState{Name: d.Name, Kind: index.Kind(d.Kind), Column: d.Column, Params: decodeParams(d.Params), Ready: d.Ready}
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeNotFound     = "not_found"
	CodeValidation   = "validation_failed"
	CodeConflict     = "conflict"
	CodeRejected     = "rejected"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
)
