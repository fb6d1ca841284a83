package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// VectorStyle selects how vectors are stored and compared.
type VectorStyle string

// Vector styles.
const (
	// StylePgvector stores vector(n) columns and uses the <=>, <-> and <#> operators.
	StylePgvector VectorStyle = "pgvector"
	// StyleFunction stores real[] columns and calls distance functions.
	StyleFunction VectorStyle = "function"
)

// DefaultDistanceFunctions are used by StyleFunction.
var DefaultDistanceFunctions = map[vector.Metric]string{
	vector.Cosine: "cosine_distance",
	vector.L2:     "array_distance",
	vector.Dot:    "negative_inner_product",
}

// vectorComment marks real[] vector columns with their shape.
const vectorCommentPrefix = "holodex:vector"

// hiddenRowID is the identity column CreateTable adds to tables without a
// primary key. It is not part of the reported schema.
const hiddenRowID = "_holodex_rowid"

// ctidOrdinal encodes ctid as block<<16 | offset, which orders like ctid.
const ctidOrdinal = "(((ctid::text::point)[0]::bigint << 16) | (ctid::text::point)[1]::bigint)"

// lowering turns db queries into parameterized SQL for one table schema.
type lowering struct {
	style     VectorStyle
	functions map[vector.Metric]string
	language  string
	schema    schema.Schema
	// rowIDCol is the hidden identity column, empty when the table has none.
	rowIDCol string
	args     []any
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func (l *lowering) arg(v any) string {
	l.args = append(l.args, v)
	return "$" + strconv.Itoa(len(l.args))
}

// rowID is the row identifier expression: the primary key, the hidden
// identity column, or the numeric ctid of tables created elsewhere.
func (l *lowering) rowID() string {
	if pk := l.schema.PrimaryKey(); pk != "" {
		return ident(pk)
	}
	if l.rowIDCol != "" {
		return ident(l.rowIDCol)
	}
	return ctidOrdinal
}

func (l *lowering) selectList(cols []string) string {
	if cols == nil {
		cols = l.schema.Names()
	}
	parts := make([]string, 0, len(cols)+1)
	for _, name := range cols {
		col, _ := l.schema.Column(name)
		if col.IsVector() && l.style == StylePgvector {
			parts = append(parts, ident(name)+"::real[] AS "+ident(name))
			continue
		}
		parts = append(parts, ident(name))
	}
	parts = append(parts, l.rowID()+" AS "+db.RowIDColumn)
	return strings.Join(parts, ", ")
}

func (l *lowering) where(f filter.Expr, extra ...string) (string, error) {
	conds := extra
	if f != nil {
		c, err := l.expr(f)
		if err != nil {
			return "", err
		}
		conds = append(conds, c)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func (l *lowering) expr(e filter.Expr) (string, error) {
	switch v := e.(type) {
	case filter.Comparison:
		if !v.Op.IsValid() {
			return "", fmt.Errorf("unknown operator %q", v.Op)
		}
		val, err := l.literal(v.Column, v.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", ident(v.Column), v.Op, l.arg(val)), nil
	case filter.Membership:
		refs := make([]string, len(v.Values))
		for i, lit := range v.Values {
			val, err := l.literal(v.Column, lit)
			if err != nil {
				return "", err
			}
			refs[i] = l.arg(val)
		}
		op := "IN"
		if v.Negate {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", ident(v.Column), op, strings.Join(refs, ", ")), nil
	case filter.NullCheck:
		if v.Negate {
			return ident(v.Column) + " IS NOT NULL", nil
		}
		return ident(v.Column) + " IS NULL", nil
	case filter.Conjunction:
		return l.join(v.Terms, " AND ")
	case filter.Disjunction:
		return l.join(v.Terms, " OR ")
	case filter.Negation:
		inner, err := l.expr(v.Term)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported filter node %T", e)
	}
}

func (l *lowering) join(terms []filter.Expr, sep string) (string, error) {
	parts := make([]string, len(terms))
	for i, t := range terms {
		s, err := l.expr(t)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// literal converts a filter literal to the column's Go type so the
// parameter encodes to the server-inferred type.
func (l *lowering) literal(column string, lit filter.Literal) (any, error) {
	col, ok := l.schema.Column(column)
	if !ok {
		return lit.Value(), nil
	}
	if col.Type() == schema.Float64 && lit.Kind() == filter.LitInt {
		return lit.Float(), nil
	}
	if col.Type() == schema.Timestamp && lit.Kind() == filter.LitString {
		return filter.ParseTime(lit.Value().(string))
	}
	return lit.Value(), nil
}

// vectorArg adds v as a parameter in the storage format of the style.
func (l *lowering) vectorArg(v []float32) string {
	if l.style == StylePgvector {
		return l.arg(formatVector(v)) + "::vector"
	}
	return l.arg(v) + "::real[]"
}

func (l *lowering) distance(m vector.Metric, column string, v []float32) (string, error) {
	ref := l.vectorArg(v)
	if l.style == StylePgvector {
		switch m {
		case vector.Cosine:
			return fmt.Sprintf("(%s <=> %s)", ident(column), ref), nil
		case vector.L2:
			return fmt.Sprintf("(%s <-> %s)", ident(column), ref), nil
		case vector.Dot:
			return fmt.Sprintf("(%s <#> %s)", ident(column), ref), nil
		}
		return "", fmt.Errorf("unsupported metric %q", m)
	}
	fn, ok := l.functions[m]
	if !ok {
		return "", fmt.Errorf("no distance function for metric %q", m)
	}
	return fmt.Sprintf("%s(%s, %s)", fn, ident(column), ref), nil
}

func pageClause(limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	}
	if offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(offset))
	}
	return sb.String()
}

func (l *lowering) scan(q *db.Query) (string, error) {
	w, err := l.where(q.Filter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s%s",
		l.selectList(q.Columns), ident(q.Table), w, l.rowID(), pageClause(q.Limit, q.Offset)), nil
}

func (l *lowering) count(q *db.Query) (string, error) {
	w, err := l.where(q.Filter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT count(*) FROM %s%s", ident(q.Table), w), nil
}

func (l *lowering) knn(q *db.Query) (string, error) {
	col := q.VectorColumn
	if col == "" {
		vc, ok := l.schema.VectorColumn()
		if !ok {
			return "", fmt.Errorf("table has no vector column")
		}
		col = vc.Name()
	}
	metric := q.Metric
	if metric == "" {
		metric = vector.Cosine
	}
	// Distance comes first so its parameter is $1 for every filter shape.
	dist, err := l.distance(metric, col, q.Vector)
	if err != nil {
		return "", err
	}
	w, err := l.where(q.Filter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s, %s AS %s FROM %s%s ORDER BY %s, %s%s",
		l.selectList(q.Columns), dist, db.DistanceColumn, ident(q.Table), w,
		db.DistanceColumn, l.rowID(), pageClause(q.Limit, q.Offset)), nil
}

// document is the tsvector expression over cols. Single columns match the
// expression of the GIN index built by CreateIndex.
func (l *lowering) document(lang string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("coalesce(%s, '')", ident(c))
	}
	return fmt.Sprintf("to_tsvector('%s'::regconfig, %s)", lang, strings.Join(parts, " || ' ' || "))
}

func (l *lowering) tsquery(lang, fn, text string) string {
	return fmt.Sprintf("%s('%s'::regconfig, %s)", fn, lang, l.arg(text))
}

// textQueries returns the match and rank tsquery expressions.
func (l *lowering) textQueries(lang string, ts *db.TextSearch) (match, rank string, err error) {
	switch ts.Match {
	case db.MatchPhrase:
		q := l.tsquery(lang, "phraseto_tsquery", ts.Query)
		return q, q, nil
	case db.MatchBoolean:
		var must, should, not []string
		for _, t := range ts.Must {
			must = append(must, l.tsquery(lang, "plainto_tsquery", t))
		}
		for _, t := range ts.Should {
			should = append(should, l.tsquery(lang, "plainto_tsquery", t))
		}
		for _, t := range ts.MustNot {
			not = append(not, "!!"+l.tsquery(lang, "plainto_tsquery", t))
		}
		if len(must) == 0 && len(should) == 0 {
			return "", "", fmt.Errorf("boolean query needs a must or should term")
		}
		var terms []string
		if len(must) > 0 {
			terms = append(terms, must...)
		} else {
			terms = append(terms, "("+strings.Join(should, " || ")+")")
		}
		terms = append(terms, not...)
		match = "(" + strings.Join(terms, " && ") + ")"
		rank = "(" + strings.Join(append(append([]string(nil), must...), should...), " || ") + ")"
		return match, rank, nil
	default:
		q := l.tsquery(lang, "plainto_tsquery", ts.Query)
		return q, q, nil
	}
}

func (l *lowering) text(q *db.Query) (string, error) {
	ts := q.Text
	if ts == nil {
		return "", fmt.Errorf("text query without text search")
	}
	cols := ts.Columns
	if len(cols) == 0 {
		cols = l.schema.TextColumns()
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table has no text columns")
	}
	lang := ts.Language
	if lang == "" {
		lang = l.language
	}
	if err := (index.Params{Tokenizer: index.DefaultTokenizer, Language: lang}).Validate(index.KindFullText); err != nil {
		return "", err
	}

	doc := l.document(lang, cols)
	match, rank, err := l.textQueries(lang, ts)
	if err != nil {
		return "", err
	}
	w, err := l.where(q.Filter, doc+" @@ "+match)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s, ts_rank(%s, %s) AS %s FROM %s%s ORDER BY %s DESC, %s%s",
		l.selectList(q.Columns), doc, rank, db.ScoreColumn, ident(q.Table), w,
		db.ScoreColumn, l.rowID(), pageClause(q.Limit, q.Offset)), nil
}

// value converts a coerced row value to its parameter form.
func (l *lowering) value(col schema.Column, v any) string {
	if f, ok := v.([]float32); ok && col.IsVector() {
		if l.style == StylePgvector {
			return l.arg(formatVector(f)) + "::vector"
		}
		if col.Element() == schema.Float64Element {
			return l.arg(toFloat64(f)) + "::float8[]"
		}
		return l.arg(f) + "::real[]"
	}
	return l.arg(v)
}

func (l *lowering) insert(table string, rows []db.Row) string {
	cols := l.schema.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ident(c.Name())
	}
	tuples := make([]string, len(rows))
	for i, r := range rows {
		refs := make([]string, len(cols))
		for j, c := range cols {
			refs[j] = l.value(c, r[c.Name()])
		}
		tuples[i] = "(" + strings.Join(refs, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		ident(table), strings.Join(names, ", "), strings.Join(tuples, ", "))
}

func (l *lowering) update(table string, f filter.Expr, values db.Row) (string, error) {
	sets := make([]string, 0, len(values))
	for _, c := range l.schema.Columns() {
		v, ok := values[c.Name()]
		if !ok {
			continue
		}
		sets = append(sets, ident(c.Name())+" = "+l.value(c, v))
	}
	if len(sets) == 0 {
		return "", fmt.Errorf("update without values")
	}
	w, err := l.where(f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %s SET %s%s", ident(table), strings.Join(sets, ", "), w), nil
}

func (l *lowering) delete(table string, f filter.Expr) (string, error) {
	w, err := l.where(f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE FROM %s%s", ident(table), w), nil
}

func columnType(style VectorStyle, c schema.Column) string {
	switch c.Type() {
	case schema.Int64:
		return "bigint"
	case schema.Float64:
		return "double precision"
	case schema.String:
		return "varchar"
	case schema.Text:
		return "text"
	case schema.Bool:
		return "boolean"
	case schema.Timestamp:
		return "timestamptz"
	case schema.JSON:
		return "jsonb"
	case schema.Vector:
		if style == StylePgvector {
			return fmt.Sprintf("vector(%d)", c.Dim())
		}
		if c.Element() == schema.Float64Element {
			return "float8[]"
		}
		return "real[]"
	}
	return "text"
}

// createTable returns the DDL statements for s. The vector column comment
// records dimension and element type for both styles.
func createTable(style VectorStyle, name string, s schema.Schema) []string {
	defs := make([]string, 0, s.Len()+1)
	var comments []string
	for _, c := range s.Columns() {
		def := ident(c.Name()) + " " + columnType(style, c)
		if !c.Nullable() {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.IsVector() {
			comments = append(comments, fmt.Sprintf("COMMENT ON COLUMN %s.%s IS '%s(%d,%s)'",
				ident(name), ident(c.Name()), vectorCommentPrefix, c.Dim(), c.Element()))
		}
	}
	if pk := s.PrimaryKey(); pk != "" {
		defs = append(defs, "PRIMARY KEY ("+ident(pk)+")")
	} else {
		defs = append(defs, ident(hiddenRowID)+" bigint GENERATED ALWAYS AS IDENTITY")
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", ident(name), strings.Join(defs, ", "))}
	return append(stmts, comments...)
}

var opClasses = map[vector.Metric]string{
	vector.Cosine: "vector_cosine_ops",
	vector.L2:     "vector_l2_ops",
	vector.Dot:    "vector_ip_ops",
}

func createIndex(style VectorStyle, table string, spec db.IndexSpec) (string, error) {
	p := spec.Params.WithDefaults(spec.Kind)
	switch spec.Kind {
	case index.KindVector:
		if style != StylePgvector {
			return "", fmt.Errorf("vector index DDL requires the pgvector style")
		}
		ops, ok := opClasses[p.Metric]
		if !ok {
			return "", fmt.Errorf("unsupported metric %q", p.Metric)
		}
		var with string
		switch p.Algorithm {
		case index.IVFFlat:
			with = fmt.Sprintf(" WITH (lists = %d)", p.Partitions)
		case index.HNSW:
			var opts []string
			if p.M > 0 {
				opts = append(opts, fmt.Sprintf("m = %d", p.M))
			}
			if p.EFConstruct > 0 {
				opts = append(opts, fmt.Sprintf("ef_construction = %d", p.EFConstruct))
			}
			if len(opts) > 0 {
				with = " WITH (" + strings.Join(opts, ", ") + ")"
			}
		default:
			return "", fmt.Errorf("algorithm %q has no postgres index", p.Algorithm)
		}
		return fmt.Sprintf("CREATE INDEX CONCURRENTLY %s ON %s USING %s (%s %s)%s",
			ident(spec.Name), ident(table), p.Algorithm, ident(spec.Column), ops, with), nil
	case index.KindFullText:
		if err := p.Validate(index.KindFullText); err != nil {
			return "", err
		}
		return fmt.Sprintf("CREATE INDEX CONCURRENTLY %s ON %s USING gin (to_tsvector('%s'::regconfig, coalesce(%s, '')))",
			ident(spec.Name), ident(table), p.Language, ident(spec.Column)), nil
	}
	return "", fmt.Errorf("unknown index kind %q", spec.Kind)
}

func formatVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
