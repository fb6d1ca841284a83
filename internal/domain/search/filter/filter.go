// Package filter is a small expression tree for row predicates. Transports
// lower it to their native syntax; values are never spliced into query text.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// MaxNodes bounds the size of an expression tree.
const MaxNodes = 256

// Expr is a node of a filter expression tree. A nil Expr matches every row.
type Expr interface {
	fmt.Stringer
	node()
}

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// IsValid checks the operator is supported.
func (o Op) IsValid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

// Comparison is `column op literal`.
type Comparison struct {
	Column string
	Op     Op
	Value  Literal
}

// Membership is `column [NOT] IN (literals)`.
type Membership struct {
	Column string
	Values []Literal
	Negate bool
}

// NullCheck is `column IS [NOT] NULL`.
type NullCheck struct {
	Column string
	Negate bool
}

// Conjunction is `t1 AND t2 AND ...`.
type Conjunction struct {
	Terms []Expr
}

// Disjunction is `t1 OR t2 OR ...`.
type Disjunction struct {
	Terms []Expr
}

// Negation is `NOT t`.
type Negation struct {
	Term Expr
}

func (Comparison) node()  {}
func (Membership) node()  {}
func (NullCheck) node()   {}
func (Conjunction) node() {}
func (Disjunction) node() {}
func (Negation) node()    {}

// Eq builds `column = v`.
func Eq(column string, v any) Expr { return Comparison{Column: column, Op: OpEq, Value: Lit(v)} }

// Ne builds `column != v`.
func Ne(column string, v any) Expr { return Comparison{Column: column, Op: OpNe, Value: Lit(v)} }

// Lt builds `column < v`.
func Lt(column string, v any) Expr { return Comparison{Column: column, Op: OpLt, Value: Lit(v)} }

// Le builds `column <= v`.
func Le(column string, v any) Expr { return Comparison{Column: column, Op: OpLe, Value: Lit(v)} }

// Gt builds `column > v`.
func Gt(column string, v any) Expr { return Comparison{Column: column, Op: OpGt, Value: Lit(v)} }

// Ge builds `column >= v`.
func Ge(column string, v any) Expr { return Comparison{Column: column, Op: OpGe, Value: Lit(v)} }

// In builds `column IN (vs...)`.
func In(column string, vs ...any) Expr {
	return Membership{Column: column, Values: lits(vs)}
}

// NotIn builds `column NOT IN (vs...)`.
func NotIn(column string, vs ...any) Expr {
	return Membership{Column: column, Values: lits(vs), Negate: true}
}

// IsNull builds `column IS NULL`.
func IsNull(column string) Expr { return NullCheck{Column: column} }

// IsNotNull builds `column IS NOT NULL`.
func IsNotNull(column string) Expr { return NullCheck{Column: column, Negate: true} }

// And combines terms, flattening nested conjunctions and dropping nils.
// Returns nil for no terms and the term itself for one.
func And(terms ...Expr) Expr {
	var flat []Expr
	for _, t := range terms {
		switch v := t.(type) {
		case nil:
		case Conjunction:
			flat = append(flat, v.Terms...)
		default:
			flat = append(flat, t)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return Conjunction{Terms: flat}
	}
}

// Or combines terms, flattening nested disjunctions and dropping nils.
func Or(terms ...Expr) Expr {
	var flat []Expr
	for _, t := range terms {
		switch v := t.(type) {
		case nil:
		case Disjunction:
			flat = append(flat, v.Terms...)
		default:
			flat = append(flat, t)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return Disjunction{Terms: flat}
	}
}

// Not negates e. Not(nil) is nil.
func Not(e Expr) Expr {
	if e == nil {
		return nil
	}
	if n, ok := e.(Negation); ok {
		return n.Term
	}
	return Negation{Term: e}
}

func lits(vs []any) []Literal {
	out := make([]Literal, len(vs))
	for i, v := range vs {
		out[i] = Lit(v)
	}
	return out
}

// Columns returns the sorted, de-duplicated column references of e.
func Columns(e Expr) []string {
	seen := map[string]struct{}{}
	walk(e, func(n Expr) {
		switch v := n.(type) {
		case Comparison:
			seen[v.Column] = struct{}{}
		case Membership:
			seen[v.Column] = struct{}{}
		case NullCheck:
			seen[v.Column] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Size counts the nodes of e.
func Size(e Expr) int {
	n := 0
	walk(e, func(Expr) { n++ })
	return n
}

func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch v := e.(type) {
	case Conjunction:
		for _, t := range v.Terms {
			walk(t, fn)
		}
	case Disjunction:
		for _, t := range v.Terms {
			walk(t, fn)
		}
	case Negation:
		walk(v.Term, fn)
	}
}

// --- rendering (diagnostics only, transports lower the tree themselves) ---

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", quoteIdent(c.Column), c.Op, c.Value)
}

func (m Membership) String() string {
	parts := make([]string, len(m.Values))
	for i, v := range m.Values {
		parts[i] = v.String()
	}
	kw := "IN"
	if m.Negate {
		kw = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", quoteIdent(m.Column), kw, strings.Join(parts, ", "))
}

func (n NullCheck) String() string {
	if n.Negate {
		return quoteIdent(n.Column) + " IS NOT NULL"
	}
	return quoteIdent(n.Column) + " IS NULL"
}

func (c Conjunction) String() string { return joinTerms(c.Terms, " AND ") }
func (d Disjunction) String() string { return joinTerms(d.Terms, " OR ") }
func (n Negation) String() string    { return "NOT (" + n.Term.String() + ")" }

func joinTerms(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		switch t.(type) {
		case Conjunction, Disjunction:
			parts[i] = "(" + t.String() + ")"
		default:
			parts[i] = t.String()
		}
	}
	return strings.Join(parts, sep)
}

func quoteIdent(s string) string {
	for i, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		if !isAlpha && (i == 0 || r < '0' || r > '9') {
			return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
	}
	if keywords[strings.ToUpper(s)] {
		return `"` + s + `"`
	}
	return s
}

// --- literals ---

// LitKind is the type of a literal.
type LitKind int

// Literal kinds.
const (
	LitInvalid LitKind = iota
	LitInt
	LitFloat
	LitString
	LitBool
)

// Literal is a normalized typed constant.
type Literal struct {
	kind LitKind
	i    int64
	f    float64
	s    string
	b    bool
	bad  string // Go type of an unsupported value
}

// Lit normalizes a Go value. Unsupported types yield an invalid literal,
// reported by Validate.
func Lit(v any) Literal {
	switch t := v.(type) {
	case Literal:
		return t
	case int:
		return Literal{kind: LitInt, i: int64(t)}
	case int8:
		return Literal{kind: LitInt, i: int64(t)}
	case int16:
		return Literal{kind: LitInt, i: int64(t)}
	case int32:
		return Literal{kind: LitInt, i: int64(t)}
	case int64:
		return Literal{kind: LitInt, i: t}
	case uint8:
		return Literal{kind: LitInt, i: int64(t)}
	case uint16:
		return Literal{kind: LitInt, i: int64(t)}
	case uint32:
		return Literal{kind: LitInt, i: int64(t)}
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Literal{bad: "uint overflow"}
		}
		return Literal{kind: LitInt, i: int64(t)}
	case uint64:
		if t > math.MaxInt64 {
			return Literal{bad: "uint64 overflow"}
		}
		return Literal{kind: LitInt, i: int64(t)}
	case float32:
		return floatLit(float64(t))
	case float64:
		return floatLit(t)
	case string:
		return Literal{kind: LitString, s: t}
	case bool:
		return Literal{kind: LitBool, b: t}
	default:
		return Literal{bad: fmt.Sprintf("%T", v)}
	}
}

func floatLit(f float64) Literal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Literal{bad: "non-finite float"}
	}
	return Literal{kind: LitFloat, f: f}
}

// Kind returns the literal kind.
func (l Literal) Kind() LitKind { return l.kind }

// IsNumeric reports an int or float literal.
func (l Literal) IsNumeric() bool { return l.kind == LitInt || l.kind == LitFloat }

// Value returns the Go value: int64, float64, string or bool.
func (l Literal) Value() any {
	switch l.kind {
	case LitInt:
		return l.i
	case LitFloat:
		return l.f
	case LitString:
		return l.s
	case LitBool:
		return l.b
	default:
		return nil
	}
}

// Float returns the numeric value as float64.
func (l Literal) Float() float64 {
	if l.kind == LitInt {
		return float64(l.i)
	}
	return l.f
}

func (l Literal) String() string {
	switch l.kind {
	case LitInt:
		return strconv.FormatInt(l.i, 10)
	case LitFloat:
		return strconv.FormatFloat(l.f, 'g', -1, 64)
	case LitString:
		return "'" + strings.ReplaceAll(l.s, "'", "''") + "'"
	case LitBool:
		if l.b {
			return "TRUE"
		}
		return "FALSE"
	default:
		return "<invalid " + l.bad + ">"
	}
}
