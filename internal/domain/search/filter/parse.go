package filter

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/holodex/internal/domain"
)

var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true,
	"NULL": true, "TRUE": true, "FALSE": true,
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse turns a SQL-like predicate into an expression tree.
//
//	price >= 10 AND (category = 'books' OR category IN ('music', 'film'))
//	NOT (archived = TRUE) AND deleted_at IS NULL
//
// An empty string yields a nil Expr.
func Parse(s string) (Expr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	if Size(e) > MaxNodes {
		return nil, domain.NewValidation("filter", "expression too large (max %d nodes)", MaxNodes)
	}
	return e, nil
}

// MustParse is Parse that panics; for constant predicates in tests and examples.
func MustParse(s string) Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '\'':
			str, n, err := lexQuoted(s[i:], '\'')
			if err != nil {
				return nil, domain.NewValidation("filter", "at %d: %v", i, err)
			}
			toks = append(toks, token{tokString, str, i})
			i += n
		case c == '"':
			str, n, err := lexQuoted(s[i:], '"')
			if err != nil {
				return nil, domain.NewValidation("filter", "at %d: %v", i, err)
			}
			toks = append(toks, token{tokIdent, str, i})
			i += n
		case c == '=' || c == '!' || c == '<' || c == '>':
			start := i
			two := ""
			if i+1 < len(s) {
				two = s[i : i+2]
			}
			var op string
			switch two {
			case "==":
				op = "="
			case "!=", "<>":
				op = "!="
			case "<=", ">=":
				op = two
			}
			if op != "" {
				i += 2
			} else {
				if c == '!' {
					return nil, domain.NewValidation("filter", "at %d: unexpected '!'", i)
				}
				op = string(c)
				i++
			}
			toks = append(toks, token{tokOp, op, start})
		case c == '-' || c == '.' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == 'e' || s[i] == 'E' ||
				((s[i] == '-' || s[i] == '+') && (s[i-1] == 'e' || s[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{tokNumber, s[start:i], start})
		case isIdentStart(s[i:]):
			start := i
			for i < len(s) {
				r, n := utf8.DecodeRuneInString(s[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += n
			}
			word := s[start:i]
			if keywords[strings.ToUpper(word)] {
				toks = append(toks, token{tokKeyword, strings.ToUpper(word), start})
			} else {
				toks = append(toks, token{tokIdent, word, start})
			}
		default:
			r, _ := utf8.DecodeRuneInString(s[i:])
			return nil, domain.NewValidation("filter", "at %d: unexpected character %q", i, r)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(s)}), nil
}

func isIdentStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

// lexQuoted reads a quoted run starting at s[0]; a doubled quote escapes itself.
func lexQuoted(s string, q byte) (string, int, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				b.WriteByte(q)
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(s[i])
		i++
	}
	return "", 0, errUnterminated
}

var errUnterminated = domain.NewValidation("filter", "unterminated quoted string")

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptKeyword(kw string) bool {
	if t := p.peek(); t.kind == tokKeyword && t.text == kw {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(t token, format string, args ...any) error {
	args = append([]any{t.pos}, args...)
	return domain.NewValidation("filter", "at %d: "+format, args...)
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return Or(terms...), nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.acceptKeyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return And(terms...), nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.acceptKeyword("NOT") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Negation{Term: e}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, p.errorf(r, "expected ')'")
		}
		return e, nil
	case tokIdent:
		return p.parsePredicate(t.text)
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	default:
		return nil, p.errorf(t, "expected column name, got %q", t.text)
	}
}

func (p *parser) parsePredicate(column string) (Expr, error) {
	t := p.next()
	switch {
	case t.kind == tokOp:
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return Comparison{Column: column, Op: Op(t.text), Value: lit}, nil
	case t.kind == tokKeyword && t.text == "IS":
		negate := p.acceptKeyword("NOT")
		if !p.acceptKeyword("NULL") {
			return nil, p.errorf(p.peek(), "expected NULL")
		}
		return NullCheck{Column: column, Negate: negate}, nil
	case t.kind == tokKeyword && t.text == "NOT":
		if !p.acceptKeyword("IN") {
			return nil, p.errorf(p.peek(), "expected IN after NOT")
		}
		vals, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return Membership{Column: column, Values: vals, Negate: true}, nil
	case t.kind == tokKeyword && t.text == "IN":
		vals, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return Membership{Column: column, Values: vals}, nil
	default:
		return nil, p.errorf(t, "expected operator after %q", column)
	}
}

func (p *parser) parseList() ([]Literal, error) {
	if t := p.next(); t.kind != tokLParen {
		return nil, p.errorf(t, "expected '('")
	}
	var out []Literal
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		t := p.next()
		if t.kind == tokRParen {
			return out, nil
		}
		if t.kind != tokComma {
			return nil, p.errorf(t, "expected ',' or ')'")
		}
	}
}

func (p *parser) parseLiteral() (Literal, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return Literal{kind: LitString, s: t.text}, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return Literal{kind: LitInt, i: i}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Literal{}, p.errorf(t, "invalid number %q", t.text)
		}
		return floatLit(f), nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			return Literal{kind: LitBool, b: true}, nil
		case "FALSE":
			return Literal{kind: LitBool, b: false}, nil
		case "NULL":
			return Literal{}, p.errorf(t, "compare with NULL using IS NULL")
		}
	}
	return Literal{}, p.errorf(t, "expected literal, got %q", t.text)
}
