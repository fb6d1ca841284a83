package filter

import (
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
)

// Validate checks e against a table schema: every column exists, is
// filterable, and every literal fits the column type.
func Validate(e Expr, s schema.Schema) error {
	if e == nil {
		return nil
	}
	if n := Size(e); n > MaxNodes {
		return domain.NewValidation("filter", "expression too large (%d nodes, max %d)", n, MaxNodes)
	}
	return validate(e, s)
}

func validate(e Expr, s schema.Schema) error {
	switch v := e.(type) {
	case Comparison:
		col, err := filterable(v.Column, s)
		if err != nil {
			return err
		}
		if !v.Op.IsValid() {
			return domain.NewValidation("filter", "unknown operator %q", v.Op)
		}
		return checkLiteral(col, v.Value)
	case Membership:
		col, err := filterable(v.Column, s)
		if err != nil {
			return err
		}
		if len(v.Values) == 0 {
			return domain.NewValidation("filter", "IN list for %q is empty", v.Column)
		}
		for _, l := range v.Values {
			if err := checkLiteral(col, l); err != nil {
				return err
			}
		}
		return nil
	case NullCheck:
		if !s.Has(v.Column) {
			return domain.NewValidation("filter", "unknown column %q", v.Column)
		}
		return nil
	case Conjunction:
		return validateTerms(v.Terms, s)
	case Disjunction:
		return validateTerms(v.Terms, s)
	case Negation:
		if v.Term == nil {
			return domain.NewValidation("filter", "NOT needs an operand")
		}
		return validate(v.Term, s)
	default:
		return domain.NewValidation("filter", "unsupported node %T", e)
	}
}

func validateTerms(terms []Expr, s schema.Schema) error {
	if len(terms) == 0 {
		return domain.NewValidation("filter", "empty boolean group")
	}
	for _, t := range terms {
		if t == nil {
			return domain.NewValidation("filter", "nil term in boolean group")
		}
		if err := validate(t, s); err != nil {
			return err
		}
	}
	return nil
}

func filterable(name string, s schema.Schema) (schema.Column, error) {
	col, ok := s.Column(name)
	if !ok {
		return schema.Column{}, domain.NewValidation("filter", "unknown column %q", name)
	}
	switch col.Type() {
	case schema.Vector, schema.JSON:
		return schema.Column{}, domain.NewValidation("filter", "cannot compare %s column %q", col.Type(), name)
	}
	return col, nil
}

func checkLiteral(col schema.Column, l Literal) error {
	if l.Kind() == LitInvalid {
		return domain.NewValidation("filter", "unsupported literal %s for %q", l, col.Name())
	}
	ok := false
	switch col.Type() {
	case schema.Int64, schema.Float64:
		ok = l.IsNumeric()
	case schema.String, schema.Text:
		ok = l.Kind() == LitString
	case schema.Bool:
		ok = l.Kind() == LitBool
	case schema.Timestamp:
		if l.Kind() == LitString {
			_, err := ParseTime(l.Value().(string))
			ok = err == nil
		}
	}
	if !ok {
		return domain.NewValidation("filter", "literal %s does not fit %s column %q", l, col.Type(), col.Name())
	}
	return nil
}
