package filter

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
)

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	cols := []struct {
		name string
		typ  schema.Type
	}{
		{"id", schema.Int64},
		{"price", schema.Float64},
		{"category", schema.String},
		{"body", schema.Text},
		{"archived", schema.Bool},
		{"created_at", schema.Timestamp},
		{"meta", schema.JSON},
	}
	var out []schema.Column
	for _, c := range cols {
		col, err := schema.NewColumn(c.name, c.typ)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, col)
	}
	v, err := schema.NewVectorColumn("v", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	s, err := schema.New("id", append(out, v)...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParse_Precedence(t *testing.T) {
	got := MustParse("a = 1 OR b = 2 AND NOT c = 3")
	want := Or(
		Eq("a", 1),
		And(Eq("b", 2), Not(Eq("c", 3))),
	)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("precedence mismatch:\ngot:  %s\nwant: %s", got, want)
	}
}

func TestParse_Forms(t *testing.T) {
	tests := []struct {
		in   string
		want Expr
	}{
		{"price >= 10.5", Ge("price", 10.5)},
		{"id <> -3", Ne("id", -3)},
		{"id == 3", Eq("id", 3)},
		{"category IN ('a', 'b')", In("category", "a", "b")},
		{"category NOT IN ('x')", NotIn("category", "x")},
		{"created_at IS NULL", IsNull("created_at")},
		{"created_at is not null", IsNotNull("created_at")},
		{"archived = true", Eq("archived", true)},
		{`"Weird Col" = 'it''s'`, Eq("Weird Col", "it's")},
		{"(id = 1)", Eq("id", 1)},
		{"prix_é < 10", Lt("prix_é", 10)},
		{"명칭 = 'x' AND größe2 >= 1", And(Eq("명칭", "x"), Ge("größe2", 1))},
		{"", nil},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{
		"id =",
		"id = 1 AND",
		"(id = 1",
		"id = 'open",
		"id ! 3",
		"id = NULL",
		"= 3",
		"id IN ()",
		"id IS 3",
		"id = 1 id = 2",
		"id ; DROP TABLE t",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestString_RoundTrip(t *testing.T) {
	e := And(Or(Eq("category", "o'neil"), Lt("price", 3)), IsNotNull("body"), NotIn("id", 1, 2))
	back, err := Parse(e.String())
	if err != nil {
		t.Fatalf("reparse %q: %v", e.String(), err)
	}
	if !reflect.DeepEqual(back, e) {
		t.Errorf("round trip mismatch:\n%s\n%s", e, back)
	}
}

func TestMatches_ThreeValued(t *testing.T) {
	row := map[string]any{"id": int64(7), "price": 9.5, "category": "books", "body": nil}
	tests := []struct {
		expr Expr
		want bool
	}{
		{Eq("id", 7), true},
		{Gt("price", 9), true},
		{Le("price", 9), false},
		{Eq("category", "books"), true},
		{In("category", "music", "books"), true},
		{NotIn("category", "books"), false},
		{IsNull("body"), true},
		{IsNull("missing"), true},
		{Eq("body", "x"), false},
		{Not(Eq("body", "x")), false}, // NOT UNKNOWN is UNKNOWN
		{Or(Eq("body", "x"), Eq("id", 7)), true},
		{And(Eq("body", "x"), Eq("id", 7)), false},
		{Eq("id", 7.0), true},
		{nil, true},
	}
	for _, tc := range tests {
		name := "nil"
		if tc.expr != nil {
			name = tc.expr.String()
		}
		t.Run(name, func(t *testing.T) {
			if got := Matches(tc.expr, row); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	s := testSchema(t)
	tests := []struct {
		name string
		expr Expr
		ok   bool
	}{
		{"numeric", And(Gt("price", 1), Eq("id", 2)), true},
		{"timestamp", Ge("created_at", "2024-01-02"), true},
		{"bool", Eq("archived", false), true},
		{"unknown column", Eq("nope", 1), false},
		{"string on numeric", Eq("price", "cheap"), false},
		{"number on string", Eq("category", 3), false},
		{"vector column", Eq("v", 1), false},
		{"json column", IsNull("meta"), true},
		{"json compare", Eq("meta", "x"), false},
		{"bad timestamp", Eq("created_at", "yesterday"), false},
		{"unsupported literal", Eq("id", []int{1}), false},
		{"empty in", Membership{Column: "id"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.expr, s)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestColumns(t *testing.T) {
	e := MustParse("b = 1 AND (a = 2 OR b IS NULL)")
	if got := Columns(e); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("unexpected columns %v", got)
	}
}

func TestAnd_Flattens(t *testing.T) {
	e := And(And(Eq("a", 1), Eq("b", 2)), nil, Eq("c", 3))
	c, ok := e.(Conjunction)
	if !ok || len(c.Terms) != 3 {
		t.Fatalf("expected flat conjunction of 3, got %v", e)
	}
	if And() != nil || And(nil) != nil {
		t.Error("empty And must be nil")
	}
}
