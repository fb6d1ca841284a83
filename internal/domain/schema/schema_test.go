package schema

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/holodex/internal/domain"
)

func mustColumn(t *testing.T, name string, typ Type) Column {
	t.Helper()
	c, err := NewColumn(name, typ)
	if err != nil {
		t.Fatalf("NewColumn(%q): %v", name, err)
	}
	return c
}

func mustVector(t *testing.T, name string, dim int) Column {
	t.Helper()
	c, err := NewVectorColumn(name, dim, "")
	if err != nil {
		t.Fatalf("NewVectorColumn(%q): %v", name, err)
	}
	return c
}

func TestNew_Valid(t *testing.T) {
	s, err := New("id",
		mustColumn(t, "id", Int64),
		mustColumn(t, "body", Text),
		mustVector(t, "embedding", 3),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 columns, got %d", s.Len())
	}
	vc, ok := s.VectorColumn()
	if !ok || vc.Name() != "embedding" || vc.Dim() != 3 || vc.Element() != Float32Element {
		t.Errorf("unexpected vector column: %+v", vc)
	}
	pk, _ := s.Column("id")
	if pk.Nullable() {
		t.Error("primary key must not be nullable")
	}
	if got := s.TextColumns(); len(got) != 1 || got[0] != "body" {
		t.Errorf("unexpected text columns: %v", got)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		pk   string
		cols func(t *testing.T) []Column
	}{
		{"empty", "", func(*testing.T) []Column { return nil }},
		{"duplicate", "", func(t *testing.T) []Column {
			return []Column{mustColumn(t, "a", Int64), mustColumn(t, "a", Text)}
		}},
		{"two vectors", "", func(t *testing.T) []Column {
			return []Column{mustVector(t, "v1", 2), mustVector(t, "v2", 2)}
		}},
		{"missing pk", "id", func(t *testing.T) []Column {
			return []Column{mustColumn(t, "a", Int64)}
		}},
		{"vector pk", "v", func(t *testing.T) []Column {
			return []Column{mustVector(t, "v", 2)}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.pk, tc.cols(t)...)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNewColumn_RejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "1abc", "has space", "_score", "semi;colon"} {
		if _, err := NewColumn(name, Text); err == nil {
			t.Errorf("expected error for column name %q", name)
		}
	}
}

func TestNewVectorColumn_Dim(t *testing.T) {
	if _, err := NewVectorColumn("v", 0, ""); err == nil {
		t.Error("expected error for zero dim")
	}
	if _, err := NewVectorColumn("v", 4, "int8"); err == nil {
		t.Error("expected error for int8 element")
	}
}

func TestCheckVector(t *testing.T) {
	s, err := New("", mustVector(t, "v", 2))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CheckVector([]float32{1, 0}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err = s.CheckVector([]float32{1, 0, 0})
	var dm *domain.DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Expected != 2 || dm.Actual != 3 {
		t.Errorf("unexpected mismatch %+v", dm)
	}
}

func TestColumns_ReturnsCopy(t *testing.T) {
	s, _ := New("", mustColumn(t, "a", Int64))
	cols := s.Columns()
	cols[0] = mustColumn(t, "b", Int64)
	if !s.Has("a") || s.Has("b") {
		t.Error("schema mutated through Columns()")
	}
}
