package plan

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/search/mode"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	id, _ := schema.NewColumn("id", schema.Int64)
	body, _ := schema.NewColumn("body", schema.Text)
	price, _ := schema.NewColumn("price", schema.Float64)
	v, _ := schema.NewVectorColumn("v", 2, schema.Float32Element)
	s, err := schema.New("id", id, body, price, v)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestBuild_InfersMode(t *testing.T) {
	tests := []struct {
		name string
		b    Builder
		want mode.Mode
	}{
		{"none", New(), mode.Scan},
		{"vector", New().WithVector([]float32{1, 0}), mode.VectorOnly},
		{"text", New().WithText("cat"), mode.TextOnly},
		{"both", New().WithVector([]float32{1, 0}).WithText("cat"), mode.Hybrid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.b.Build()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Mode() != tc.want {
				t.Errorf("expected mode %s, got %s", tc.want, p.Mode())
			}
		})
	}
}

func TestBuild_HybridWithoutTextProbe(t *testing.T) {
	_, err := New().WithVector([]float32{1, 0}).Mode(mode.Hybrid).Build()
	var pe *domain.PlanError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlanError, got %v", err)
	}
	if pe.Mode != "hybrid" {
		t.Errorf("unexpected mode %q", pe.Mode)
	}
}

func TestBuild_ModeRequirements(t *testing.T) {
	tests := []struct {
		name string
		b    Builder
	}{
		{"vector without probe", New().Mode(mode.VectorOnly)},
		{"text without probe", New().Mode(mode.TextOnly)},
		{"hybrid without vector", New().WithText("cat").Mode(mode.Hybrid)},
		{"ranked with zero limit", New().WithText("cat").Limit(0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.b.Build(); !errors.Is(err, domain.ErrPlan) {
				t.Errorf("expected ErrPlan, got %v", err)
			}
		})
	}
}

func TestBuild_ScanAllowsZeroLimit(t *testing.T) {
	p, err := New().Limit(0).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit() != 0 {
		t.Errorf("expected limit 0, got %d", p.Limit())
	}
}

func TestBuild_VectorModeIgnoresText(t *testing.T) {
	p, err := New().WithVector([]float32{1, 0}).WithText("cat").Mode(mode.VectorOnly).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.Text(); ok {
		t.Error("text probe should be dropped")
	}
	if len(p.Warnings()) != 1 {
		t.Errorf("expected one warning, got %v", p.Warnings())
	}
}

func TestBuild_TextModeIgnoresVector(t *testing.T) {
	p, err := New().WithVector([]float32{1, 0}).WithText("cat").Mode(mode.TextOnly).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.Vector(); ok {
		t.Error("vector probe should be dropped")
	}
	if len(p.Warnings()) != 1 {
		t.Errorf("expected one warning, got %v", p.Warnings())
	}
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		b     Builder
		field string
	}{
		{"negative limit", New().Limit(-1), "limit"},
		{"limit too large", New().Limit(MaxLimit + 1), "limit"},
		{"negative offset", New().Offset(-5), "offset"},
		{"empty vector", New().WithVector(nil), "vector"},
		{"nil value", New().WithValue(nil), "vector"},
		{"blank text", New().WithText("   "), "text"},
		{"zero weights", New().Weights(0, 0), "weights"},
		{"negative weight", New().Weights(-1, 1), "weights"},
		{"bad metric", New().Metric("hamming"), "metric"},
		{"bad candidates", New().CandidateLimit(0), "candidate_limit"},
		{"bad nprobes", New().Nprobes(0), "nprobes"},
		{"duplicate select", New().Select("a", "a"), "select"},
		{"empty boolean", New().WithBoolean(nil, nil, []string{"x"}), "text"},
		{"bad filter", New().Filter("price <"), "filter"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var ve *domain.ValidationError
			if !errors.As(tc.b.Err(), &ve) {
				t.Fatalf("expected ValidationError, got %v", tc.b.Err())
			}
			if ve.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, ve.Field)
			}
			if _, err := tc.b.Build(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("Build should return the recorded error, got %v", err)
			}
		})
	}
}

func TestBuilder_FirstErrorSticks(t *testing.T) {
	b := New().Limit(-1).Offset(-1).WithText("")
	var ve *domain.ValidationError
	if !errors.As(b.Err(), &ve) || ve.Field != "limit" {
		t.Errorf("expected the limit error to stick, got %v", b.Err())
	}
}

func TestBuilder_TemplateReuse(t *testing.T) {
	base := New().WithVector([]float32{1, 0}).Filter("price > 1")

	small, err := base.Limit(2).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	large, err := base.Limit(50).Where(filter.Lt("price", 100)).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if small.Limit() != 2 || large.Limit() != 50 {
		t.Errorf("templates leaked limits: %d, %d", small.Limit(), large.Limit())
	}
	if small.Filter().String() == large.Filter().String() {
		t.Error("Where on one derivation changed the other")
	}
	if base.limit != DefaultLimit {
		t.Errorf("base limit changed to %d", base.limit)
	}
}

func TestBuilder_CopiesVector(t *testing.T) {
	v := []float32{1, 0}
	p, err := New().WithVector(v).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v[0] = 42
	probe, _ := p.Vector()
	if probe.Vector()[0] != 1 {
		t.Error("plan shares the caller's slice")
	}
}

func TestBuilder_WithValue(t *testing.T) {
	p, err := New().WithValue([]float64{0.5, 0.5}).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probe, _ := p.Vector()
	if probe.IsRaw() || len(probe.Vector()) != 2 {
		t.Errorf("numeric value should become a literal vector: %+v", probe)
	}

	p, err = New().WithValue("a fluffy cat").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probe, _ = p.Vector()
	if !probe.IsRaw() || probe.Value() != "a fluffy cat" {
		t.Errorf("text value should stay raw: %+v", probe)
	}
}

func TestBuild_Defaults(t *testing.T) {
	p, err := New().WithVector([]float32{1, 0}).WithText("cat").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Limit() != DefaultLimit {
		t.Errorf("expected default limit, got %d", p.Limit())
	}
	if p.Weights() != DefaultWeights {
		t.Errorf("expected default weights, got %+v", p.Weights())
	}
	if p.IndexPolicy() != IndexAuto {
		t.Errorf("expected auto policy, got %s", p.IndexPolicy())
	}
}

func TestBuild_FusionKnobsOutsideHybridWarn(t *testing.T) {
	p, err := New().WithVector([]float32{1, 0}).Weights(1, 0).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Warnings()) == 0 {
		t.Error("expected a warning for ignored weights")
	}
}

func TestBuild_SchemaBound(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		name string
		b    Builder
		ok   bool
	}{
		{"valid", For(s).WithVector([]float32{1, 0}).Filter("price < 10").Select("id", "body"), true},
		{"unknown filter column", For(s).Filter("color = 'red'"), false},
		{"literal type mismatch", For(s).Filter("price = 'cheap'"), false},
		{"unknown projection", For(s).Select("nope"), false},
		{"non-text text column", For(s).WithText("cat").TextColumns("price"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.b.Build()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestBuild_SchemaDefaultsTextColumns(t *testing.T) {
	p, err := For(testSchema(t)).WithText("cat").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probe, _ := p.Text()
	if cols := probe.Columns(); len(cols) != 1 || cols[0] != "body" {
		t.Errorf("expected default text columns [body], got %v", cols)
	}
}

func TestBuild_MetricAndHints(t *testing.T) {
	p, err := New().WithVector([]float32{1, 0}).Metric(vector.L2).Nprobes(8).RefineFactor(2).BypassIndex().Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Metric() != vector.L2 || p.Nprobes() != 8 || p.RefineFactor() != 2 || p.IndexPolicy() != IndexBypass {
		t.Errorf("hints not carried: %+v", p)
	}
}

func TestWithBoolean(t *testing.T) {
	p, err := New().WithBoolean([]string{"cat"}, []string{"fluffy"}, []string{"dog"}).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probe, _ := p.Text()
	if probe.Match() != MatchBoolean {
		t.Errorf("expected boolean match, got %s", probe.Match())
	}
	if probe.Query() != "cat fluffy" {
		t.Errorf("unexpected query %q", probe.Query())
	}
	if len(probe.MustNot()) != 1 || probe.MustNot()[0] != "dog" {
		t.Errorf("unexpected must-not %v", probe.MustNot())
	}
}
