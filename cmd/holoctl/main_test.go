package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kailas-cloud/holodex"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	ctx := context.Background()
	conn, err := holodex.Connect(ctx, "memory://holoctl", holodex.WithEnv(func(string) string { return "" }))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	id, _ := holodex.NewColumn("id", holodex.Int64)
	text, _ := holodex.NewColumn("body", holodex.Text)
	v, _ := holodex.NewVectorColumn("v", 2, holodex.Float32Element)
	s, err := holodex.NewSchema("id", id, text, v)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	tbl, err := conn.CreateTable(ctx, "notes", s)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err = tbl.Add(ctx, []holodex.Row{
		{"id": int64(1), "body": "red apple", "v": []float32{1, 0}},
		{"id": int64(2), "body": "green pear", "v": []float32{0, 1}},
		{"id": int64(3), "body": "red cherry", "v": []float32{0.9, 0.1}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return &app{conn: conn}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a.out = &out
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func rowIDs(t *testing.T, out string) []float64 {
	t.Helper()
	var recs []map[string]any
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	ids := make([]float64, len(recs))
	for i, r := range recs {
		ids[i], _ = r["_rowid"].(float64)
	}
	return ids
}

func TestTablesCommands(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "tables", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "notes" {
		t.Errorf("list output = %q", out)
	}

	out, err = run(t, a, "tables", "schema", "notes", "--json")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var cols []columnView
	if err := json.Unmarshal([]byte(out), &cols); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(cols) != 3 || !cols[0].PrimaryKey || cols[2].Dim != 2 {
		t.Errorf("schema = %+v", cols)
	}

	out, err = run(t, a, "tables", "schema", "notes")
	if err != nil {
		t.Fatalf("schema table: %v", err)
	}
	if !strings.HasPrefix(out, "NAME") || !strings.Contains(out, "vector") {
		t.Errorf("schema table output = %q", out)
	}

	out, err = run(t, a, "tables", "rename", "notes", "memos")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if strings.TrimSpace(out) != "renamed table notes to memos" {
		t.Errorf("rename output = %q", out)
	}
	if _, err := run(t, a, "tables", "schema", "notes"); err == nil {
		t.Error("schema under the old name: expected error")
	}
	if _, err := run(t, a, "tables", "rename", "memos"); err == nil {
		t.Error("rename without a new name: expected error")
	}

	if _, err := run(t, a, "tables", "drop", "memos"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	out, err = run(t, a, "tables", "list", "--json")
	if err != nil {
		t.Fatalf("list after drop: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("list after drop = %q", out)
	}

	if _, err := run(t, a, "tables", "schema", "notes"); err == nil {
		t.Error("schema of dropped table: expected error")
	}
}

func TestSearchCommand(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		name string
		args []string
		want []float64
	}{
		{"vector", []string{"--vector", "1,0", "--limit", "2"}, []float64{1, 3}},
		{"text", []string{"--text", "red"}, nil},
		{"filtered vector", []string{"--vector", "[1, 0]", "--where", "id > 1", "--limit", "1"}, []float64{3}},
		{"scan with offset", []string{"--mode", "scan", "--offset", "1"}, []float64{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"search", "notes", "--json"}, tt.args...)
			out, err := run(t, a, args...)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			got := rowIDs(t, out)
			if tt.want == nil {
				if len(got) != 2 {
					t.Errorf("ids = %v, want two matches", got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSearchCommand_Errors(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad vector", []string{"--vector", "1,x"}},
		{"bad mode", []string{"--mode", "fuzzy", "--text", "red"}},
		{"bad metric", []string{"--vector", "1,0", "--metric", "manhattan"}},
		{"wrong dimension", []string{"--vector", "1,0,0"}},
		{"negative limit", []string{"--vector", "1,0", "--limit", "-1"}},
		{"unknown table", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := "notes"
			if tt.args == nil {
				table = "missing"
			}
			args := append([]string{"search", table}, tt.args...)
			if _, err := run(t, a, args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSearchCommand_TableOutput(t *testing.T) {
	a := newTestApp(t)
	out, err := run(t, a, "search", "notes", "--vector", "0,1", "--limit", "1", "--select", "body")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(lines[0], "body") || !strings.Contains(lines[0], "_score") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "green pear") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestIndexCommands(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "index", "create", "notes", "v", "--metric", "cosine", "--json")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var views []indexView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Name != "notes_v_idx" || views[0].Status != "ready" {
		t.Fatalf("created = %+v", views)
	}

	if _, err := run(t, a, "index", "create", "notes", "body", "--kind", "fts"); err != nil {
		t.Fatalf("create fts: %v", err)
	}
	if _, err := run(t, a, "index", "create", "notes", "body", "--kind", "bitmap"); err == nil {
		t.Error("unknown kind: expected error")
	}
	if _, err := run(t, a, "index", "create", "notes", "body", "--kind", "vector"); err == nil {
		t.Error("vector index on text column: expected error")
	}

	out, err = run(t, a, "index", "list", "notes")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "notes_v_idx") || !strings.Contains(out, "notes_body_fts_idx") {
		t.Errorf("list output = %q", out)
	}

	if _, err := run(t, a, "index", "drop", "notes", "notes_v_idx"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	out, err = run(t, a, "index", "list", "notes", "--json")
	if err != nil {
		t.Fatalf("list after drop: %v", err)
	}
	if strings.Contains(out, "notes_v_idx") {
		t.Errorf("dropped index still listed: %q", out)
	}
}

func TestCountAndDelete(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "count", "notes")
	if err != nil || strings.TrimSpace(out) != "3" {
		t.Fatalf("count = %q, err %v", out, err)
	}
	out, err = run(t, a, "count", "notes", "--where", "id >= 2", "--json")
	if err != nil || !strings.Contains(out, `"count": 2`) {
		t.Fatalf("filtered count = %q, err %v", out, err)
	}

	if _, err := run(t, a, "delete", "notes"); err == nil {
		t.Error("delete without --where: expected error")
	}
	out, err = run(t, a, "delete", "notes", "--where", "id = 2")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if strings.TrimSpace(out) != "deleted 1 rows" {
		t.Errorf("delete output = %q", out)
	}
	out, err = run(t, a, "count", "notes")
	if err != nil || strings.TrimSpace(out) != "2" {
		t.Errorf("count after delete = %q, err %v", out, err)
	}
}

func TestParseVector(t *testing.T) {
	tests := []struct {
		in      string
		want    []float32
		wantErr bool
	}{
		{"1,2,3", []float32{1, 2, 3}, false},
		{"[0.5, -1]", []float32{0.5, -1}, false},
		{"1,,2", nil, true},
		{"a", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseVector(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
