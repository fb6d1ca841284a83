package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

const indexesSQL = `
SELECT c.relname, i.indisvalid AND i.indisready, pg_get_indexdef(i.indexrelid)
FROM pg_index i
JOIN pg_class c ON c.oid = i.indexrelid
WHERE i.indrelid = to_regclass($1) AND NOT i.indisprimary
ORDER BY c.relname`

var (
	vectorDefRegex = regexp.MustCompile(`USING (ivfflat|hnsw) \("?(\w+)"? (vector_\w+_ops)\)`)
	ftsDefRegex    = regexp.MustCompile(`USING gin \(to_tsvector\('(\w+)'::regconfig, COALESCE\("?(\w+)"?`)
	listsRegex     = regexp.MustCompile(`lists='?(\d+)`)
	hnswMRegex     = regexp.MustCompile(`\bm='?(\d+)`)
	efRegex        = regexp.MustCompile(`ef_construction='?(\d+)`)
)

var opMetrics = map[string]vector.Metric{
	"vector_cosine_ops": vector.Cosine,
	"vector_l2_ops":     vector.L2,
	"vector_ip_ops":     vector.Dot,
}

// CreateIndex issues CREATE INDEX CONCURRENTLY. The call returns once the
// server finishes the build; DescribeIndex reports readiness.
func (s *Store) CreateIndex(ctx context.Context, table string, spec db.IndexSpec) error {
	ddl, err := createIndex(s.cfg.Style, table, spec)
	if err != nil {
		return db.Fatal(db.OpCreateIndex, err)
	}
	return s.do(ctx, db.OpCreateIndex, false, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, ddl)
		return err
	})
}

// DropIndex drops an index by name.
func (s *Store) DropIndex(ctx context.Context, _, name string) error {
	return s.do(ctx, db.OpDropIndex, false, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, "DROP INDEX "+ident(name))
		return err
	})
}

// DescribeIndex reads one index from the catalog.
func (s *Store) DescribeIndex(ctx context.Context, table, name string) (db.IndexState, error) {
	all, err := s.listIndexes(ctx, db.OpDescribeIndex, table)
	if err != nil {
		return db.IndexState{}, err
	}
	for _, st := range all {
		if st.Name == name {
			return st, nil
		}
	}
	return db.IndexState{}, db.NotFound(db.OpDescribeIndex, fmt.Errorf("%w: %s", db.ErrIndexNotFound, name))
}

// ListIndexes returns the vector and full-text indexes of table.
func (s *Store) ListIndexes(ctx context.Context, table string) ([]db.IndexState, error) {
	return s.listIndexes(ctx, db.OpListIndexes, table)
}

type pgIndex struct {
	name  string
	ready bool
	def   string
}

func (s *Store) listIndexes(ctx context.Context, op, table string) ([]db.IndexState, error) {
	var raw []pgIndex
	err := s.do(ctx, op, false, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, indexesSQL, ident(table))
		if err != nil {
			return err
		}
		raw, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (pgIndex, error) {
			var ix pgIndex
			err := r.Scan(&ix.name, &ix.ready, &ix.def)
			return ix, err
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]db.IndexState, 0, len(raw))
	for _, ix := range raw {
		if st, ok := parseIndexDef(ix.name, ix.def); ok {
			st.Ready = ix.ready
			out = append(out, st)
		}
	}
	return out, nil
}

// parseIndexDef recognizes the indexes CreateIndex builds. Others are skipped.
func parseIndexDef(name, def string) (db.IndexState, bool) {
	if m := vectorDefRegex.FindStringSubmatch(def); m != nil {
		p := index.Params{Algorithm: index.Algorithm(m[1]), Metric: opMetrics[m[3]]}
		if l := listsRegex.FindStringSubmatch(def); l != nil {
			p.Partitions, _ = strconv.Atoi(l[1])
		}
		if mm := hnswMRegex.FindStringSubmatch(def); mm != nil {
			p.M, _ = strconv.Atoi(mm[1])
		}
		if ef := efRegex.FindStringSubmatch(def); ef != nil {
			p.EFConstruct, _ = strconv.Atoi(ef[1])
		}
		return db.IndexState{Name: name, Kind: index.KindVector, Column: m[2], Params: p}, true
	}
	if m := ftsDefRegex.FindStringSubmatch(def); m != nil {
		p := index.Params{Language: m[1]}.WithDefaults(index.KindFullText)
		return db.IndexState{Name: name, Kind: index.KindFullText, Column: m[2], Params: p}, true
	}
	return db.IndexState{}, false
}
