package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
)

const columnsSQL = `
SELECT a.attname, t.typname, a.atttypmod, NOT a.attnotnull,
       coalesce(col_description(a.attrelid, a.attnum), '')
FROM pg_attribute a
JOIN pg_type t ON t.oid = a.atttypid
WHERE a.attrelid = to_regclass($1) AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

const primaryKeySQL = `
SELECT a.attname
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = to_regclass($1) AND i.indisprimary`

var vectorCommentRegex = regexp.MustCompile(`^holodex:vector\((\d+),(float32|float64)\)$`)

// CreateTable creates name from s.
func (s *Store) CreateTable(ctx context.Context, name string, sch schema.Schema) error {
	stmts := createTable(s.cfg.Style, name, sch)
	err := s.do(ctx, db.OpCreateTable, false, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for _, st := range stmts {
				if _, err := tx.Exec(ctx, st); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.forget(name)
	return nil
}

// DropTable drops name.
func (s *Store) DropTable(ctx context.Context, name string) error {
	defer s.forget(name)
	return s.do(ctx, db.OpDropTable, false, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, "DROP TABLE "+ident(name))
		return err
	})
}

// RenameTable renames from. Postgres indexes keep their names.
func (s *Store) RenameTable(ctx context.Context, from, to string) error {
	defer s.forget(from)
	defer s.forget(to)
	return s.do(ctx, db.OpRenameTable, false, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, "ALTER TABLE "+ident(from)+" RENAME TO "+ident(to))
		return err
	})
}

// ListTables lists tables of the current schema.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := s.do(ctx, db.OpListTables, false, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			"SELECT tablename FROM pg_tables WHERE schemaname = current_schema() ORDER BY tablename")
		if err != nil {
			return err
		}
		names, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

type pgColumn struct {
	name     string
	typname  string
	typmod   int32
	nullable bool
	comment  string
}

// FetchSchema reads column types from the catalog. Vector dimensions come
// from the vector typmod or from the column comment for array storage.
func (s *Store) FetchSchema(ctx context.Context, table string) (schema.Schema, error) {
	t, err := s.fetchTable(ctx, table)
	if err != nil {
		return schema.Schema{}, err
	}
	return t.schema, nil
}

func (s *Store) fetchTable(ctx context.Context, table string) (tableInfo, error) {
	var cols []pgColumn
	var pk string
	err := s.do(ctx, db.OpFetchSchema, false, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, columnsSQL, ident(table))
		if err != nil {
			return err
		}
		cols, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (pgColumn, error) {
			var c pgColumn
			err := r.Scan(&c.name, &c.typname, &c.typmod, &c.nullable, &c.comment)
			return c, err
		})
		if err != nil {
			return err
		}
		pkRows, err := s.pool.Query(ctx, primaryKeySQL, ident(table))
		if err != nil {
			return err
		}
		keys, err := pgx.CollectRows(pkRows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(keys) == 1 {
			pk = keys[0]
		}
		return nil
	})
	if err != nil {
		return tableInfo{}, err
	}
	if len(cols) == 0 {
		return tableInfo{}, db.NotFound(db.OpFetchSchema, fmt.Errorf("%w: %s", db.ErrTableNotFound, table))
	}

	var t tableInfo
	out := make([]schema.Column, 0, len(cols))
	for _, c := range cols {
		if c.name == hiddenRowID {
			t.rowID = c.name
			continue
		}
		col, err := toColumn(c)
		if err != nil {
			return tableInfo{}, db.Fatal(db.OpFetchSchema, err)
		}
		out = append(out, col)
	}
	sch, err := schema.New(pk, out...)
	if err != nil {
		return tableInfo{}, db.Fatal(db.OpFetchSchema, err)
	}
	t.schema = sch
	return t, nil
}

func toColumn(c pgColumn) (schema.Column, error) {
	var t schema.Type
	switch c.typname {
	case "int2", "int4", "int8":
		t = schema.Int64
	case "float4", "float8", "numeric":
		t = schema.Float64
	case "varchar", "bpchar", "name", "uuid":
		t = schema.String
	case "text":
		t = schema.Text
	case "bool":
		t = schema.Bool
	case "timestamp", "timestamptz", "date":
		t = schema.Timestamp
	case "json", "jsonb":
		t = schema.JSON
	case "vector":
		return schema.Reconstruct(c.name, schema.Vector, int(c.typmod), schema.Float32Element, c.nullable), nil
	case "_float4", "_float8":
		if m := vectorCommentRegex.FindStringSubmatch(c.comment); m != nil {
			dim, _ := strconv.Atoi(m[1])
			return schema.Reconstruct(c.name, schema.Vector, dim, schema.Element(m[2]), c.nullable), nil
		}
		t = schema.JSON
	default:
		t = schema.JSON
	}
	return schema.Reconstruct(c.name, t, 0, "", c.nullable), nil
}
