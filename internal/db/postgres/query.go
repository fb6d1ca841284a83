package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// maxParams bounds the parameters of one INSERT statement.
const maxParams = 65535

// RunQuery lowers q to SQL and decodes the rows.
func (s *Store) RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error) {
	t, err := s.table(ctx, q.Table)
	if err != nil {
		return nil, err
	}
	sch := t.schema
	if err := sch.CheckColumns("columns", q.Columns); err != nil {
		return nil, db.Fatal(db.OpQuery, err)
	}
	if q.Filter != nil {
		if err := filter.Validate(q.Filter, sch); err != nil {
			return nil, db.Fatal(db.OpQuery, err)
		}
	}
	if q.Kind == db.QueryKNN {
		if err := sch.CheckVector(q.Vector); err != nil {
			return nil, db.Fatal(db.OpQuery, err)
		}
	}

	l := s.lowering(t)
	var sql string
	switch q.Kind {
	case db.QueryScan, "":
		sql, err = l.scan(q)
	case db.QueryCount:
		sql, err = l.count(q)
	case db.QueryKNN:
		sql, err = l.knn(q)
	case db.QueryText:
		sql, err = l.text(q)
	default:
		err = fmt.Errorf("unknown query kind %q", q.Kind)
	}
	if err != nil {
		return nil, db.Fatal(db.OpQuery, err)
	}

	var rs *db.RowSet
	err = s.do(ctx, db.OpQuery, false, func(ctx context.Context) error {
		var qerr error
		if q.Kind == db.QueryCount {
			rs = &db.RowSet{}
			return s.pool.QueryRow(ctx, sql, l.args...).Scan(&rs.Total)
		}
		if q.Kind == db.QueryKNN && q.Probes > 0 {
			rs, qerr = s.queryWithProbes(ctx, sch, q.Probes, sql, l.args)
			return qerr
		}
		rows, qerr := s.pool.Query(ctx, sql, l.args...)
		if qerr != nil {
			return qerr
		}
		rs, qerr = collect(rows, sch)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// queryWithProbes sets ivfflat.probes for one read transaction.
func (s *Store) queryWithProbes(ctx context.Context, sch schema.Schema, probes int, sql string, args []any) (*db.RowSet, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT set_config('ivfflat.probes', $1, true)", strconv.Itoa(probes)); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	rs, err := collect(rows, sch)
	if err != nil {
		return nil, err
	}
	return rs, tx.Commit(ctx)
}

func collect(rows pgx.Rows, sch schema.Schema) (*db.RowSet, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	rs := &db.RowSet{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(db.Row, len(vals))
		for i, f := range fields {
			row[f.Name] = decode(sch, f.Name, vals[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

// decode normalizes pgx values to the canonical Go types of the schema.
func decode(sch schema.Schema, name string, v any) any {
	if v == nil {
		return nil
	}
	col, ok := sch.Column(name)
	if ok && col.IsVector() {
		if f, ok := vector.ToFloat32(v); ok {
			return f
		}
		return v
	}
	switch n := v.(type) {
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

// RunMutation applies m in one transaction.
func (s *Store) RunMutation(ctx context.Context, m *db.Mutation) (int64, error) {
	t, err := s.table(ctx, m.Table)
	if err != nil {
		return 0, err
	}
	sch := t.schema
	l := s.lowering(t)

	type stmt struct {
		sql  string
		args []any
	}
	var stmts []stmt

	switch m.Kind {
	case db.MutationInsert, db.MutationOverwrite:
		rows := make([]db.Row, len(m.Rows))
		for i, r := range m.Rows {
			if rows[i], err = db.CoerceRow(sch, r); err != nil {
				return 0, db.Fatal(db.OpMutate, fmt.Errorf("row %d: %w", i, err))
			}
		}
		if m.Kind == db.MutationOverwrite {
			stmts = append(stmts, stmt{sql: "DELETE FROM " + ident(m.Table)})
		}
		per := maxParams / max(sch.Len(), 1)
		for start := 0; start < len(rows); start += per {
			end := min(start+per, len(rows))
			cl := s.lowering(t)
			stmts = append(stmts, stmt{sql: cl.insert(m.Table, rows[start:end]), args: cl.args})
		}
	case db.MutationUpdate:
		values := make(db.Row, len(m.Values))
		for k, v := range m.Values {
			col, ok := sch.Column(k)
			if !ok {
				return 0, db.Fatal(db.OpMutate, fmt.Errorf("unknown column %q", k))
			}
			if values[k], err = db.Coerce(col, v); err != nil {
				return 0, db.Fatal(db.OpMutate, err)
			}
		}
		sql, err := l.update(m.Table, m.Filter, values)
		if err != nil {
			return 0, db.Fatal(db.OpMutate, err)
		}
		stmts = append(stmts, stmt{sql: sql, args: l.args})
	case db.MutationDelete:
		sql, err := l.delete(m.Table, m.Filter)
		if err != nil {
			return 0, db.Fatal(db.OpMutate, err)
		}
		stmts = append(stmts, stmt{sql: sql, args: l.args})
	default:
		return 0, db.Fatal(db.OpMutate, fmt.Errorf("unknown mutation kind %q", m.Kind))
	}

	var affected int64
	err = s.do(ctx, db.OpMutate, true, func(ctx context.Context) error {
		affected = 0
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for i, st := range stmts {
				tag, err := tx.Exec(ctx, st.sql, st.args...)
				if err != nil {
					return err
				}
				if m.Kind == db.MutationOverwrite && i == 0 {
					continue
				}
				affected += tag.RowsAffected()
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
