package cloud

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
)

// CreateTable creates table with s.
func (c *Client) CreateTable(ctx context.Context, name string, s schema.Schema) error {
	path, err := c.databasePath("tables")
	if err != nil {
		return db.Fatal(db.OpCreateTable, err)
	}
	req := CreateTableRequest{Name: name, Schema: EncodeSchema(s)}
	if err := c.call(ctx, db.OpCreateTable, http.MethodPost, path, req, nil, false); err != nil {
		return err
	}
	c.forget(name)
	return nil
}

// DropTable drops table.
func (c *Client) DropTable(ctx context.Context, name string) error {
	path, err := c.tablePath(name)
	if err != nil {
		return db.Fatal(db.OpDropTable, err)
	}
	defer c.forget(name)
	return c.call(ctx, db.OpDropTable, http.MethodDelete, path, nil, nil, false)
}

// RenameTable renames from to to.
func (c *Client) RenameTable(ctx context.Context, from, to string) error {
	path, err := c.tablePath(from)
	if err != nil {
		return db.Fatal(db.OpRenameTable, err)
	}
	defer c.forget(from)
	defer c.forget(to)
	return c.call(ctx, db.OpRenameTable, http.MethodPatch, path, RenameTableRequest{Name: to}, nil, false)
}

// ListTables lists table names.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	path, err := c.databasePath("tables")
	if err != nil {
		return nil, db.Fatal(db.OpListTables, err)
	}
	var resp TablesResponse
	if err := c.call(ctx, db.OpListTables, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

// FetchSchema returns the schema of table.
func (c *Client) FetchSchema(ctx context.Context, table string) (schema.Schema, error) {
	path, err := c.tablePath(table, "schema")
	if err != nil {
		return schema.Schema{}, db.Fatal(db.OpFetchSchema, err)
	}
	var doc SchemaDoc
	if err := c.call(ctx, db.OpFetchSchema, http.MethodGet, path, nil, &doc, true); err != nil {
		return schema.Schema{}, err
	}
	s, err := DecodeSchema(doc)
	if err != nil {
		return schema.Schema{}, db.Fatal(db.OpFetchSchema, err)
	}
	return s, nil
}

// RunQuery posts q and coerces the returned rows to the table schema.
func (c *Client) RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error) {
	sch, err := c.tableSchema(ctx, q.Table)
	if err != nil {
		return nil, err
	}
	path, err := c.tablePath(q.Table, "query")
	if err != nil {
		return nil, db.Fatal(db.OpQuery, err)
	}
	var resp QueryResponse
	if err := c.call(ctx, db.OpQuery, http.MethodPost, path, EncodeQuery(q), &resp, true); err != nil {
		if db.IsNotFound(err) {
			c.forget(q.Table)
		}
		return nil, err
	}

	rs := &db.RowSet{Total: resp.Total, Rows: make([]db.Row, 0, len(resp.Rows))}
	for _, raw := range resp.Rows {
		row, err := decodeRow(sch, raw)
		if err != nil {
			return nil, db.Fatal(db.OpQuery, err)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// decodeRow converts JSON values to the canonical Go types of sch.
func decodeRow(sch schema.Schema, raw map[string]any) (db.Row, error) {
	row := make(db.Row, len(raw))
	for k, v := range raw {
		switch k {
		case db.RowIDColumn:
			if id, ok := result.IDOf(v); ok {
				row[k] = id.Value()
			} else {
				row[k] = v
			}
			continue
		case db.DistanceColumn, db.ScoreColumn:
			if n, ok := v.(json.Number); ok {
				f, err := n.Float64()
				if err != nil {
					return nil, err
				}
				row[k] = f
				continue
			}
		}
		col, ok := sch.Column(k)
		if !ok {
			row[k] = v
			continue
		}
		cv, err := db.Coerce(col.WithNullable(true), v)
		if err != nil {
			return nil, err
		}
		row[k] = cv
	}
	return row, nil
}

// RunMutation posts m and returns the affected row count.
func (c *Client) RunMutation(ctx context.Context, m *db.Mutation) (int64, error) {
	path, err := c.tablePath(m.Table, "data")
	if err != nil {
		return 0, db.Fatal(db.OpMutate, err)
	}
	var resp MutationResponse
	if err := c.call(ctx, db.OpMutate, http.MethodPost, path, EncodeMutation(m), &resp, false); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// CreateIndex requests an index build. The server builds asynchronously.
func (c *Client) CreateIndex(ctx context.Context, table string, spec db.IndexSpec) error {
	path, err := c.tablePath(table, "indexes")
	if err != nil {
		return db.Fatal(db.OpCreateIndex, err)
	}
	return c.call(ctx, db.OpCreateIndex, http.MethodPost, path, EncodeIndexSpec(spec), nil, false)
}

// DropIndex drops the named index.
func (c *Client) DropIndex(ctx context.Context, table, name string) error {
	path, err := c.indexPath(table, name)
	if err != nil {
		return db.Fatal(db.OpDropIndex, err)
	}
	return c.call(ctx, db.OpDropIndex, http.MethodDelete, path, nil, nil, false)
}

// DescribeIndex returns the state of the named index.
func (c *Client) DescribeIndex(ctx context.Context, table, name string) (db.IndexState, error) {
	path, err := c.indexPath(table, name)
	if err != nil {
		return db.IndexState{}, db.Fatal(db.OpDescribeIndex, err)
	}
	var doc IndexDoc
	if err := c.call(ctx, db.OpDescribeIndex, http.MethodGet, path, nil, &doc, true); err != nil {
		return db.IndexState{}, err
	}
	return DecodeIndexState(doc), nil
}

// ListIndexes lists the indexes of table.
func (c *Client) ListIndexes(ctx context.Context, table string) ([]db.IndexState, error) {
	path, err := c.tablePath(table, "indexes")
	if err != nil {
		return nil, db.Fatal(db.OpListIndexes, err)
	}
	var resp IndexesResponse
	if err := c.call(ctx, db.OpListIndexes, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]db.IndexState, len(resp.Indexes))
	for i, d := range resp.Indexes {
		out[i] = DecodeIndexState(d)
	}
	return out, nil
}

func (c *Client) indexPath(table, name string) (string, error) {
	n, err := pathParam("index", name)
	if err != nil {
		return "", err
	}
	return c.tablePath(table, "indexes", n)
}
