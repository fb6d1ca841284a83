package table

import (
	"context"

	"github.com/kailas-cloud/holodex/internal/db"
)

// Backend applies mutations and counts rows.
type Backend interface {
	RunMutation(ctx context.Context, m *db.Mutation) (int64, error)
	RunQuery(ctx context.Context, q *db.Query) (*db.RowSet, error)
}

// StaleMarker is told about every successful mutation of a table.
type StaleMarker interface {
	MarkStale(table string)
}
