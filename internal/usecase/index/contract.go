package index

import (
	"context"

	"github.com/kailas-cloud/holodex/internal/db"
)

// Backend builds and reports indexes on the transport.
type Backend interface {
	CreateIndex(ctx context.Context, table string, spec db.IndexSpec) error
	DropIndex(ctx context.Context, table, name string) error
	DescribeIndex(ctx context.Context, table, name string) (db.IndexState, error)
	ListIndexes(ctx context.Context, table string) ([]db.IndexState, error)
}
