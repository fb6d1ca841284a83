package index

import (
	"context"
	"sync"
	"time"
	"testing"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
)

type mockBackend struct {
	mu         sync.Mutex
	createFn   func(spec db.IndexSpec) error
	dropFn     func(name string) error
	describeFn func(name string) (db.IndexState, error)
	listFn     func() ([]db.IndexState, error)

	creates   []db.IndexSpec
	drops     []string
	describes int
}

func (m *mockBackend) CreateIndex(_ context.Context, _ string, spec db.IndexSpec) error {
	m.mu.Lock()
	m.creates = append(m.creates, spec)
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(spec)
	}
	return nil
}

func (m *mockBackend) DropIndex(_ context.Context, _, name string) error {
	m.mu.Lock()
	m.drops = append(m.drops, name)
	m.mu.Unlock()
	if m.dropFn != nil {
		return m.dropFn(name)
	}
	return nil
}

func (m *mockBackend) DescribeIndex(_ context.Context, _, name string) (db.IndexState, error) {
	m.mu.Lock()
	m.describes++
	m.mu.Unlock()
	if m.describeFn != nil {
		return m.describeFn(name)
	}
	return db.IndexState{Name: name, Ready: true}, nil
}

func (m *mockBackend) ListIndexes(_ context.Context, _ string) ([]db.IndexState, error) {
	if m.listFn != nil {
		return m.listFn()
	}
	return nil, nil
}

func (m *mockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creates) + len(m.drops) + m.describes
}

func docsSchema(t *testing.T) schema.Schema {
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

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, MaxPollInterval: 2 * time.Millisecond}
}
