// Package memory is an in-process transport with exact KNN and BM25 text
// ranking. It backs memory:// connections and the engine tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
	"github.com/kailas-cloud/holodex/internal/domain/search/result"
)

// Compile-time check: Store implements db.Transport.
var _ db.Transport = (*Store)(nil)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory: store closed")

// Store is a set of in-memory tables. It is safe for concurrent use.
type Store struct {
	name string

	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

// New creates an empty store.
func New(name string) *Store {
	return &Store{name: name, tables: make(map[string]*table)}
}

// Name returns the store name from the memory:// URI.
func (s *Store) Name() string { return s.name }

// Capabilities reports a non-pipelining transport.
func (s *Store) Capabilities() db.Capabilities {
	return db.Capabilities{Pipelining: false, Name: "memory"}
}

// Ping fails only after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return db.Fatal(db.OpPing, ErrClosed)
	}
	return nil
}

// Close drops all tables.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tables = nil
	return nil
}

func (s *Store) lookup(op, name string) (*table, error) {
	if s.closed {
		return nil, db.Fatal(op, ErrClosed)
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, db.NotFound(op, fmt.Errorf("%w: %s", db.ErrTableNotFound, name))
	}
	return t, nil
}

// CreateTable adds an empty table.
func (s *Store) CreateTable(_ context.Context, name string, sch schema.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return db.Fatal(db.OpCreateTable, ErrClosed)
	}
	if _, ok := s.tables[name]; ok {
		return db.Fatal(db.OpCreateTable, fmt.Errorf("%w: %s", db.ErrTableExists, name))
	}
	s.tables[name] = newTable(sch)
	return nil
}

// DropTable removes a table and its indexes.
func (s *Store) DropTable(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(db.OpDropTable, name); err != nil {
		return err
	}
	delete(s.tables, name)
	return nil
}

// RenameTable moves a table and its indexes to a new name.
func (s *Store) RenameTable(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(db.OpRenameTable, from)
	if err != nil {
		return err
	}
	if _, ok := s.tables[to]; ok {
		return db.Fatal(db.OpRenameTable, fmt.Errorf("%w: %s", db.ErrTableExists, to))
	}
	delete(s.tables, from)
	s.tables[to] = t
	return nil
}

// ListTables returns table names in order.
func (s *Store) ListTables(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.Fatal(db.OpListTables, ErrClosed)
	}
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

// FetchSchema returns the table schema.
func (s *Store) FetchSchema(_ context.Context, name string) (schema.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(db.OpFetchSchema, name)
	if err != nil {
		return schema.Schema{}, err
	}
	return t.schema, nil
}

// RunMutation applies m and returns the affected row count.
func (s *Store) RunMutation(_ context.Context, m *db.Mutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(db.OpMutate, m.Table)
	if err != nil {
		return 0, err
	}

	var n int64
	switch m.Kind {
	case db.MutationInsert:
		n, err = t.insert(m.Rows)
	case db.MutationOverwrite:
		fresh := newTable(t.schema)
		fresh.indexes = t.indexes
		if n, err = fresh.insert(m.Rows); err == nil {
			s.tables[m.Table] = fresh
		}
	case db.MutationUpdate:
		n, err = t.update(m.Filter, m.Values)
	case db.MutationDelete:
		n = t.delete(m.Filter)
	default:
		err = fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	if err != nil {
		return 0, db.Fatal(db.OpMutate, err)
	}
	return n, nil
}

// CreateIndex records an index. Memory indexes are ready immediately.
func (s *Store) CreateIndex(_ context.Context, tableName string, spec db.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(db.OpCreateIndex, tableName)
	if err != nil {
		return err
	}
	if !t.schema.Has(spec.Column) {
		return db.Fatal(db.OpCreateIndex, fmt.Errorf("unknown column %q", spec.Column))
	}
	if _, ok := t.indexes[spec.Name]; ok {
		return db.Fatal(db.OpCreateIndex, fmt.Errorf("index %q already exists", spec.Name))
	}
	t.indexes[spec.Name] = db.IndexState{
		Name:   spec.Name,
		Kind:   spec.Kind,
		Column: spec.Column,
		Params: spec.Params.WithDefaults(spec.Kind),
		Ready:  true,
	}
	return nil
}

// DropIndex removes an index.
func (s *Store) DropIndex(_ context.Context, tableName, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(db.OpDropIndex, tableName)
	if err != nil {
		return err
	}
	if _, ok := t.indexes[name]; !ok {
		return db.NotFound(db.OpDropIndex, fmt.Errorf("%w: %s", db.ErrIndexNotFound, name))
	}
	delete(t.indexes, name)
	return nil
}

// DescribeIndex returns the index state.
func (s *Store) DescribeIndex(_ context.Context, tableName, name string) (db.IndexState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(db.OpDescribeIndex, tableName)
	if err != nil {
		return db.IndexState{}, err
	}
	st, ok := t.indexes[name]
	if !ok {
		return db.IndexState{}, db.NotFound(db.OpDescribeIndex, fmt.Errorf("%w: %s", db.ErrIndexNotFound, name))
	}
	return st, nil
}

// ListIndexes returns the table's indexes ordered by name.
func (s *Store) ListIndexes(_ context.Context, tableName string) ([]db.IndexState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(db.OpListIndexes, tableName)
	if err != nil {
		return nil, err
	}
	out := make([]db.IndexState, 0, len(t.indexes))
	for _, st := range t.indexes {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b db.IndexState) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// table keeps rows in insertion slots. Deleted slots stay nil so slot
// numbers remain valid posting ids.
type table struct {
	schema  schema.Schema
	rows    []db.Row
	ids     []result.RowID
	byID    map[result.RowID]uint32
	live    int
	nextSeq int64
	text    map[string]*postings
	indexes map[string]db.IndexState
}

func newTable(s schema.Schema) *table {
	t := &table{
		schema:  s,
		byID:    make(map[result.RowID]uint32),
		text:    make(map[string]*postings),
		indexes: make(map[string]db.IndexState),
	}
	for _, c := range s.TextColumns() {
		t.text[c] = newPostings()
	}
	return t
}

func (t *table) insert(rows []db.Row) (int64, error) {
	staged := make([]db.Row, 0, len(rows))
	ids := make([]result.RowID, 0, len(rows))
	seen := make(map[result.RowID]bool, len(rows))
	seq := t.nextSeq
	pk := t.schema.PrimaryKey()

	for i, r := range rows {
		row, err := db.CoerceRow(t.schema, r)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		var id result.RowID
		if pk != "" {
			var ok bool
			if id, ok = result.IDOf(row[pk]); !ok || row[pk] == nil {
				return 0, fmt.Errorf("row %d: primary key %q is missing", i, pk)
			}
		} else {
			seq++
			id = result.IntID(seq)
		}
		if _, dup := t.byID[id]; dup || seen[id] {
			return 0, fmt.Errorf("row %d: duplicate key %s", i, id)
		}
		seen[id] = true
		staged = append(staged, row)
		ids = append(ids, id)
	}

	for i, row := range staged {
		t.put(ids[i], row)
	}
	t.nextSeq = seq
	return int64(len(staged)), nil
}

func (t *table) put(id result.RowID, row db.Row) {
	slot := uint32(len(t.rows))
	t.rows = append(t.rows, row)
	t.ids = append(t.ids, id)
	t.byID[id] = slot
	t.live++
	for col, p := range t.text {
		if s, ok := row[col].(string); ok {
			p.add(slot, s)
		}
	}
}

func (t *table) remove(slot uint32) {
	for _, p := range t.text {
		p.remove(slot)
	}
	delete(t.byID, t.ids[slot])
	t.rows[slot] = nil
	t.live--
}

func (t *table) update(f filter.Expr, values map[string]any) (int64, error) {
	assigned := make(db.Row, len(values))
	for k, v := range values {
		col, ok := t.schema.Column(k)
		if !ok {
			return 0, fmt.Errorf("unknown column %q", k)
		}
		if k == t.schema.PrimaryKey() {
			return 0, fmt.Errorf("primary key %q cannot be updated", k)
		}
		cv, err := db.Coerce(col, v)
		if err != nil {
			return 0, err
		}
		assigned[k] = cv
	}

	var n int64
	for _, slot := range t.matching(f) {
		row := db.Project(t.rows[slot], nil)
		for k, v := range assigned {
			row[k] = v
		}
		id := t.ids[slot]
		t.remove(slot)
		t.put(id, row)
		n++
	}
	return n, nil
}

func (t *table) delete(f filter.Expr) int64 {
	var n int64
	for _, slot := range t.matching(f) {
		t.remove(slot)
		n++
	}
	return n
}

// matching returns live slots passing f in slot order.
func (t *table) matching(f filter.Expr) []uint32 {
	var out []uint32
	for slot, row := range t.rows {
		if row == nil {
			continue
		}
		if f == nil || filter.Matches(f, row) {
			out = append(out, uint32(slot))
		}
	}
	return out
}

// vectorIndex returns the ready vector index, if any.
func (t *table) vectorIndex() (db.IndexState, bool) {
	for _, st := range t.indexes {
		if st.Kind == index.KindVector {
			return st, true
		}
	}
	return db.IndexState{}, false
}
