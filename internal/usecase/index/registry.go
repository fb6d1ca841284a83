package index

import (
	"slices"
	"strings"
	"sync"

	domidx "github.com/kailas-cloud/holodex/internal/domain/index"
)

// Registry holds the index descriptors a connection knows about, per table.
// The lock guards the maps only; callers serialize mutations of one table.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]map[string]domidx.Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]map[string]domidx.Descriptor)}
}

// Put adds or replaces d.
func (r *Registry) Put(table string, d domidx.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[table]
	if !ok {
		t = make(map[string]domidx.Descriptor)
		r.tables[table] = t
	}
	t[d.Name()] = d
}

// Get returns the descriptor named name.
func (r *Registry) Get(table, name string) (domidx.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tables[table][name]
	return d, ok
}

// Find returns the index of kind k on column.
func (r *Registry) Find(table, column string, k domidx.Kind) (domidx.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.tables[table] {
		if d.Kind() == k && d.Column() == column {
			return d, true
		}
	}
	return domidx.Descriptor{}, false
}

// Remove deletes the descriptor named name. Missing names are ignored.
func (r *Registry) Remove(table, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables[table], name)
}

// List returns the descriptors of table ordered by name.
func (r *Registry) List(table string) []domidx.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domidx.Descriptor, 0, len(r.tables[table]))
	for _, d := range r.tables[table] {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domidx.Descriptor) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// MarkStale moves the Ready indexes of table to Stale and returns how many moved.
func (r *Registry) MarkStale(table string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, d := range r.tables[table] {
		if d.Status() == domidx.Ready {
			r.tables[table][name] = d.WithStatus(domidx.Stale)
			n++
		}
	}
	return n
}

// Replace swaps the descriptors of table for ds.
func (r *Registry) Replace(table string, ds []domidx.Descriptor) {
	t := make(map[string]domidx.Descriptor, len(ds))
	for _, d := range ds {
		t[d.Name()] = d
	}
	r.mu.Lock()
	r.tables[table] = t
	r.mu.Unlock()
}

// Rename moves the descriptors of from to to. Descriptor names are kept.
func (r *Registry) Rename(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[from]
	delete(r.tables, from)
	delete(r.tables, to)
	if ok {
		r.tables[to] = t
	}
}

// Forget drops every descriptor of table.
func (r *Registry) Forget(table string) {
	r.mu.Lock()
	delete(r.tables, table)
	r.mu.Unlock()
}
