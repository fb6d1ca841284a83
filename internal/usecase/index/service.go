// Package index manages the index lifecycle of a connection: build, wait
// for readiness, drop, staleness after mutations and reconciliation with
// the backend.
package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain"
	domidx "github.com/kailas-cloud/holodex/internal/domain/index"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
)

// Defaults.
const (
	DefaultWaitTimeout     = 5 * time.Minute
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
)

// Config configures a Manager.
type Config struct {
	// WaitTimeout bounds the wait for a build. Zero uses DefaultWaitTimeout.
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	Logger          *zap.Logger
}

// CreateRequest describes an index to create.
type CreateRequest struct {
	// Name defaults to domidx.DefaultName.
	Name    string
	Kind    domidx.Kind
	Column  string
	Params  domidx.Params
	Replace bool
}

// Manager creates, drops and tracks indexes.
type Manager struct {
	backend  Backend
	registry *Registry
	timeout  time.Duration
	poll     retry.Policy
	logger   *zap.Logger
}

// New creates a manager over backend. Descriptors live in reg.
func New(backend Backend, reg *Registry, cfg Config) *Manager {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = DefaultMaxPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Manager{
		backend:  backend,
		registry: reg,
		timeout:  cfg.WaitTimeout,
		poll: retry.Policy{
			Backoff:   retry.BackoffExponential,
			BaseDelay: cfg.PollInterval,
			MaxDelay:  cfg.MaxPollInterval,
		},
		logger: cfg.Logger,
	}
}

// Registry returns the descriptor registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Indexes returns the known descriptors of table without a backend call.
func (m *Manager) Indexes(table string) []domidx.Descriptor {
	return m.registry.List(table)
}

// Create validates req against s, builds the index and waits until the
// backend reports it ready. Validation happens before any backend call.
func (m *Manager) Create(ctx context.Context, table string, s schema.Schema, req CreateRequest) (domidx.Descriptor, error) {
	params, err := validate(s, req)
	if err != nil {
		return domidx.Descriptor{}, err
	}
	name := req.Name
	if name == "" {
		name = domidx.DefaultName(table, req.Column, req.Kind)
	}
	if !schema.IsIdentifier(name) {
		return domidx.Descriptor{}, domain.NewValidation("name", "invalid index name %q", name)
	}

	if existing, ok := m.registry.Find(table, req.Column, req.Kind); ok {
		if !req.Replace {
			return domidx.Descriptor{}, domain.NewValidation("index",
				"%s index %q already exists on column %q", req.Kind, existing.Name(), req.Column)
		}
		if err := m.Drop(ctx, table, existing.Name()); err != nil {
			return domidx.Descriptor{}, fmt.Errorf("replace index %q: %w", existing.Name(), err)
		}
	} else if _, ok := m.registry.Get(table, name); ok {
		if !req.Replace {
			return domidx.Descriptor{}, domain.NewValidation("name", "index %q already exists", name)
		}
		if err := m.Drop(ctx, table, name); err != nil {
			return domidx.Descriptor{}, fmt.Errorf("replace index %q: %w", name, err)
		}
	}

	desc := domidx.New(name, req.Kind, req.Column, params)
	m.registry.Put(table, desc)

	err = m.backend.CreateIndex(ctx, table, db.IndexSpec{
		Name:   name,
		Kind:   req.Kind,
		Column: req.Column,
		Params: desc.Params(),
	})
	if err != nil {
		m.registry.Remove(table, name)
		return domidx.Descriptor{}, db.Public(db.OpCreateIndex, err)
	}

	m.logger.Debug("index build dispatched",
		zap.String("table", table),
		zap.String("index", name),
		zap.String("kind", string(req.Kind)),
	)
	if err := m.wait(ctx, table, desc); err != nil {
		return desc, err
	}

	ready := desc.WithStatus(domidx.Ready)
	m.registry.Put(table, ready)
	return ready, nil
}

func validate(s schema.Schema, req CreateRequest) (domidx.Params, error) {
	if !req.Kind.IsValid() {
		return domidx.Params{}, domain.NewValidation("kind", "unknown index kind %q", req.Kind)
	}
	col, ok := s.Column(req.Column)
	if !ok {
		return domidx.Params{}, domain.NewValidation("column", "unknown column %q", req.Column)
	}
	switch req.Kind {
	case domidx.KindVector:
		if !col.IsVector() {
			return domidx.Params{}, domain.NewValidation("column", "column %q is %s, not a vector column", col.Name(), col.Type())
		}
	case domidx.KindFullText:
		if !col.IsText() {
			return domidx.Params{}, domain.NewValidation("column", "column %q is %s, not a text column", col.Name(), col.Type())
		}
	}
	params := req.Params.WithDefaults(req.Kind)
	if err := params.Validate(req.Kind); err != nil {
		return domidx.Params{}, err
	}
	return params, nil
}

// wait polls DescribeIndex with backoff until the index is ready. On
// timeout the descriptor stays Building.
func (m *Manager) wait(ctx context.Context, table string, desc domidx.Descriptor) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		st, err := m.backend.DescribeIndex(waitCtx, table, desc.Name())
		switch {
		case err == nil && st.Ready:
			return nil
		case err == nil, db.IsNotFound(err):
			// not visible or not ready yet
		case ctx.Err() != nil:
			return ctx.Err()
		case waitCtx.Err() == nil:
			return db.Public(db.OpDescribeIndex, err)
		}

		delay := m.poll.Delay(attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-waitCtx.Done():
			t.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("index build wait timed out",
				zap.String("table", table),
				zap.String("index", desc.Name()),
				zap.Duration("timeout", m.timeout),
			)
			return &domain.IndexStateError{
				Column: desc.Column(),
				State:  string(domidx.Building),
				Reason: fmt.Sprintf("not ready after %s", m.timeout),
			}
		}
	}
}

// Drop removes the index named name. Dropping an absent index succeeds.
func (m *Manager) Drop(ctx context.Context, table, name string) error {
	err := m.backend.DropIndex(ctx, table, name)
	if err != nil && !db.IsNotFound(err) {
		return db.Public(db.OpDropIndex, err)
	}
	m.registry.Remove(table, name)
	return nil
}

// MarkStale moves the Ready indexes of table to Stale. Called after every
// row mutation; the manager never rebuilds on its own.
func (m *Manager) MarkStale(table string) {
	if n := m.registry.MarkStale(table); n > 0 {
		m.logger.Debug("indexes marked stale", zap.String("table", table), zap.Int("count", n))
	}
}

// Rebuild recreates the index named name with its current parameters.
func (m *Manager) Rebuild(ctx context.Context, table string, s schema.Schema, name string) (domidx.Descriptor, error) {
	d, ok := m.registry.Get(table, name)
	if !ok {
		return domidx.Descriptor{}, fmt.Errorf("index %q: %w", name, domain.ErrNotFound)
	}
	return m.Create(ctx, table, s, CreateRequest{
		Name:    d.Name(),
		Kind:    d.Kind(),
		Column:  d.Column(),
		Params:  d.Params(),
		Replace: true,
	})
}

// List reconciles the registry with the backend and returns the result.
// Backend indexes unknown locally are adopted; local entries the backend
// lacks are removed. A locally Stale index stays Stale.
func (m *Manager) List(ctx context.Context, table string) ([]domidx.Descriptor, error) {
	states, err := m.backend.ListIndexes(ctx, table)
	if err != nil {
		return nil, db.Public(db.OpListIndexes, err)
	}

	out := make([]domidx.Descriptor, 0, len(states))
	for _, st := range states {
		status := domidx.Building
		if st.Ready {
			status = domidx.Ready
		}
		if local, ok := m.registry.Get(table, st.Name); ok {
			if local.Status() == domidx.Stale && st.Ready {
				status = domidx.Stale
			}
			out = append(out, local.WithStatus(status))
			continue
		}
		out = append(out, domidx.Reconstruct(st.Name, st.Kind, st.Column, st.Params.WithDefaults(st.Kind), status))
	}
	m.registry.Replace(table, out)
	return m.registry.List(table), nil
}

// Rename re-keys the registry entries of a renamed table.
func (m *Manager) Rename(from, to string) {
	m.registry.Rename(from, to)
}

// Forget drops the registry entries of a dropped table.
func (m *Manager) Forget(table string) {
	m.registry.Forget(table)
}
