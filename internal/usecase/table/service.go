// Package table applies row mutations to one table and keeps its index
// states honest: every successful mutation marks Ready indexes Stale.
package table

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/schema"
	"github.com/kailas-cloud/holodex/internal/domain/search/filter"
)

// AddMode selects how Add treats existing rows.
type AddMode string

// Add modes.
const (
	AddAppend    AddMode = "append"
	AddOverwrite AddMode = "overwrite"
)

// BadVectors selects how Add treats rows with an invalid vector.
type BadVectors string

// Bad-vector policies.
const (
	// BadVectorsError fails the whole Add.
	BadVectorsError BadVectors = "error"
	// BadVectorsDrop skips the row.
	BadVectorsDrop BadVectors = "drop"
	// BadVectorsFill replaces the vector with FillValue in every component.
	BadVectorsFill BadVectors = "fill"
)

// AddOptions tune Add. The zero value appends and fails on bad vectors.
type AddOptions struct {
	Mode         AddMode
	OnBadVectors BadVectors
	FillValue    float32
}

// Config configures a Service.
type Config struct {
	// Embedder fills the vector column from SourceColumn for rows that
	// have no vector.
	Embedder     domain.Embedder
	SourceColumn string
	// Pool fans out single-text embedding calls. Nil embeds sequentially.
	Pool   *ants.Pool
	Logger *zap.Logger
}

// Service mutates one table.
type Service struct {
	backend  Backend
	marker   StaleMarker
	name     string
	schema   schema.Schema
	embedder domain.Embedder
	source   string
	pool     *ants.Pool
	logger   *zap.Logger
}

// New creates a service for table name with schema s.
func New(backend Backend, marker StaleMarker, name string, s schema.Schema, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SourceColumn != "" {
		col, ok := s.Column(cfg.SourceColumn)
		if !ok || !col.IsText() {
			return nil, domain.NewValidation("source_column", "%q is not a text column of %s", cfg.SourceColumn, name)
		}
		if _, ok := s.VectorColumn(); !ok {
			return nil, domain.NewValidation("source_column", "table %s has no vector column to fill", name)
		}
	}
	return &Service{
		backend:  backend,
		marker:   marker,
		name:     name,
		schema:   s,
		embedder: cfg.Embedder,
		source:   cfg.SourceColumn,
		pool:     cfg.Pool,
		logger:   cfg.Logger,
	}, nil
}

// Name returns the table name.
func (s *Service) Name() string { return s.name }

// Schema returns the table schema.
func (s *Service) Schema() schema.Schema { return s.schema }

// Add inserts rows. Rows without a vector get one from the source column
// when an embedder is bound.
func (s *Service) Add(ctx context.Context, rows []db.Row, opts AddOptions) (int64, error) {
	if opts.Mode == "" {
		opts.Mode = AddAppend
	}
	if opts.OnBadVectors == "" {
		opts.OnBadVectors = BadVectorsError
	}
	kind := db.MutationInsert
	switch opts.Mode {
	case AddAppend:
	case AddOverwrite:
		kind = db.MutationOverwrite
	default:
		return 0, domain.NewValidation("mode", "unknown add mode %q", opts.Mode)
	}
	switch opts.OnBadVectors {
	case BadVectorsError, BadVectorsDrop, BadVectorsFill:
	default:
		return 0, domain.NewValidation("on_bad_vectors", "unknown policy %q", opts.OnBadVectors)
	}

	staged := make([]db.Row, len(rows))
	for i, r := range rows {
		staged[i] = db.Project(r, nil)
	}
	if err := s.embedSources(ctx, staged); err != nil {
		return 0, err
	}
	staged, dropped, err := s.checkVectors(staged, opts)
	if err != nil {
		return 0, err
	}
	if len(staged) == 0 && kind == db.MutationInsert {
		return 0, nil
	}

	n, err := s.backend.RunMutation(ctx, &db.Mutation{Table: s.name, Kind: kind, Rows: staged})
	if err != nil {
		return 0, db.Public(db.OpMutate, err)
	}
	s.marker.MarkStale(s.name)
	s.logger.Debug("rows added",
		zap.String("table", s.name),
		zap.String("mode", string(opts.Mode)),
		zap.Int64("rows", n),
		zap.Int("dropped", dropped),
	)
	return n, nil
}

// checkVectors applies the bad-vector policy.
func (s *Service) checkVectors(rows []db.Row, opts AddOptions) ([]db.Row, int, error) {
	col, ok := s.schema.VectorColumn()
	if !ok {
		return rows, 0, nil
	}
	out := rows[:0]
	dropped := 0
	for i, r := range rows {
		v, present := r[col.Name()]
		if !present || v == nil {
			if col.Nullable() {
				out = append(out, r)
				continue
			}
		}
		canonical, err := db.Coerce(col, v)
		if err == nil {
			r[col.Name()] = canonical
			out = append(out, r)
			continue
		}
		switch opts.OnBadVectors {
		case BadVectorsDrop:
			dropped++
		case BadVectorsFill:
			fill := make([]float32, col.Dim())
			for j := range fill {
				fill[j] = opts.FillValue
			}
			r[col.Name()] = fill
			out = append(out, r)
		default:
			return nil, 0, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return out, dropped, nil
}

// embedSources fills missing vectors from the source column.
func (s *Service) embedSources(ctx context.Context, rows []db.Row) error {
	if s.embedder == nil || s.source == "" {
		return nil
	}
	col, _ := s.schema.VectorColumn()

	var (
		targets []int
		texts   []string
	)
	for i, r := range rows {
		if r[col.Name()] != nil {
			continue
		}
		text, ok := r[s.source].(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		targets = append(targets, i)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, tokens, err := s.embed(ctx, texts)
	if err != nil {
		return &domain.EmbeddingError{Err: err}
	}
	domain.UsageFromContext(ctx).AddTokens(tokens)
	for j, i := range targets {
		if len(vecs[j]) != col.Dim() {
			return &domain.EmbeddingError{Err: &domain.DimensionMismatchError{
				Column: col.Name(), Expected: col.Dim(), Actual: len(vecs[j]),
			}}
		}
		rows[i][col.Name()] = vecs[j]
	}
	s.logger.Debug("source embeddings computed",
		zap.String("table", s.name),
		zap.String("source", s.source),
		zap.Int("rows", len(texts)),
		zap.Int("tokens", tokens),
	)
	return nil
}

func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if _, ok := s.embedder.(domain.BatchEmbedder); ok || s.pool == nil {
		res, err := domain.EmbedSources(ctx, s.embedder, texts)
		if err != nil {
			return nil, 0, err
		}
		return res.Embeddings, res.TotalTokens, nil
	}
	return s.fanOut(ctx, texts)
}

// fanOut embeds texts one per pool task and stops at the first failure.
func (s *Service) fanOut(ctx context.Context, texts []string) ([][]float32, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		tokens   int
	)
	out := make([][]float32, len(texts))
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for i, text := range texts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			res, err := s.embedder.Embed(ctx, text)
			if err != nil {
				fail(fmt.Errorf("embed [%d]: %w", i, err))
				return
			}
			mu.Lock()
			out[i] = res.Embedding
			tokens += res.TotalTokens
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit embedding task: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return out, tokens, nil
}

// Update assigns values to the rows matching where. Nil where matches all rows.
func (s *Service) Update(ctx context.Context, where filter.Expr, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, domain.NewValidation("values", "at least one column must be assigned")
	}
	coerced := make(map[string]any, len(values))
	for k, v := range values {
		col, ok := s.schema.Column(k)
		if !ok {
			return 0, domain.NewValidation(k, "unknown column")
		}
		if k == s.schema.PrimaryKey() {
			return 0, domain.NewValidation(k, "primary key cannot be updated")
		}
		cv, err := db.Coerce(col, v)
		if err != nil {
			return 0, err
		}
		coerced[k] = cv
	}
	if err := filter.Validate(where, s.schema); err != nil {
		return 0, err
	}
	n, err := s.backend.RunMutation(ctx, &db.Mutation{Table: s.name, Kind: db.MutationUpdate, Filter: where, Values: coerced})
	if err != nil {
		return 0, db.Public(db.OpMutate, err)
	}
	if n > 0 {
		s.marker.MarkStale(s.name)
	}
	return n, nil
}

// Delete removes the rows matching where. Nil where removes all rows.
func (s *Service) Delete(ctx context.Context, where filter.Expr) (int64, error) {
	if err := filter.Validate(where, s.schema); err != nil {
		return 0, err
	}
	n, err := s.backend.RunMutation(ctx, &db.Mutation{Table: s.name, Kind: db.MutationDelete, Filter: where})
	if err != nil {
		return 0, db.Public(db.OpMutate, err)
	}
	if n > 0 {
		s.marker.MarkStale(s.name)
	}
	return n, nil
}

// Count returns the number of rows matching where.
func (s *Service) Count(ctx context.Context, where filter.Expr) (int64, error) {
	if err := filter.Validate(where, s.schema); err != nil {
		return 0, err
	}
	rs, err := s.backend.RunQuery(ctx, &db.Query{Table: s.name, Kind: db.QueryCount, Filter: where})
	if err != nil {
		return 0, db.Public(db.OpQuery, err)
	}
	return rs.Total, nil
}
