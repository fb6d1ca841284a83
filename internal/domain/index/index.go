// Package index describes vector and full-text index descriptors and their
// build lifecycle.
package index

import (
	"fmt"
	"regexp"

	"github.com/kailas-cloud/holodex/internal/domain"
	"github.com/kailas-cloud/holodex/internal/domain/vector"
)

// Kind is the index kind.
type Kind string

const (
	// KindVector is an approximate nearest-neighbor index on the vector column.
	KindVector Kind = "vector"
	// KindFullText is an inverted index on a text column.
	KindFullText Kind = "fts"
)

// IsValid checks the kind is supported.
func (k Kind) IsValid() bool { return k == KindVector || k == KindFullText }

// Status is the build status of an index.
type Status string

const (
	// Building means the backend has not confirmed the build yet.
	Building Status = "building"
	// Ready means the index reflects the table contents.
	Ready Status = "ready"
	// Stale means rows changed after the build and no rebuild happened.
	Stale Status = "stale"
)

// Algorithm is a vector index algorithm.
type Algorithm string

// Supported algorithms.
const (
	IVFFlat Algorithm = "ivfflat"
	HNSW    Algorithm = "hnsw"
	Flat    Algorithm = "flat"
)

// Default parameters.
const (
	DefaultPartitions = 256
	DefaultTokenizer  = "simple"
	DefaultLanguage   = "english"
	MaxPartitions     = 65536
)

var languageRegex = regexp.MustCompile(`^[a-z_]{1,32}$`)

// Params are kind-specific index parameters.
type Params struct {
	// vector
	Algorithm   Algorithm
	Metric      vector.Metric
	Partitions  int
	M           int // hnsw graph degree
	EFConstruct int

	// full text
	Tokenizer string
	Language  string
	LowerCase bool
	Stem      bool
}

// WithDefaults fills zero fields for the given kind.
func (p Params) WithDefaults(k Kind) Params {
	switch k {
	case KindVector:
		if p.Algorithm == "" {
			p.Algorithm = IVFFlat
		}
		if p.Metric == "" {
			p.Metric = vector.Cosine
		}
		if p.Algorithm == IVFFlat && p.Partitions == 0 {
			p.Partitions = DefaultPartitions
		}
		if p.Algorithm == HNSW {
			if p.M == 0 {
				p.M = 16
			}
			if p.EFConstruct == 0 {
				p.EFConstruct = 64
			}
		}
	case KindFullText:
		if p.Tokenizer == "" {
			p.Tokenizer = DefaultTokenizer
		}
		if p.Language == "" {
			p.Language = DefaultLanguage
		}
	}
	return p
}

// Validate checks parameters for the given kind.
func (p Params) Validate(k Kind) error {
	switch k {
	case KindVector:
		switch p.Algorithm {
		case IVFFlat, HNSW, Flat:
		default:
			return domain.NewValidation("algorithm", "unknown vector index algorithm %q", p.Algorithm)
		}
		if !p.Metric.IsValid() {
			return domain.NewValidation("metric", "unknown distance metric %q", p.Metric)
		}
		if p.Partitions < 0 || p.Partitions > MaxPartitions {
			return domain.NewValidation("partitions", "must be in [0, %d], got %d", MaxPartitions, p.Partitions)
		}
		if p.M < 0 || p.EFConstruct < 0 {
			return domain.NewValidation("hnsw", "m and ef_construction must be >= 0")
		}
	case KindFullText:
		if p.Tokenizer != "simple" && p.Tokenizer != "whitespace" {
			return domain.NewValidation("tokenizer", "unsupported tokenizer %q", p.Tokenizer)
		}
		if !languageRegex.MatchString(p.Language) {
			return domain.NewValidation("language", "invalid text search language %q", p.Language)
		}
	default:
		return domain.NewValidation("kind", "unknown index kind %q", k)
	}
	return nil
}

// DefaultName derives the index name from the table, column and kind.
func DefaultName(table, column string, k Kind) string {
	if k == KindFullText {
		return fmt.Sprintf("%s_%s_fts_idx", table, column)
	}
	return fmt.Sprintf("%s_%s_idx", table, column)
}

// Descriptor is an immutable index description with its build status.
type Descriptor struct {
	name   string
	kind   Kind
	column string
	params Params
	status Status
}

// New creates a Descriptor in the Building state.
func New(name string, k Kind, column string, p Params) Descriptor {
	return Descriptor{name: name, kind: k, column: column, params: p.WithDefaults(k), status: Building}
}

// Reconstruct creates a Descriptor with an explicit status (registry hydration).
func Reconstruct(name string, k Kind, column string, p Params, s Status) Descriptor {
	return Descriptor{name: name, kind: k, column: column, params: p, status: s}
}

// WithStatus returns a copy in the given status.
func (d Descriptor) WithStatus(s Status) Descriptor {
	d.status = s
	return d
}

// Name returns the index name.
func (d Descriptor) Name() string { return d.name }

// Kind returns the index kind.
func (d Descriptor) Kind() Kind { return d.kind }

// Column returns the indexed column.
func (d Descriptor) Column() string { return d.column }

// Params returns the index parameters.
func (d Descriptor) Params() Params { return d.params }

// Status returns the build status.
func (d Descriptor) Status() Status { return d.status }

// IsReady reports the Ready status.
func (d Descriptor) IsReady() bool { return d.status == Ready }
