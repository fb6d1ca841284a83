package holodex

import "github.com/kailas-cloud/holodex/internal/domain"

// Sentinel errors. Every typed error below matches its sentinel with errors.Is.
var (
	ErrNotFound            = domain.ErrNotFound
	ErrConnectionClosed    = domain.ErrConnectionClosed
	ErrNoEmbeddingFunction = domain.ErrNoEmbeddingFunction
	ErrValidation          = domain.ErrValidation
	ErrPlan                = domain.ErrPlan
	ErrDimensionMismatch   = domain.ErrDimensionMismatch
	ErrEmbedding           = domain.ErrEmbedding
	ErrTransport           = domain.ErrTransport
	ErrTransportFatal      = domain.ErrTransportFatal
	ErrHybridExecution     = domain.ErrHybridExecution
	ErrIndexState          = domain.ErrIndexState
)

// Typed errors, for errors.As.
type (
	ValidationError        = domain.ValidationError
	PlanError              = domain.PlanError
	DimensionMismatchError = domain.DimensionMismatchError
	EmbeddingError         = domain.EmbeddingError
	TransportError         = domain.TransportError
	TransportFatalError    = domain.TransportFatalError
	HybridExecutionError   = domain.HybridExecutionError
	IndexStateError        = domain.IndexStateError
	QueryError             = domain.QueryError
)

// Hybrid sub-query names reported by HybridExecutionError.
const (
	SubQueryVector = domain.SubQueryVector
	SubQueryText   = domain.SubQueryText
)
