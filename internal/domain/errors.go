package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing table, index or row.
	ErrNotFound = errors.New("not found")
	// ErrConnectionClosed signals use of a closed connection or one of its table handles.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNoEmbeddingFunction signals a raw-value probe on a table without an embedding function.
	ErrNoEmbeddingFunction = errors.New("no embedding function bound")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrPlan is matched by every *PlanError.
	ErrPlan = errors.New("plan error")
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmbedding is matched by every *EmbeddingError.
	ErrEmbedding = errors.New("embedding error")
	// ErrTransport is matched by every *TransportError (transient, retries exhausted).
	ErrTransport = errors.New("transport error")
	// ErrTransportFatal is matched by every *TransportFatalError.
	ErrTransportFatal = errors.New("transport fatal error")
	// ErrHybridExecution is matched by every *HybridExecutionError.
	ErrHybridExecution = errors.New("hybrid execution error")
	// ErrIndexState is matched by every *IndexStateError.
	ErrIndexState = errors.New("index state error")
)

// ValidationError reports a malformed argument or plan.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation creates a validation error.
func NewValidation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PlanError reports unmet mode requirements at build time.
type PlanError struct {
	Mode   string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("%s: mode %s: %s", ErrPlan, e.Mode, e.Reason)
}

func (e *PlanError) Is(target error) bool { return target == ErrPlan }

// DimensionMismatchError reports a vector with the wrong number of dimensions.
type DimensionMismatchError struct {
	Column   string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: column %q expects %d dimensions, got %d",
		ErrDimensionMismatch, e.Column, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// EmbeddingError wraps a failure of the bound embedding function.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s: %v", ErrEmbedding, e.Err)
}

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }
func (e *EmbeddingError) Unwrap() error         { return e.Err }

// TransportError is a transient backend failure surfaced after the
// transport exhausted its retry budget.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s failed after %d attempt(s): %v", ErrTransport, e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
func (e *TransportError) Unwrap() error         { return e.Err }

// TransportFatalError is a non-retryable backend failure.
type TransportFatalError struct {
	Op  string
	Err error
}

func (e *TransportFatalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransportFatal, e.Op, e.Err)
}

func (e *TransportFatalError) Is(target error) bool { return target == ErrTransportFatal }
func (e *TransportFatalError) Unwrap() error         { return e.Err }

// Hybrid sub-query names.
const (
	SubQueryVector = "vector"
	SubQueryText   = "text"
)

// HybridExecutionError wraps the first failing sub-query of a hybrid search.
type HybridExecutionError struct {
	SubQuery string
	Err      error
}

func (e *HybridExecutionError) Error() string {
	return fmt.Sprintf("%s: %s sub-query: %v", ErrHybridExecution, e.SubQuery, e.Err)
}

func (e *HybridExecutionError) Is(target error) bool { return target == ErrHybridExecution }
func (e *HybridExecutionError) Unwrap() error         { return e.Err }

// IndexStateError reports an operation that needs a Ready index.
type IndexStateError struct {
	Column string
	State  string // "building", "stale", "absent"
	Reason string
}

func (e *IndexStateError) Error() string {
	msg := fmt.Sprintf("%s: index on %q is %s", ErrIndexState, e.Column, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *IndexStateError) Is(target error) bool { return target == ErrIndexState }

// QueryError attaches table and mode context to a failed table operation.
type QueryError struct {
	Table string
	Mode  string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("table %q: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("table %q (%s): %v", e.Table, e.Mode, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
