package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/holodex/internal/domain"
)

// Sentinel errors for transport operations.
var (
	ErrTableNotFound = errors.New("db: table not found")
	ErrTableExists   = errors.New("db: table already exists")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrKeyNotFound   = errors.New("db: key not found")
)

// Op names for error context.
const (
	OpPing          = "ping"
	OpQuery         = "query"
	OpMutate        = "mutate"
	OpCreateTable   = "create_table"
	OpDropTable     = "drop_table"
	OpRenameTable   = "rename_table"
	OpListTables    = "list_tables"
	OpFetchSchema   = "fetch_schema"
	OpCreateIndex   = "create_index"
	OpDropIndex     = "drop_index"
	OpDescribeIndex = "describe_index"
	OpListIndexes   = "list_indexes"
	OpGet           = "GET"
	OpSet           = "SET"
	OpDel           = "DEL"
)

// Outcome classifies a failed transport operation.
type Outcome int

// Outcomes.
const (
	// OutcomeFatal is not retryable.
	OutcomeFatal Outcome = iota
	// OutcomeTransient was retryable; it surfaces once the retry budget is spent.
	OutcomeTransient
	// OutcomeNotFound reports a missing table, index or row.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTransient:
		return "transient"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "fatal"
	}
}

// Error is the failure every transport reports.
type Error struct {
	Op       string
	Outcome  Outcome
	Attempts int
	Err      error
	// RetryAfter is a server-suggested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s (%s after %d attempts): %v", e.Op, e.Outcome, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Outcome, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Error {
	return &Error{Op: op, Outcome: OutcomeTransient, Attempts: 1, Err: err}
}

// Fatal wraps err as a non-retryable failure.
func Fatal(op string, err error) *Error {
	return &Error{Op: op, Outcome: OutcomeFatal, Attempts: 1, Err: err}
}

// NotFound wraps err as a missing-object failure.
func NotFound(op string, err error) *Error {
	return &Error{Op: op, Outcome: OutcomeNotFound, Attempts: 1, Err: err}
}

// OutcomeOf classifies err. Errors that are not *Error count as fatal,
// except the not-found sentinels.
func OutcomeOf(err error) Outcome {
	var e *Error
	if errors.As(err, &e) {
		return e.Outcome
	}
	if errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrIndexNotFound) || errors.Is(err, ErrKeyNotFound) {
		return OutcomeNotFound
	}
	return OutcomeFatal
}

// IsTransient reports a retryable failure.
func IsTransient(err error) bool {
	return err != nil && OutcomeOf(err) == OutcomeTransient
}

// IsNotFound reports a missing-object failure.
func IsNotFound(err error) bool {
	return err != nil && OutcomeOf(err) == OutcomeNotFound
}

// AttemptsOf returns the attempt count recorded on err, 1 when unknown.
func AttemptsOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Attempts > 0 {
		return e.Attempts
	}
	return 1
}

// Public maps a transport failure onto the public error taxonomy. op names
// the operation when err does not carry one. Validation failures pass through.
func Public(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Op != "" {
		op = e.Op
	}
	switch OutcomeOf(err) {
	case OutcomeNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case OutcomeTransient:
		return &domain.TransportError{Op: op, Attempts: AttemptsOf(err), Err: err}
	}
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrDimensionMismatch) {
		return err
	}
	return &domain.TransportFatalError{Op: op, Err: err}
}
