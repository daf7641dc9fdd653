// Package errors defines the closed error-kind taxonomy used across the
// indexer, modeled on the spec's error handling design: every failure
// that crosses a component boundary is one of a fixed set of kinds, never
// an ad hoc string, so callers (including MCP tool handlers) can branch
// on Kind() without parsing messages.
package errors

import (
	"fmt"
	"time"
)

// Kind is the closed taxonomy of error kinds a caller can branch on.
type Kind string

const (
	// InvalidProjectPath: source root missing or not a directory. Fatal
	// to the call, not to the process.
	InvalidProjectPath Kind = "INVALID_PROJECT_PATH"
	// ParserUnavailable: the libclang binding could not be located or
	// loaded. Fatal to startup.
	ParserUnavailable Kind = "PARSER_UNAVAILABLE"
	// SchemaTooNew: stored schema version exceeds the running code's
	// version. Fatal; operator must upgrade.
	SchemaTooNew Kind = "SCHEMA_TOO_NEW"
	// ParseFailure: a single file failed to parse. Recorded in the
	// parse-errors log and file metadata; other files continue.
	ParseFailure Kind = "PARSE_FAILURE"
	// WorkerCrashed: a worker process terminated abnormally.
	WorkerCrashed Kind = "WORKER_CRASHED"
	// BrokenPool: the worker pool itself is unusable.
	BrokenPool Kind = "BROKEN_POOL"
	// NotReady: a query arrived before initial indexing completed.
	NotReady Kind = "NOT_READY"
	// Cancelled: operation aborted by client request.
	Cancelled Kind = "CANCELLED"
	// StorageCorruption: integrity check failed on store open.
	StorageCorruption Kind = "STORAGE_CORRUPTION"
)

// Error is the single error type carried across component boundaries.
// Every field beyond Kind and Underlying is optional context.
type Error struct {
	Kind        Kind
	Operation   string
	File        string
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

// New creates an Error of the given kind for the given operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{
		Kind:       kind,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithFile attaches the file path the error concerns.
func (e *Error) WithFile(path string) *Error {
	e.File = path
	return e
}

// WithRecoverable marks whether the caller may retry the operation.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s failed for %s: %v", e.Kind, e.Operation, e.File, e.Underlying)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Kind, e.Operation, e.Underlying)
}

// Unwrap supports errors.Is/As against the underlying cause.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is allows errors.Is(err, errors.New(SomeKind, "", nil)) and direct
// Kind comparison via a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsRecoverable reports whether the operation may be retried.
func (e *Error) IsRecoverable() bool {
	return e.Recoverable
}

// Sentinel returns a bare Error of the given kind, suitable as an
// errors.Is target: errors.Is(err, errors.Sentinel(errors.NotReady)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Multi aggregates independent per-file failures (§7: per-file failures
// never propagate to peer files but may need to be reported together,
// e.g. at the end of a batch refresh).
type Multi struct {
	Errors []error
}

// NewMulti filters nils and wraps the rest.
func NewMulti(errs []error) *Multi {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &Multi{Errors: filtered}
}

func (m *Multi) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(m.Errors), m.Errors)
	}
}

// Unwrap supports errors.Is/As across all aggregated errors (Go 1.20+).
func (m *Multi) Unwrap() []error {
	return m.Errors
}
