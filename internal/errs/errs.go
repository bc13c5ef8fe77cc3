// Package errs defines the error kinds the worker distinguishes when deciding
// whether to retry, skip, or abort. Errors wrap an underlying cause and keep a
// short operation name for logs.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration marks invalid or missing settings. Fatal at startup.
	KindConfiguration
	// KindSchemaValidation marks a payload that fails the protocol model.
	KindSchemaValidation
	// KindUnsupportedOperation marks a recognised but intentionally
	// unimplemented request, such as the ICD-MAIN distribution.
	KindUnsupportedOperation
	// KindSQLExecution marks a failed database call.
	KindSQLExecution
	// KindTransport marks an HTTP or network failure.
	KindTransport
	// KindAuthentication marks a 401 from the coordinator.
	KindAuthentication
	// KindIO marks cache read/write failures.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindSchemaValidation:
		return "schema_validation"
	case KindUnsupportedOperation:
		return "unsupported_operation"
	case KindSQLExecution:
		return "sql_execution"
	case KindTransport:
		return "transport"
	case KindAuthentication:
		return "authentication"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the worker's classified error type.
type Error struct {
	Kind Kind
	Op   string // short operation name, e.g. "solver.availability"
	Err  error  // underlying cause, may be nil
	Msg  string
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a message only.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
