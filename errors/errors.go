package errors

import (
	"errors"
	"fmt"

	"github.com/finnlundgren/pgproto/codes"
)

// ServerError represents a parsed ErrorResponse received from the backend.
// See https://www.postgresql.org/docs/current/protocol-error-fields.html for
// the field tags this is assembled from.
type ServerError struct {
	Severity       Severity
	Code           codes.Code
	Message        string
	Detail         string
	Hint           string
	ConstraintName string
	Source         *Source
}

// Source represents the backend source location that produced an error, when
// the server includes it (typically only in debug builds).
type Source struct {
	File     string
	Line     int32
	Function string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s: %s", e.Severity, e.Code, e.Message, e.Detail)
	}

	return fmt.Sprintf("%s (%s): %s", e.Severity, e.Code, e.Message)
}

// ProtocolError represents a violation of the wire protocol's own framing or
// state-machine invariants, as opposed to an error the backend reported
// about the submitted SQL. ProtocolErrors are always fatal to the
// connection.
type ProtocolError struct {
	Code    codes.Code
	Message string
	cause   error
}

func (e *ProtocolError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("protocol violation: %s: %s", e.Message, e.cause)
	}

	return fmt.Sprintf("protocol violation: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.cause
}

// NewProtocolError constructs a ProtocolError with the given SQLSTATE-style
// code and message, optionally wrapping a lower-level cause such as a framing
// error surfaced by pkg/buffer.
func NewProtocolError(code codes.Code, message string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, cause: cause}
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsServerError reports whether err is, or wraps, a ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// Supersedes implements the precedence rule governing which of two errors
// observed during a single operation is surfaced to the caller: the error
// recorded first is always kept. A ProtocolError keeps precedence over a
// ServerError observed afterwards, because once framing itself is suspect the
// connection is no longer trustworthy; a ServerError keeps precedence over a
// ProtocolError observed afterwards, because it describes the failed
// statement more precisely than the framing trouble that may follow it.
// Between two errors of the same kind the first one recorded wins as well.
func Supersedes(existing, incoming error) bool {
	return existing == nil
}
