package session

import (
	"errors"
	"fmt"
)

// SQLSTATE codes the engine treats specially.
const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeInFailedTransaction  = "25P02"
	CodeReadOnlyTransaction  = "25006"
	CodeUniqueViolation      = "23505"
	CodeInternalError        = "XX000"
)

// retryableCodes are transient conflicts that are safe to replay.
var retryableCodes = map[string]bool{
	CodeSerializationFailure: true,
	CodeDeadlockDetected:     true,
}

// DatabaseError is a wire-level failure carrying a machine-readable code.
type DatabaseError struct {
	// Code is the SQLSTATE (or backend-mapped equivalent).
	Code string

	// Message is the server's primary message.
	Message string

	// Err is the driver error, if any.
	Err error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error %s: %s", e.Code, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error belongs to the retryable subset
// (serialization failure or deadlock).
func (e *DatabaseError) Retryable() bool {
	return retryableCodes[e.Code]
}

// IsRetryable returns true if err wraps a retryable DatabaseError.
func IsRetryable(err error) bool {
	var de *DatabaseError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return false
}

// Code returns the SQLSTATE of a wrapped DatabaseError, or "".
func Code(err error) string {
	var de *DatabaseError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ReadOnlyError reports a mutation attempted on a read-only connection.
type ReadOnlyError struct {
	Op string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s: connection is read-only", e.Op)
}

// IsReadOnly returns true if err wraps a ReadOnlyError.
func IsReadOnly(err error) bool {
	var re *ReadOnlyError
	return errors.As(err, &re)
}
