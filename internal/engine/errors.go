package engine

import (
	"errors"
	"fmt"
)

// StateError reports a connection or Work used out of order.
//
// State errors are programmer errors. They are never retried and never
// trigger I/O.
type StateError struct {
	// Op is the operation that was attempted.
	Op string

	// Expected names the state the operation requires.
	Expected string

	// Actual names the state that was found.
	Actual string
}

// Expected states named by StateError.
const (
	StateNoWork     = "no open work"
	StateWorkOpen   = "open work"
	StateConnOpen   = "open connection"
	StateConnClosed = "closed connection"
)

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Actual != "" {
		return fmt.Sprintf("%s: expected %s, found %s", e.Op, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: expected %s", e.Op, e.Expected)
}

// IsStateError returns true if the error is a StateError.
// Uses errors.As to handle wrapped errors.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

func newStateError(op, expected, actual string) *StateError {
	return &StateError{Op: op, Expected: expected, Actual: actual}
}

// ErrNoBlobStore is returned by UploadBlob on a connection without a blob
// store.
var ErrNoBlobStore = errors.New("no blob store configured")
