// Package session defines the contract between the Work engine and a physical
// database session, plus the database error taxonomy shared by all backends.
//
// A Session owns exactly one server connection. It is not safe for concurrent
// use; the engine serializes all calls through the connection's dispatch lock.
package session

import (
	"context"
	"fmt"
	"strings"
)

// IsolationLevel is a transaction isolation level.
type IsolationLevel string

const (
	ReadCommitted  IsolationLevel = "read committed"
	RepeatableRead IsolationLevel = "repeatable read"
	Serializable   IsolationLevel = "serializable"
)

// DefaultIsolation is used when WorkOptions leaves the level empty.
const DefaultIsolation = ReadCommitted

// ValidIsolationLevels lists the accepted levels in increasing strictness.
var ValidIsolationLevels = []IsolationLevel{ReadCommitted, RepeatableRead, Serializable}

// ParseIsolationLevel normalizes s and checks it against ValidIsolationLevels.
// The empty string yields DefaultIsolation.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	norm := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(s, "_", " "))), " ")
	if norm == "" {
		return DefaultIsolation, nil
	}
	for _, lvl := range ValidIsolationLevels {
		if string(lvl) == norm {
			return lvl, nil
		}
	}
	return "", fmt.Errorf("invalid isolation level %q: must be one of %v", s, ValidIsolationLevels)
}

// SQL returns the level as it appears in a BEGIN statement.
func (l IsolationLevel) SQL() string {
	return strings.ToUpper(string(l))
}

// TxOptions describes a transaction to begin.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Result is a fully materialized statement result.
type Result struct {
	Columns  []string
	Rows     [][]any
	RowCount int64
	// Command is the command tag reported by the engine, e.g. "INSERT 0 1".
	Command string
}

// Session is one physical connection to a relational engine.
type Session interface {
	// Begin opens a transaction.
	Begin(ctx context.Context, opts TxOptions) error

	// Commit sends COMMIT and returns the command tag the engine reported.
	// An engine that silently rolled back reports "ROLLBACK".
	Commit(ctx context.Context) (string, error)

	// Rollback sends ROLLBACK.
	Rollback(ctx context.Context) error

	// Query runs a statement and materializes its rows.
	Query(ctx context.Context, sql string, args ...any) (*Result, error)

	// NextVals allocates n consecutive values from the sequence backing
	// field, given as "table.column".
	NextVals(ctx context.Context, field string, n int) ([]int64, error)

	// Close releases the physical connection.
	Close(ctx context.Context) error
}

// SplitField splits a "table.column" sequence field reference.
func SplitField(field string) (table, column string, err error) {
	i := strings.LastIndexByte(field, '.')
	if i <= 0 || i == len(field)-1 {
		return "", "", fmt.Errorf("invalid sequence field %q: want table.column", field)
	}
	return field[:i], field[i+1:], nil
}
