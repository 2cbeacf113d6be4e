package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/dbwork/internal/session"
)

// Session is one checked-out SQLite connection. It implements
// session.Session.
type Session struct {
	conn     *sql.Conn
	logger   *slog.Logger
	inTx     bool
	readOnly bool
}

var _ session.Session = (*Session)(nil)

// Begin opens a transaction. See the package doc for the isolation mapping.
func (s *Session) Begin(ctx context.Context, opts session.TxOptions) error {
	if s.inTx {
		return &session.DatabaseError{
			Code:    session.CodeInFailedTransaction,
			Message: "a transaction is already in progress",
		}
	}

	stmt := "BEGIN DEFERRED"
	switch opts.Isolation {
	case session.RepeatableRead, session.Serializable:
		stmt = "BEGIN IMMEDIATE"
	}
	if opts.ReadOnly {
		// IMMEDIATE would take a write lock a read-only transaction never needs
		stmt = "BEGIN DEFERRED"
	}

	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return mapError("begin", err)
	}
	s.inTx = true

	if opts.ReadOnly {
		if _, err := s.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			s.Rollback(ctx)
			return mapError("begin", err)
		}
		s.readOnly = true
	}
	return nil
}

// Commit sends COMMIT. A transaction SQLite already rolled back on its own
// (for example after SQLITE_FULL) reports "ROLLBACK" instead of failing.
func (s *Session) Commit(ctx context.Context) (string, error) {
	defer s.endTx(ctx)

	aborted, err := s.autoCommit()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if aborted {
		s.logger.Warn("transaction was rolled back by the engine before commit")
		return "ROLLBACK", nil
	}

	if _, err := s.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return "", mapError("commit", err)
	}
	return "COMMIT", nil
}

// Rollback sends ROLLBACK. Rolling back a transaction the engine already
// abandoned is not an error.
func (s *Session) Rollback(ctx context.Context) error {
	defer s.endTx(ctx)

	aborted, err := s.autoCommit()
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if aborted {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return mapError("rollback", err)
	}
	return nil
}

func (s *Session) endTx(ctx context.Context) {
	s.inTx = false
	if s.readOnly {
		s.readOnly = false
		if _, err := s.conn.ExecContext(ctx, "PRAGMA query_only = OFF"); err != nil {
			s.logger.Warn("failed to clear query_only", "error", err)
		}
	}
}

// autoCommit reports whether the connection is outside any transaction.
func (s *Session) autoCommit() (bool, error) {
	var auto bool
	err := s.conn.Raw(func(dc any) error {
		c, ok := dc.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		auto = c.AutoCommit()
		return nil
	})
	return auto, err
}

// Query runs sql with $N placeholders. Statements that produce rows are
// materialized; others report the affected row count.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*session.Result, error) {
	q := rewritePlaceholders(query)
	verb := leadingVerb(query)

	if !returnsRows(verb, query) {
		res, err := s.conn.ExecContext(ctx, q, args...)
		if err != nil {
			return nil, mapError("exec", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("exec: rows affected: %w", err)
		}
		return &session.Result{RowCount: n, Command: commandTag(verb, n)}, nil
	}

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}

	result := &session.Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("query", err)
	}

	result.RowCount = int64(len(result.Rows))
	result.Command = commandTag(verb, result.RowCount)
	return result, nil
}

// NextVals allocates n values from the counter for field, seeding a new
// counter from the column's current maximum.
func (s *Session) NextVals(ctx context.Context, field string, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	table, column, err := session.SplitField(field)
	if err != nil {
		return nil, err
	}

	seed := fmt.Sprintf(
		`INSERT INTO sequences (name, value) SELECT ?1, COALESCE(MAX(%s), 0) FROM %s WHERE true ON CONFLICT(name) DO NOTHING`,
		quoteIdent(column), quoteIdent(table),
	)
	if _, err := s.conn.ExecContext(ctx, seed, field); err != nil {
		return nil, mapError("nextval", err)
	}

	var last int64
	err = s.conn.QueryRowContext(ctx,
		`UPDATE sequences SET value = value + ?1 WHERE name = ?2 RETURNING value`,
		n, field,
	).Scan(&last)
	if err != nil {
		return nil, mapError("nextval", err)
	}

	vals := make([]int64, n)
	for i := range vals {
		vals[i] = last - int64(n) + 1 + int64(i)
	}
	return vals, nil
}

// Close returns the connection to the pool, rolling back any open
// transaction first.
func (s *Session) Close(ctx context.Context) error {
	if s.inTx {
		if err := s.Rollback(ctx); err != nil {
			s.logger.Warn("rollback on close failed", "error", err)
		}
	}
	return s.conn.Close()
}

// mapError converts driver errors into the session error taxonomy.
func mapError(op string, err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w", op, err)
	}

	code := session.CodeInternalError
	switch se.Code {
	case sqlite3.ErrBusy:
		code = session.CodeSerializationFailure
	case sqlite3.ErrLocked:
		code = session.CodeDeadlockDetected
	case sqlite3.ErrReadonly:
		return &session.ReadOnlyError{Op: op}
	case sqlite3.ErrConstraint:
		code = "23000"
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			code = session.CodeUniqueViolation
		}
	}
	return &session.DatabaseError{Code: code, Message: se.Error(), Err: err}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
