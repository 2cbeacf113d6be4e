// Package pg is the PostgreSQL backend: a typed session over pgx that
// bootstraps the process type registry and decodes through the wire codecs,
// plus NOTIFY-based broadcasting and advisory-lock mutexes.
package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/dbwork/internal/codec"
	"github.com/roach88/dbwork/internal/engine"
	"github.com/roach88/dbwork/internal/session"
	"github.com/roach88/dbwork/internal/typereg"
)

// Session is one pgx connection. It implements session.Session and
// typereg.Catalog.
type Session struct {
	conn     *pgx.Conn
	logger   *slog.Logger
	registry *typereg.Registry
}

var (
	_ session.Session = (*Session)(nil)
	_ typereg.Catalog = (*Session)(nil)
)

type options struct {
	logger   *slog.Logger
	resolver codec.BlobResolver
	boot     *typereg.Bootstrapper
}

// Option configures Connect.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBlobResolver connects blob_ref values to a blob store. Without one,
// blob_ref columns decode to codec.BlobRef.
func WithBlobResolver(r codec.BlobResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithBootstrapper uses b instead of the process-wide bootstrapper.
func WithBootstrapper(b *typereg.Bootstrapper) Option {
	return func(o *options) {
		o.boot = b
	}
}

// Connect dials dsn, runs the once-per-process type bootstrap and installs
// the wire codecs on the connection.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Session, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.boot == nil {
		o.boot = typereg.Default()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := &Session{conn: conn, logger: o.logger}

	reg, err := o.boot.Configure(ctx, s)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}
	reg.Apply(conn.TypeMap(), o.resolver)
	s.registry = reg

	o.logger.Debug("connected", "types", reg.Names())
	return s, nil
}

// Opener returns an engine.Opener that dials a new typed connection for each
// stashed Work.
func Opener(dsn string, sessOpts []Option, connOpts ...engine.Option) engine.Opener {
	return func(ctx context.Context) (*engine.Conn, error) {
		s, err := Connect(ctx, dsn, sessOpts...)
		if err != nil {
			return nil, err
		}
		return engine.NewConn(s, connOpts...), nil
	}
}

// Registry returns the type registry applied to this connection.
func (s *Session) Registry() *typereg.Registry {
	return s.registry
}

// LookupTypes implements typereg.Catalog.
func (s *Session) LookupTypes(ctx context.Context, names []string) (map[string]uint32, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT typname, oid FROM pg_catalog.pg_type WHERE typname = ANY($1)`, names)
	if err != nil {
		return nil, mapError("lookup types", err)
	}
	defer rows.Close()

	oids := make(map[string]uint32, len(names))
	for rows.Next() {
		var name string
		var oid uint32
		if err := rows.Scan(&name, &oid); err != nil {
			return nil, fmt.Errorf("lookup types: scan: %w", err)
		}
		oids[name] = oid
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("lookup types", err)
	}
	return oids, nil
}

// Begin sends BEGIN with the requested isolation level.
func (s *Session) Begin(ctx context.Context, opts session.TxOptions) error {
	_, err := s.conn.Exec(ctx, beginSQL(opts))
	if err != nil {
		return mapError("begin", err)
	}
	return nil
}

func beginSQL(opts session.TxOptions) string {
	iso := opts.Isolation
	if iso == "" {
		iso = session.DefaultIsolation
	}
	var b strings.Builder
	b.WriteString("BEGIN ISOLATION LEVEL ")
	b.WriteString(iso.SQL())
	if opts.ReadOnly {
		b.WriteString(" READ ONLY")
	}
	return b.String()
}

// Commit sends COMMIT. The server answers "ROLLBACK" when an earlier
// statement already aborted the transaction.
func (s *Session) Commit(ctx context.Context) (string, error) {
	tag, err := s.conn.Exec(ctx, "COMMIT")
	if err != nil {
		return "", mapError("commit", err)
	}
	return tag.String(), nil
}

func (s *Session) Rollback(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "ROLLBACK"); err != nil {
		return mapError("rollback", err)
	}
	return nil
}

// Query runs sql and materializes every row through the connection's type
// map.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (*session.Result, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &session.Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("query: decode row: %w", err)
		}
		result.Rows = append(result.Rows, vals)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError("query", err)
	}

	tag := rows.CommandTag()
	result.Command = tag.String()
	result.RowCount = tag.RowsAffected()
	return result, nil
}

// NextVals draws n values from the column's owned sequence.
func (s *Session) NextVals(ctx context.Context, field string, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	table, column, err := session.SplitField(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx,
		`SELECT nextval(pg_get_serial_sequence($1, $2)) FROM generate_series(1, $3)`,
		table, column, n)
	if err != nil {
		return nil, mapError("nextval", err)
	}
	vals, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapError("nextval", err)
	}
	return vals, nil
}

func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// mapError converts server errors into the session error taxonomy.
func mapError(op string, err error) error {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if pe.Code == session.CodeReadOnlyTransaction {
		return &session.ReadOnlyError{Op: op}
	}
	msg := pe.Message
	if pe.Detail != "" {
		msg += ": " + pe.Detail
	}
	return &session.DatabaseError{Code: pe.Code, Message: msg, Err: err}
}
