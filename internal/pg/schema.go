package pg

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL that creates the blob_ref type and blob_registry.
func Schema() string {
	return schemaSQL
}

// ApplySchema installs the schema over a plain connection. It does not
// bootstrap, since Connect fails until blob_ref exists.
func ApplySchema(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return mapError("apply schema", err)
	}
	return nil
}
