package cli

import (
	"context"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/dbwork/internal/config"
	"github.com/roach88/dbwork/internal/pg"
	"github.com/roach88/dbwork/internal/store"
)

// SchemaOptions holds flags for the schema command.
type SchemaOptions struct {
	*RootOptions
	Apply bool
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or apply the registry schema",
		Long: `Print the DDL for the blob registry (and, on PostgreSQL, the blob_ref
composite type). With --apply the DDL is installed; SQLite databases are
created and migrated on open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "install the schema")

	return cmd
}

func runSchema(ctx context.Context, opts *SchemaOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg := opts.Config

	ddl := store.Schema()
	if cfg.Backend == config.BackendPostgres {
		ddl = pg.Schema()
	}
	if !opts.Apply {
		return out.Success(ddl)
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		if err := pg.ApplySchema(ctx, cfg.DSN); err != nil {
			out.Error(ErrCodeConnect, err, nil)
			return WrapExitError(ExitCommandError, "failed to apply schema", err)
		}
	default:
		st, err := openStore(cfg, opts.Logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}
	out.VerboseLog("schema applied to %s", cfg.Backend)
	return out.Success(map[string]string{"backend": cfg.Backend, "status": "applied"})
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
