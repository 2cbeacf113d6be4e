package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dbwork/internal/config"
)

// BootstrapOutput reports the outcome of the type bootstrap.
type BootstrapOutput struct {
	Backend       string            `json:"backend"`
	Types         map[string]uint32 `json:"types,omitempty"`
	SchemaVersion int               `json:"schema_version,omitempty"`
}

func (o BootstrapOutput) String() string {
	if o.Backend != config.BackendPostgres {
		return fmt.Sprintf("%s: minimal connection, no type bootstrap (schema version %d)", o.Backend, o.SchemaVersion)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d types registered", o.Backend, len(o.Types))
	for _, name := range sortedKeys(o.Types) {
		fmt.Fprintf(&b, "\n  %s\t%d", name, o.Types[name])
	}
	return b.String()
}

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Resolve server type identifiers and install codecs",
		Long: `Connect once, resolve the identifiers of the server-specific types
(blob_ref) and report them. Fails with a configuration error when a required
type is missing; run "dbwork schema --apply" first.

SQLite connections are minimal and skip the bootstrap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runBootstrap(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	return withBackend(ctx, opts, func(b *backend) error {
		result := BootstrapOutput{Backend: opts.Config.Backend}
		if b.registry != nil {
			result.Types = make(map[string]uint32)
			for _, name := range b.registry.Names() {
				oid, _ := b.registry.OID(name)
				result.Types[name] = oid
			}
		}
		if b.store != nil {
			v, err := b.store.SchemaVersion()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read schema version", err)
			}
			result.SchemaVersion = v
		}
		return out.Success(result)
	})
}
