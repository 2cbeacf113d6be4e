package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/dbwork/internal/engine"
	"github.com/roach88/dbwork/internal/session"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Isolation string
	ReadOnly  bool
	Retry     bool
	Mutexes   []string
	Events    []string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run one statement inside a Work",
		Long: `Run one SQL statement inside a transactional Work and print the result.

Positional arguments after the statement are bound to $1, $2, ... as text.
With --retry the whole Work is replayed on serialization failures and
deadlocks. Named --mutex locks are held for the duration of the Work, and
--event names are broadcast once the Work commits.

Example:
  dbwork query "SELECT id, length FROM blob_registry"
  dbwork query --isolation serializable --retry \
      "UPDATE accounts SET balance = balance - $1 WHERE id = $2" 10 7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, cmd, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.Isolation, "isolation", "", "isolation level (defaults to config)")
	cmd.Flags().BoolVar(&opts.ReadOnly, "read-only", false, "begin a read-only transaction")
	cmd.Flags().BoolVar(&opts.Retry, "retry", false, "replay on serialization failure or deadlock")
	cmd.Flags().StringSliceVar(&opts.Mutexes, "mutex", nil, "named mutex to hold (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Events, "event", nil, "event to broadcast on commit (repeatable)")

	return cmd
}

func runQuery(ctx context.Context, opts *QueryOptions, cmd *cobra.Command, sql string, rawArgs []string) error {
	out := opts.formatter(cmd)

	isoName := opts.Isolation
	if isoName == "" {
		isoName = opts.Config.Isolation
	}
	iso, err := session.ParseIsolationLevel(isoName)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --isolation", err)
	}

	args := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = a
	}

	return withBackend(ctx, opts.RootOptions, func(b *backend) error {
		var result *session.Result
		wo := engine.WorkOptions{Isolation: iso, ReadOnly: opts.ReadOnly, Mutexes: opts.Mutexes}
		err := b.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
			for _, e := range opts.Events {
				if err := w.BroadcastOnCommit(e, nil); err != nil {
					return err
				}
			}
			var err error
			result, err = w.Query(ctx, sql, args...)
			return err
		}, b.runOptions(wo, opts.Retry))
		if err != nil {
			out.Error(ErrCodeQuery, err, nil)
			return WrapExitError(ExitFailure, "query failed", err)
		}
		out.VerboseLog("retries: %d", b.conn.Stats().Retries)
		return out.Result(result)
	})
}
