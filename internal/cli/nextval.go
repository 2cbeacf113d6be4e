package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dbwork/internal/engine"
)

// NextvalOptions holds flags for the nextval command.
type NextvalOptions struct {
	*RootOptions
	Count int
}

// NewNextvalCommand creates the nextval command.
func NewNextvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NextvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "nextval <table.column>",
		Short: "Allocate sequence values for a column",
		Long: `Allocate one or more values from the sequence behind a column.

Example:
  dbwork nextval orders.id
  dbwork nextval orders.id -n 10 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNextval(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of values to allocate")

	return cmd
}

func runNextval(ctx context.Context, opts *NextvalOptions, cmd *cobra.Command, field string) error {
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--count must be positive, got %d", opts.Count))
	}
	out := opts.formatter(cmd)

	return withBackend(ctx, opts.RootOptions, func(b *backend) error {
		var vals []int64
		err := b.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
			var err error
			vals, err = w.NextVals(ctx, field, opts.Count)
			return err
		}, b.runOptions(engine.WorkOptions{}, true))
		if err != nil {
			out.Error(ErrCodeQuery, err, map[string]string{"field": field})
			return WrapExitError(ExitFailure, "nextval failed", err)
		}

		if opts.Format == "json" {
			return out.Success(map[string]any{"field": field, "values": vals})
		}
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprint(v)
		}
		return out.Success(strings.Join(strs, "\n"))
	})
}
