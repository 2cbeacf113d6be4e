package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dbwork/internal/codec"
	"github.com/roach88/dbwork/internal/engine"
)

// BlobOptions holds flags for the blob subcommands.
type BlobOptions struct {
	*RootOptions
	Text bool
}

// BlobOutput describes a stored blob.
type BlobOutput struct {
	ID     string `json:"id"`
	Length int64  `json:"length"`
	Path   string `json:"path"`
}

func (o BlobOutput) String() string {
	if o.ID == "" {
		return "empty input, nothing stored"
	}
	return fmt.Sprintf("%s\t%d\t%s", o.ID, o.Length, o.Path)
}

// NewBlobCommand creates the blob command group.
func NewBlobCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BlobOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Store and read blobs",
	}

	put := &cobra.Command{
		Use:   "put <file|->",
		Short: "Upload a file into the blob store",
		Long: `Upload a file (or stdin with "-") inside a Work. The blob file is written
first; its registry row commits with the Work. Empty input stores nothing.

Example:
  dbwork blob put ./report.pdf
  cat notes.txt | dbwork blob put -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlobPut(cmd.Context(), opts, cmd, args[0])
		},
	}

	cat := &cobra.Command{
		Use:   "cat <id>",
		Short: "Write a stored blob to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlobCat(cmd.Context(), opts, cmd, args[0])
		},
	}
	cat.Flags().BoolVar(&opts.Text, "text", false, "decode as text, honoring a byte-order mark")

	cmd.AddCommand(put, cat)
	return cmd
}

func runBlobPut(ctx context.Context, opts *BlobOptions, cmd *cobra.Command, name string) error {
	out := opts.formatter(cmd)

	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	return withBackend(ctx, opts.RootOptions, func(b *backend) error {
		var result BlobOutput
		err := b.conn.RunInWork(ctx, func(ctx context.Context, w *engine.Work) error {
			h, err := w.UploadBlob(ctx, data)
			if err != nil || h == nil {
				return err
			}
			path, err := h.Path()
			if err != nil {
				return err
			}
			result = BlobOutput{ID: h.ID(), Length: h.Length(), Path: path}
			return nil
		}, b.runOptions(engine.WorkOptions{}, true))
		if err != nil {
			out.Error(ErrCodeBlob, err, nil)
			return WrapExitError(ExitFailure, "blob upload failed", err)
		}
		if result.ID == "" {
			out.VerboseLog("empty input; nothing stored")
		}
		return out.Success(result)
	})
}

func runBlobCat(ctx context.Context, opts *BlobOptions, cmd *cobra.Command, id string) error {
	out := opts.formatter(cmd)

	return withBackend(ctx, opts.RootOptions, func(b *backend) error {
		res, err := b.conn.Query(ctx, `SELECT length FROM blob_registry WHERE id = $1`, id)
		if err != nil {
			out.Error(ErrCodeBlob, err, nil)
			return WrapExitError(ExitFailure, "blob lookup failed", err)
		}
		if len(res.Rows) == 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("blob %s not found", id))
		}
		length, ok := res.Rows[0][0].(int64)
		if !ok {
			return NewExitError(ExitFailure, fmt.Sprintf("blob %s: unexpected length %v", id, res.Rows[0][0]))
		}

		h := b.blobs.Open(codec.BlobRef{ID: id, Length: length})
		w := cmd.OutOrStdout()
		if opts.Text {
			text, err := h.Text()
			if err != nil {
				return WrapExitError(ExitFailure, "blob read failed", err)
			}
			_, err = io.WriteString(w, text)
			return err
		}
		data, err := h.Bytes()
		if err != nil {
			return WrapExitError(ExitFailure, "blob read failed", err)
		}
		_, err = w.Write(data)
		return err
	})
}
