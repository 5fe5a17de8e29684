package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/partition"
)

// ShareOptions holds flags for the share command.
type ShareOptions struct {
	*RootOptions
	Check bool // preflight only
}

// NewShareCommand creates the share command.
func NewShareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "share <student-id>",
		Short: "Move a student and all their data into the shared partition",
		Long: `Move a student, and everything the student owns, from the private
partition into the shared partition in one step. There is no way back.

The move is refused while any of the student's data references another
student's data that is still private (for example an instructor used by
both). Share that data first.

Exit codes:
  0 - Transferred (or, with --check, transferable)
  1 - Refused: already shared, blocked by private references, or not found
  2 - Command error

Examples:
  etude share $STUDENT --check
  etude share $STUDENT --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(a *app) error {
				return runShare(cmd, a, opts, args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "report whether the transfer would succeed without moving anything")
	return cmd
}

type shareResult struct {
	StudentID string          `json:"student_id"`
	Partition model.Partition `json:"partition"`
	Checked   bool            `json:"checked,omitempty"`
}

func runShare(cmd *cobra.Command, a *app, opts *ShareOptions, studentID string) error {
	ctx := ctxOf(cmd)

	if opts.Check {
		if err := a.router.Preflight(ctx, studentID); err != nil {
			return a.out.Fail(err)
		}
		res := shareResult{StudentID: studentID, Partition: model.PartitionPrivate, Checked: true}
		return a.out.Emit(res, func(w io.Writer) {
			fmt.Fprintf(w, "✓ %s can be shared\n", studentID)
		})
	}

	if err := a.router.TransferToShared(ctx, studentID); err != nil {
		failed := a.out.Fail(err)
		var pe *partition.PreconditionError
		if errors.As(err, &pe) && a.out.Format != "json" {
			fmt.Fprintln(a.out.Writer, "Share these first:")
			for _, ref := range pe.Refs {
				fmt.Fprintf(a.out.Writer, "  %s %s.%s -> %s %s (owner %s)\n",
					ref.FromKind, ref.FromID, ref.Field, ref.ToKind, ref.ToID, ref.Other)
			}
		}
		return failed
	}

	p, err := a.router.PartitionOf(ctx, studentID)
	if err != nil {
		return a.out.Fail(err)
	}
	res := shareResult{StudentID: studentID, Partition: p}
	return a.out.Emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s moved to %s\n", studentID, p)
	})
}
