package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/model"
)

// created is the payload of every command that creates an entity.
type created struct {
	ID   string     `json:"id"`
	Kind model.Kind `json:"kind"`
}

func emitCreated(a *app, k model.Kind, id string) error {
	return a.out.Emit(created{ID: id, Kind: k}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s %s\n", k, id)
	})
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// NewStudentCommand creates the student command group.
func NewStudentCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Manage students",
	}
	cmd.AddCommand(newStudentAddCommand(opts))
	cmd.AddCommand(newStudentListCommand(opts))
	cmd.AddCommand(newStudentSummaryCommand(opts))
	cmd.AddCommand(newStudentAwardsCommand(opts))
	cmd.AddCommand(newStudentUsageCommand(opts))
	return cmd
}

func newStudentAddCommand(opts *RootOptions) *cobra.Command {
	var c ledger.CreateStudent
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a student",
		Example: `  etude student add --name "Ada" --instrument piano`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.CreateStudent(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindStudent, id)
			})
		},
	}
	cmd.Flags().StringVar(&c.Name, "name", "", "student name (required)")
	cmd.Flags().StringVar(&c.Instrument, "instrument", "", "instrument")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newStudentListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List students",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				students, err := a.store.Students(ctxOf(cmd))
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(students, func(w io.Writer) {
					if len(students) == 0 {
						fmt.Fprintln(w, "No students.")
						return
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "ID\tNAME\tINSTRUMENT\tPARTITION")
					for _, s := range students {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Instrument, s.Partition)
					}
					tw.Flush()
				})
			})
		},
	}
}

func newStudentSummaryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <student-id>",
		Short: "Show a student's practice totals and longest streak",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				sum, err := a.ledger.PracticeSummary(ctxOf(cmd), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(sum, func(w io.Writer) {
					tw := newTable(w)
					fmt.Fprintf(tw, "Sessions:\t%d\n", sum.Sessions)
					fmt.Fprintf(tw, "Minutes:\t%d\n", sum.TotalMinutes)
					fmt.Fprintf(tw, "Songs:\t%d (%d at goal)\n", sum.Songs, sum.GoalsReached)
					fmt.Fprintf(tw, "Plays:\t%d\n", sum.TotalPlays)
					if !sum.FirstDay.IsZero() {
						fmt.Fprintf(tw, "Days:\t%s .. %s\n", sum.FirstDay, sum.LastDay)
					}
					fmt.Fprintf(tw, "Longest streak:\t%d day(s)\n", sum.LongestStreak)
					tw.Flush()
				})
			})
		},
	}
}

func newStudentAwardsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "awards <student-id>",
		Short: "Grant earned awards and list them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				granted, err := a.ledger.EvaluateAwards(ctx, args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				for _, g := range granted {
					a.out.VerboseLog("granted %s (count %d)", g.AwardKind, g.Count)
				}
				awards, err := a.store.AwardsOf(ctx, args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(awards, func(w io.Writer) {
					if len(awards) == 0 {
						fmt.Fprintln(w, "No awards yet.")
						return
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "AWARD\tWON\tCOUNT")
					for _, aw := range awards {
						fmt.Fprintf(tw, "%s\t%s\t%d\n", aw.AwardKind, aw.DateWon, aw.Count)
					}
					tw.Flush()
				})
			})
		},
	}
}

func newStudentUsageCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <student-id>",
		Short: "Show creation counters and configured quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				if _, err := a.store.Student(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				usage, err := a.store.Usage(ctx, args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				data := map[string]any{
					"usage": usage,
					"quota": a.cfg.Quota,
				}
				return a.out.Emit(data, func(w io.Writer) {
					tw := newTable(w)
					fmt.Fprintf(tw, "Sessions created:\t%d\t%s\n", usage.SessionsCreated, limit(a.cfg.Quota.MaxSessions))
					fmt.Fprintf(tw, "Songs created:\t%d\t%s\n", usage.SongsCreated, limit(a.cfg.Quota.MaxSongs))
					fmt.Fprintf(tw, "Plays recorded:\t%d\t\n", usage.PlaysRecorded)
					tw.Flush()
				})
			})
		},
	}
}

func limit(n int) string {
	if n == 0 {
		return "(unlimited)"
	}
	return fmt.Sprintf("(limit %d)", n)
}

// NewInstructorCommand creates the instructor command group.
func NewInstructorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instructor",
		Short: "Manage a student's instructors",
	}

	var c ledger.CreateInstructor
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an instructor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.CreateInstructor(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindInstructor, id)
			})
		},
	}
	add.Flags().StringVar(&c.StudentID, "student", "", "student id (required)")
	add.Flags().StringVar(&c.Name, "name", "", "instructor name (required)")
	_ = add.MarkFlagRequired("student")
	_ = add.MarkFlagRequired("name")
	cmd.AddCommand(add)
	return cmd
}
