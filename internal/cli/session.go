package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/model"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage practice sessions",
	}
	cmd.AddCommand(newSessionAddCommand(opts))
	cmd.AddCommand(newSessionRedateCommand(opts))
	cmd.AddCommand(newSessionDeleteCommand(opts))
	cmd.AddCommand(newSessionListCommand(opts))
	cmd.AddCommand(newSessionShowCommand(opts))
	return cmd
}

func newSessionAddCommand(opts *RootOptions) *cobra.Command {
	var c ledger.CreateSession
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Record a practice session",
		Example: `  etude session add --student $ID --day 2024-03-01 --minutes 30 --location home`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.CreateSession(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindSession, id)
			})
		},
	}
	cmd.Flags().StringVar(&c.StudentID, "student", "", "student id (required)")
	cmd.Flags().StringVar(&c.InstructorID, "instructor", "", "instructor id")
	cmd.Flags().StringVar(&c.Day, "day", "", "calendar day (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&c.DurationMinutes, "minutes", 0, "duration in minutes")
	cmd.Flags().StringVar(&c.Location, "location", "", "location (home|school|lesson|other)")
	cmd.Flags().StringVar(&c.Title, "title", "", "title")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func newSessionRedateCommand(opts *RootOptions) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "redate <session-id>",
		Short: "Move a session to another day; plays in it are reordered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				err := a.ledger.RedateSession(ctxOf(cmd), ledger.RedateSession{SessionID: args[0], Day: day})
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(map[string]string{"session_id": args[0], "day": day}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ session %s moved to %s\n", args[0], dayOrDash(model.Date(day)))
				})
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "new calendar day (YYYY-MM-DD); empty clears it")
	return cmd
}

func newSessionDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its plays, recordings and session notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.ledger.DeleteSession(ctxOf(cmd), args[0]); err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ deleted session %s\n", args[0])
				})
			})
		},
	}
}

func newSessionListCommand(opts *RootOptions) *cobra.Command {
	var studentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a student's sessions, newest day first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				if _, err := a.store.Student(ctx, studentID); err != nil {
					return a.out.Fail(err)
				}
				sessions, err := a.store.SessionsByDay(ctx, studentID)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(sessions, func(w io.Writer) {
					if len(sessions) == 0 {
						fmt.Fprintln(w, "No sessions.")
						return
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "ID\tDAY\tMINUTES\tLOCATION\tTITLE")
					for _, s := range sessions {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, dayOrDash(s.Day), s.DurationMinutes, s.Location, s.Title)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&studentID, "student", "", "student id (required)")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

// sessionView is a session with everything recorded in it.
type sessionView struct {
	Session    model.Session     `json:"session"`
	Plays      []model.Play      `json:"plays"`
	Recordings []model.Recording `json:"recordings"`
	Notes      []model.Note      `json:"notes"`
}

func newSessionShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's plays, recordings and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				var v sessionView
				var err error
				if v.Session, err = a.store.Session(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				if v.Plays, err = a.store.PlaysInSession(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				if v.Recordings, err = a.store.RecordingsInSession(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				if v.Notes, err = a.store.NotesByText(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(v, func(w io.Writer) {
					s := v.Session
					fmt.Fprintf(w, "Session %s on %s (%d min, %s)\n", s.ID, dayOrDash(s.Day), s.DurationMinutes, s.Location)
					tw := newTable(w)
					for _, p := range v.Plays {
						fmt.Fprintf(tw, "  play\t%s\t%s\tx%d\n", p.SongID, p.PlayType, p.Count)
					}
					for _, r := range v.Recordings {
						fmt.Fprintf(tw, "  recording\t%s\t%ds\t\n", r.RecordedAt.Format("2006-01-02 15:04"), r.DurationSeconds)
					}
					for _, n := range v.Notes {
						fmt.Fprintf(tw, "  note\t%s\t\t\n", n.Text)
					}
					tw.Flush()
				})
			})
		},
	}
}
