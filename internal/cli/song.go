package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/model"
)

// NewSongCommand creates the song command group.
func NewSongCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "song",
		Short: "Manage a student's repertoire",
	}
	cmd.AddCommand(newSongAddCommand(opts))
	cmd.AddCommand(newSongUpdateCommand(opts))
	cmd.AddCommand(newSongDeleteCommand(opts))
	cmd.AddCommand(newSongListCommand(opts))
	cmd.AddCommand(newSongStatsCommand(opts))
	cmd.AddCommand(newSongHistoryCommand(opts))
	return cmd
}

func newSongAddCommand(opts *RootOptions) *cobra.Command {
	var c ledger.CreateSong
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a song",
		Example: `  etude song add --student $ID --title "Minuet in G" --goal 20 --status learning`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.CreateSong(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindSong, id)
			})
		},
	}
	cmd.Flags().StringVar(&c.StudentID, "student", "", "student id (required)")
	cmd.Flags().StringVar(&c.Title, "title", "", "title (required)")
	cmd.Flags().StringVar(&c.Composer, "composer", "", "composer")
	cmd.Flags().Int64Var(&c.GoalPlays, "goal", 0, "goal play count (0 = no goal)")
	cmd.Flags().StringVar(&c.PieceType, "type", "", "piece type (song|scale|warm_up|exercise)")
	cmd.Flags().StringVar(&c.Status, "status", "", "status (learning|practice|review)")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newSongUpdateCommand(opts *RootOptions) *cobra.Command {
	var (
		title, composer, pieceType, status string
		goalPlays                          int64
	)
	cmd := &cobra.Command{
		Use:   "update <song-id>",
		Short: "Change a song's fields; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ledger.UpdateSong{SongID: args[0]}
			flags := cmd.Flags()
			if flags.Changed("title") {
				c.Title = &title
			}
			if flags.Changed("composer") {
				c.Composer = &composer
			}
			if flags.Changed("goal") {
				c.GoalPlays = &goalPlays
			}
			if flags.Changed("type") {
				c.PieceType = &pieceType
			}
			if flags.Changed("status") {
				c.Status = &status
			}
			return withApp(cmd, opts, func(a *app) error {
				if err := a.ledger.UpdateSong(ctxOf(cmd), c); err != nil {
					return a.out.Fail(err)
				}
				return emitSongStats(cmd, a, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&composer, "composer", "", "composer")
	cmd.Flags().Int64Var(&goalPlays, "goal", 0, "goal play count (0 = no goal)")
	cmd.Flags().StringVar(&pieceType, "type", "", "piece type (song|scale|warm_up|exercise)")
	cmd.Flags().StringVar(&status, "status", "", "status (learning|practice|review)")
	return cmd
}

func newSongDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <song-id>",
		Short: "Delete a song with its plays and media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.ledger.DeleteSong(ctxOf(cmd), args[0]); err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ deleted song %s\n", args[0])
				})
			})
		},
	}
}

func newSongListCommand(opts *RootOptions) *cobra.Command {
	var studentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a student's songs by title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				if _, err := a.store.Student(ctx, studentID); err != nil {
					return a.out.Fail(err)
				}
				songs, err := a.store.SongsByTitle(ctx, studentID)
				if err != nil {
					return a.out.Fail(err)
				}
				stats := make([]ledger.SongStats, 0, len(songs))
				for _, s := range songs {
					st, err := a.ledger.SongStats(ctx, s.ID)
					if err != nil {
						return a.out.Fail(err)
					}
					stats = append(stats, st)
				}
				return a.out.Emit(stats, func(w io.Writer) {
					if len(stats) == 0 {
						fmt.Fprintln(w, "No songs.")
						return
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "ID\tTITLE\tPLAYS\tGOAL\tPROGRESS\tLAST PLAYED")
					for _, s := range stats {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
							s.SongID, s.Title, s.TotalPlayCount, goal(s.GoalPlays), percent(s.Progress), s.LastPlayedDate)
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

func newSongStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <song-id>",
		Short: "Show a song's totals and goal progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return emitSongStats(cmd, a, args[0])
			})
		},
	}
}

func emitSongStats(cmd *cobra.Command, a *app, songID string) error {
	st, err := a.ledger.SongStats(ctxOf(cmd), songID)
	if err != nil {
		return a.out.Fail(err)
	}
	return a.out.Emit(st, func(w io.Writer) {
		tw := newTable(w)
		fmt.Fprintf(tw, "Song:\t%s (%s)\n", st.Title, st.SongID)
		fmt.Fprintf(tw, "Plays:\t%d\n", st.TotalPlayCount)
		for _, t := range model.PlayTypes {
			if n, ok := st.TypeTotals[t]; ok {
				fmt.Fprintf(tw, "  %s:\t%d\n", t, n)
			}
		}
		fmt.Fprintf(tw, "Goal:\t%s\n", goal(st.GoalPlays))
		fmt.Fprintf(tw, "Progress:\t%s\n", percent(st.Progress))
		if !st.LastPlayedDate.IsZero() {
			fmt.Fprintf(tw, "Last played:\t%s\n", st.LastPlayedDate)
		}
		tw.Flush()
	})
}

func newSongHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <song-id>",
		Short: "List a song's plays with running totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				plays, err := a.ledger.SongHistory(ctxOf(cmd), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(plays, func(w io.Writer) {
					if len(plays) == 0 {
						fmt.Fprintln(w, "No plays.")
						return
					}
					tw := newTable(w)
					fmt.Fprintln(tw, "DAY\tTYPE\tCOUNT\tCUMULATIVE\tPLAY")
					for _, p := range plays {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", dayOrDash(p.Day), p.PlayType, p.Count, p.Cumulative, p.PlayID)
					}
					tw.Flush()
				})
			})
		},
	}
}

func goal(n int64) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func percent(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}

func dayOrDash(d model.Date) string {
	if d.IsZero() {
		return "-"
	}
	return string(d)
}
