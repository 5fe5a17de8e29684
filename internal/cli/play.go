package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/model"
)

// NewPlayCommand creates the play command group.
func NewPlayCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Record and correct plays",
	}
	cmd.AddCommand(newPlayRecordCommand(opts))
	cmd.AddCommand(newPlayEditCommand(opts))
	cmd.AddCommand(newPlayDeleteCommand(opts))
	return cmd
}

// recordedPlay is the payload of play record: the new play and where it
// left the song.
type recordedPlay struct {
	ID         string           `json:"id"`
	Cumulative int64            `json:"cumulative"`
	Stats      ledger.SongStats `json:"stats"`
}

func newPlayRecordCommand(opts *RootOptions) *cobra.Command {
	var c ledger.RecordPlay
	cmd := &cobra.Command{
		Use:     "record",
		Short:   "Count plays of a song in a session",
		Example: `  etude play record --song $SONG --session $SESSION --count 3 --type practice`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				id, err := a.ledger.RecordPlay(ctx, c)
				if err != nil {
					return a.out.Fail(err)
				}
				n, err := a.ledger.PlayCumulative(ctx, id)
				if err != nil {
					return a.out.Fail(err)
				}
				st, err := a.ledger.SongStats(ctx, c.SongID)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(recordedPlay{ID: id, Cumulative: n, Stats: st}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ play %s: %d so far, %s of goal\n", id, n, percent(st.Progress))
				})
			})
		},
	}
	cmd.Flags().StringVar(&c.SongID, "song", "", "song id (required)")
	cmd.Flags().StringVar(&c.SessionID, "session", "", "session id (required)")
	cmd.Flags().Int64Var(&c.Count, "count", 1, "number of plays")
	cmd.Flags().StringVar(&c.PlayType, "type", "", "play type (learning|practice|review); default: the song's status")
	_ = cmd.MarkFlagRequired("song")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newPlayEditCommand(opts *RootOptions) *cobra.Command {
	var (
		count    int64
		playType string
	)
	cmd := &cobra.Command{
		Use:   "edit <play-id>",
		Short: "Change a play's count or type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ledger.EditPlay{PlayID: args[0]}
			if cmd.Flags().Changed("count") {
				c.Count = &count
			}
			if cmd.Flags().Changed("type") {
				c.PlayType = &playType
			}
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				if err := a.ledger.EditPlay(ctx, c); err != nil {
					return a.out.Fail(err)
				}
				n, err := a.ledger.PlayCumulative(ctx, args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(map[string]any{"id": args[0], "cumulative": n}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ play %s: %d so far\n", args[0], n)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&count, "count", 0, "number of plays")
	cmd.Flags().StringVar(&playType, "type", "", "play type (learning|practice|review)")
	return cmd
}

func newPlayDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <play-id>",
		Short: "Delete a play",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := ctxOf(cmd)
				if _, err := a.store.Play(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				if err := a.ledger.Delete(ctx, args[0]); err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ deleted play %s\n", args[0])
				})
			})
		},
	}
}

// NewNoteCommand creates the note command group.
func NewNoteCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Write practice notes",
	}

	var (
		c      ledger.AddNote
		sketch string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a note to a session, a song or the student directly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sketch != "" {
				data, err := os.ReadFile(sketch)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read sketch", err)
				}
				c.Sketch = data
			}
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.AddNote(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindNote, id)
			})
		},
	}
	add.Flags().StringVar(&c.StudentID, "student", "", "student id (required)")
	add.Flags().StringVar(&c.SessionID, "session", "", "session id")
	add.Flags().StringVar(&c.Text, "text", "", "note text")
	add.Flags().StringVar(&sketch, "sketch", "", "file holding a drawing to attach")
	add.Flags().StringVar(&c.Day, "day", "", "calendar day (YYYY-MM-DD)")
	add.Flags().BoolVar(&c.Direct, "direct", false, "attach to the student directly")
	add.Flags().StringSliceVar(&c.SongIDs, "song", nil, "tag a song (repeatable)")
	_ = add.MarkFlagRequired("student")
	cmd.AddCommand(add)
	return cmd
}

// NewMediaCommand creates the media command group, covering song media
// and session recordings.
func NewMediaCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Attach media to songs and recordings to sessions",
	}
	cmd.AddCommand(newMediaAddCommand(opts))
	cmd.AddCommand(newRecordingAddCommand(opts))
	return cmd
}

func newMediaAddCommand(opts *RootOptions) *cobra.Command {
	var (
		c    ledger.AddMedia
		file string
	)
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Link a URL or embed a file for a song",
		Example: `  etude media add --song $SONG --kind youtube --url https://youtu.be/abc`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read media file", err)
				}
				c.Data = data
			}
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.AddMedia(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindMediaReference, id)
			})
		},
	}
	cmd.Flags().StringVar(&c.SongID, "song", "", "song id (required)")
	cmd.Flags().StringVar(&c.MediaKind, "kind", "", "media kind (audio_recording|youtube|spotify|apple_music|sheet_music|local_video)")
	cmd.Flags().StringVar(&c.URL, "url", "", "media URL")
	cmd.Flags().StringVar(&file, "file", "", "file to embed instead of a URL")
	_ = cmd.MarkFlagRequired("song")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newRecordingAddCommand(opts *RootOptions) *cobra.Command {
	var (
		c    ledger.AddRecording
		file string
		at   string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Attach an audio recording to a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read recording", err)
				}
				c.Data = data
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --at (want RFC 3339)", err)
				}
				c.RecordedAt = t
			}
			return withApp(cmd, opts, func(a *app) error {
				id, err := a.ledger.AddRecording(ctxOf(cmd), c)
				if err != nil {
					return a.out.Fail(err)
				}
				return emitCreated(a, model.KindRecording, id)
			})
		},
	}
	cmd.Flags().StringVar(&c.SessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&file, "file", "", "audio file")
	cmd.Flags().Int64Var(&c.DurationSeconds, "seconds", 0, "duration in seconds")
	cmd.Flags().StringVar(&at, "at", "", "recording time (RFC 3339); default now")
	cmd.Flags().StringSliceVar(&c.SongIDs, "song", nil, "tag a song (repeatable)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
