package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/replica"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // etude.cue path; empty reads ./etude.cue when present
	EnvFile string // .env path; empty reads ./.env when present
	DB      string // overrides the configured database path

	// IDs overrides the id generator (for testing).
	// If nil, defaults to model.UUIDv7Generator.
	IDs model.IDGenerator

	// Now overrides the wall clock (for testing). If nil, time.Now.
	Now func() time.Time

	// LogSink overrides the console log destination (for testing).
	// If nil, logs go to the command's stderr.
	LogSink zapcore.WriteSyncer

	// Transport overrides the replication transport (for testing).
	// If nil, sync dials the configured Redis.
	Transport replica.Transport
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the etude CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command around preset options.
// Flag-backed fields are reset to their flag defaults; only the test hooks
// carry over.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etude",
		Short: "etude - a practice ledger for musicians",
		Long: `A local-first practice ledger. Students log sessions and plays per song;
etude keeps cumulative counts, goal progress and awards up to date and
replicates the ledger between devices.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default ./etude.cue)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default ./.env)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewStudentCommand(opts))
	cmd.AddCommand(NewInstructorCommand(opts))
	cmd.AddCommand(NewSongCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewNoteCommand(opts))
	cmd.AddCommand(NewMediaCommand(opts))
	cmd.AddCommand(NewShareCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
