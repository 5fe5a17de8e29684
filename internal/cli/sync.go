package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/etude/internal/replica"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch    bool
	Interval time.Duration // overrides sync.interval when set
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replicate the ledger with other devices",
		Long: `Exchange changes with other devices over Redis streams.

Each partition is pulled first, then local changes are pushed. Concurrent
edits merge field by field; the later edit wins, and deletes win over
edits. Without --watch, sync runs once and prints what moved.

The Redis server comes from redis.addr in etude.cue or ETUDE_REDIS_ADDR.

Examples:
  etude sync
  etude sync --watch --interval 1m
  ETUDE_REDIS_ADDR=localhost:6379 etude sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(a *app) error {
				return runSync(cmd, a, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep syncing until interrupted")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between syncs with --watch (default: sync.interval)")
	return cmd
}

func runSync(cmd *cobra.Command, a *app, opts *SyncOptions) error {
	ctx := ctxOf(cmd)

	t, err := a.transport(ctx)
	if err != nil {
		_ = a.out.Error(ErrCodeSync, err.Error(), nil)
		return WrapExitError(ExitCommandError, "no transport", err)
	}

	device := a.device()
	syncer := replica.NewSyncer(a.store, t, a.cfg.Account, device,
		replica.WithLogger(a.logger),
		replica.WithBatchSize(a.cfg.Sync.BatchSize))
	a.out.VerboseLog("syncing account %s as device %s", a.cfg.Account, device)

	if !opts.Watch {
		reports, err := syncer.Sync(ctx)
		if err != nil {
			_ = a.out.Error(ErrCodeSync, err.Error(), reports)
			return WrapExitError(ExitFailure, "sync failed", err)
		}
		return a.out.Emit(reports, func(w io.Writer) {
			tw := newTable(w)
			fmt.Fprintln(tw, "PARTITION\tPUSHED\tPULLED\tDUPLICATE\tPARKED\tUNRESOLVED\tREJECTED")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
					r.Partition, r.Pushed, r.Pulled, r.Duplicates, r.Parked, r.Unresolved, r.Rejected)
			}
			tw.Flush()
		})
	}

	interval := opts.Interval
	if interval == 0 {
		if interval, err = a.cfg.Sync.IntervalDuration(); err != nil {
			return WrapExitError(ExitCommandError, "invalid sync interval", err)
		}
	}
	return watchSync(ctx, cmd, a, syncer, interval)
}

// watchSync runs the syncer and the engine's background refresh until
// interrupted.
func watchSync(parent context.Context, cmd *cobra.Command, a *app, syncer *replica.Syncer, interval time.Duration) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = a.engine.Run(ctx)
	}()
	defer func() {
		a.engine.Close()
		<-engineDone
	}()

	sub := syncer.Watch(ctx, a.notifier)
	defer sub.Unsubscribe()

	a.logger.Info("sync started", zap.Duration("interval", interval))
	fmt.Fprintf(cmd.OutOrStdout(), "Syncing every %s. Press Ctrl-C to stop.\n", interval)

	err := syncer.Run(ctx, interval)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync error", err)
	}
	a.logger.Info("sync stopped")
	return nil
}
