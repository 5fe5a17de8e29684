package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/etude/internal/config"
	"github.com/roach88/etude/internal/engine"
	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/logging"
	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/notify"
	"github.com/roach88/etude/internal/partition"
	"github.com/roach88/etude/internal/replica"
	"github.com/roach88/etude/internal/store"
	"github.com/roach88/etude/internal/transport/redisstream"
)

// app is one command's wiring: config, logger, store, notifier, engine,
// ledger and partition router over a single database.
type app struct {
	opts     *RootOptions
	cfg      *config.Config
	logger   *zap.Logger
	out      *OutputFormatter
	store    *store.Store
	notifier *notify.Notifier
	engine   *engine.Engine
	ledger   *ledger.Ledger
	router   *partition.Router

	closers []func() error
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	var copts []config.Option
	if opts.EnvFile != "" {
		copts = append(copts, config.WithEnvFile(opts.EnvFile))
	}
	cfg, err := config.Load(opts.Config, copts...)
	if err != nil {
		return nil, err
	}
	if opts.DB != "" {
		cfg.DB = opts.DB
	}
	return cfg, nil
}

// openApp loads the configuration and opens the ledger for cmd. Callers
// must Close the returned app.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	out := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	sink := opts.LogSink
	if sink == nil {
		sink = zapcore.AddSync(cmd.ErrOrStderr())
	}
	logger, closeLog, err := logging.New(cfg.Log, logging.Options{Console: sink, Verbose: opts.Verbose})
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	a := &app{opts: opts, cfg: cfg, logger: logger, out: out}
	a.closers = append(a.closers, closeLog)

	ids := opts.IDs
	if ids == nil {
		ids = model.UUIDv7Generator{}
	}

	a.notifier = notify.New(notify.WithLogger(logger))
	logger.Debug("opening database", zap.String("path", cfg.DB), zap.String("config", cfg.Source))
	st, err := store.Open(cfg.DB,
		store.WithPublisher(a.notifier),
		store.WithLogger(logger),
		store.WithIDGenerator(ids))
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		_ = a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	a.engine = engine.New(st, engine.WithLogger(logger))
	a.notifier.Subscribe(ctxOf(cmd), a.engine)

	lopts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.Quota.MaxSessions > 0 || cfg.Quota.MaxSongs > 0 {
		lopts = append(lopts, ledger.WithEntitlements(ledger.NewQuotaEntitlements(st, ledger.Limits{
			MaxSessions: int64(cfg.Quota.MaxSessions),
			MaxSongs:    int64(cfg.Quota.MaxSongs),
		})))
	}
	if opts.Now != nil {
		lopts = append(lopts, ledger.WithNow(opts.Now))
	}
	a.ledger = ledger.New(st, a.engine, lopts...)
	a.router = partition.New(st, partition.WithLogger(logger))
	return a, nil
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// device names this replica. The configured device wins, then the host name.
func (a *app) device() string {
	if a.cfg.Device != "" {
		return a.cfg.Device
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}

// transport returns the replication transport: the preset one, or Redis
// streams at redis.addr.
func (a *app) transport(ctx context.Context) (replica.Transport, error) {
	if a.opts.Transport != nil {
		return a.opts.Transport, nil
	}
	if a.cfg.Redis.Addr == "" {
		return nil, errors.New("redis.addr is not configured (set it in etude.cue or ETUDE_REDIS_ADDR)")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	t, err := redisstream.DialOptions(dialCtx, &redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	},
		redisstream.WithPrefix(a.cfg.Redis.Prefix),
		redisstream.WithMaxLen(int64(a.cfg.Redis.MaxLen)))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, t.Close)
	return t, nil
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("close", zap.Error(err))
		}
	}()
	return fn(a)
}

// ctxOf returns the command's context, or Background when run outside
// Execute.
func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
