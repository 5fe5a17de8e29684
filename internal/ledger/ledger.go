package ledger

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/roach88/etude/internal/engine"
	"github.com/roach88/etude/internal/store"
)

// Ledger executes presentation commands and answers presentation queries.
type Ledger struct {
	store        *store.Store
	engine       *engine.Engine
	entitlements Entitlements
	validate     *validator.Validate
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEntitlements sets the quota check. Default: Unlimited.
func WithEntitlements(e Entitlements) Option {
	return func(l *Ledger) {
		l.entitlements = e
	}
}

// WithNow sets the wall clock used for award dates and recording times.
// Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = log
	}
}

// New creates a Ledger. eng must be subscribed to the notifier s publishes
// to, or aggregates will go stale.
func New(s *store.Store, eng *engine.Engine, opts ...Option) *Ledger {
	l := &Ledger{
		store:        s,
		engine:       eng,
		entitlements: Unlimited{},
		validate:     newValidator(),
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying entity store.
func (l *Ledger) Store() *store.Store {
	return l.store
}

// Engine returns the aggregation engine.
func (l *Ledger) Engine() *engine.Engine {
	return l.engine
}

// Delete removes any entity and its cascade.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	return l.store.Delete(ctx, id)
}
