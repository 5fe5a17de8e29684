package replica

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/conflict"
	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/notify"
	"github.com/roach88/etude/internal/store"
)

// DefaultBatchSize is how many messages one Fetch reads.
const DefaultBatchSize = 256

// Store is the storage side of replication. Implemented by *store.Store.
type Store interface {
	PendingDeltas(ctx context.Context, p model.Partition, device string) ([]model.Delta, error)
	MarkSynced(ctx context.Context, p model.Partition, deltas []model.Delta) error
	ApplyDelta(ctx context.Context, p model.Partition, d model.Delta) (store.ApplyResult, error)
	Cursor(ctx context.Context, stream string) (string, error)
	SetCursor(ctx context.Context, stream, cursor string) error
}

// Report counts what one Sync did for one partition.
type Report struct {
	Partition  model.Partition `json:"partition"`
	Pushed     int             `json:"pushed"`
	Pulled     int             `json:"pulled"`
	Duplicates int             `json:"duplicates"`
	Parked     int             `json:"parked"`
	Unresolved int             `json:"unresolved"`
	Rejected   int             `json:"rejected"`
}

// Syncer replicates one store over one transport.
type Syncer struct {
	store     Store
	transport Transport
	account   string
	device    string
	batch     int
	logger    *zap.Logger
	nudge     chan struct{}
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithBatchSize sets how many messages are fetched per round trip.
//
// Default: 256 (DefaultBatchSize)
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batch = n
		}
	}
}

// NewSyncer creates a Syncer for account's streams. device tags outbound
// deltas and identifies this replica's own messages on pull.
func NewSyncer(st Store, t Transport, account, device string, opts ...Option) *Syncer {
	s := &Syncer{
		store:     st,
		transport: t,
		account:   account,
		device:    device,
		batch:     DefaultBatchSize,
		logger:    zap.NewNop(),
		nudge:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync pulls then pushes every partition.
func (s *Syncer) Sync(ctx context.Context) ([]Report, error) {
	reports := make([]Report, 0, len(model.Partitions))
	for _, p := range model.Partitions {
		r, err := s.SyncPartition(ctx, p)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// SyncPartition pulls remote deltas for p, then pushes local ones.
//
// Pulling first lets remote winners clear local dirty flags before the
// push is assembled.
func (s *Syncer) SyncPartition(ctx context.Context, p model.Partition) (Report, error) {
	r := Report{Partition: p}
	if err := s.pull(ctx, p, &r); err != nil {
		return r, err
	}
	if err := s.push(ctx, p, &r); err != nil {
		return r, err
	}
	s.logger.Debug("partition synced",
		zap.String("partition", string(p)),
		zap.Int("pushed", r.Pushed),
		zap.Int("pulled", r.Pulled),
		zap.Int("parked", r.Parked))
	return r, nil
}

func (s *Syncer) push(ctx context.Context, p model.Partition, r *Report) error {
	deltas, err := s.store.PendingDeltas(ctx, p, s.device)
	if err != nil {
		return fmt.Errorf("push %s: %w", p, err)
	}
	if len(deltas) == 0 {
		return nil
	}
	stream := StreamName(s.account, p)
	if err := s.transport.Publish(ctx, stream, deltas); err != nil {
		return fmt.Errorf("push %s: %w", stream, err)
	}
	// A crash here re-sends the same deltas next time; the receivers'
	// applied ledger absorbs them.
	if err := s.store.MarkSynced(ctx, p, deltas); err != nil {
		return fmt.Errorf("push %s: %w", p, err)
	}
	r.Pushed = len(deltas)
	return nil
}

func (s *Syncer) pull(ctx context.Context, p model.Partition, r *Report) error {
	stream := StreamName(s.account, p)
	cursor, err := s.store.Cursor(ctx, stream)
	if err != nil {
		return fmt.Errorf("pull %s: %w", stream, err)
	}

	for {
		msgs, err := s.transport.Fetch(ctx, stream, cursor, s.batch)
		if err != nil {
			return fmt.Errorf("pull %s: %w", stream, err)
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, msg := range msgs {
			if msg.Delta.Device == s.device {
				continue // own echo
			}
			if err := s.apply(ctx, p, msg, r); err != nil {
				return fmt.Errorf("pull %s at %s: %w", stream, msg.ID, err)
			}
		}

		cursor = msgs[len(msgs)-1].ID
		if err := s.store.SetCursor(ctx, stream, cursor); err != nil {
			return fmt.Errorf("pull %s: %w", stream, err)
		}
		if len(msgs) < s.batch {
			return nil
		}
	}
}

func (s *Syncer) apply(ctx context.Context, p model.Partition, msg Message, r *Report) error {
	res, err := s.store.ApplyDelta(ctx, p, msg.Delta)
	if model.IsValidation(err) {
		// A malformed delta must not wedge the stream.
		r.Rejected++
		s.logger.Warn("delta rejected",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(msg.Delta.Kind)),
			zap.String("id", msg.Delta.ID),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	r.Pulled++
	switch {
	case res.Duplicate:
		r.Duplicates++
	case res.Resolution.Outcome == conflict.OutcomePark:
		r.Parked++
	}
	r.Unresolved += len(res.Resolution.Unresolved)
	return nil
}

// Watch subscribes to n so local writes trigger a sync in Run.
func (s *Syncer) Watch(ctx context.Context, n *notify.Notifier) *notify.Subscription {
	return n.Subscribe(ctx, notify.Funcs{
		OnChange: func(_ context.Context, e model.ChangeEvent) {
			if e.Origin != model.OriginLocal {
				return
			}
			select {
			case s.nudge <- struct{}{}:
			default:
			}
		},
	})
}

// Run syncs every interval, and promptly after local writes when Watch is
// attached, until ctx is cancelled. Sync errors are logged and retried on
// the next tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sync failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.nudge:
		}
	}
}
