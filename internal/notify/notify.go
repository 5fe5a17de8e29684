// Package notify is the process-wide change notifier.
//
// Every committed store mutation, local or replicated, is announced as one
// event per (kind, change type). Publish fans out synchronously: when it
// returns, every current subscriber has handled the events. Events from
// unrelated concurrent mutations carry no relative ordering guarantee.
//
// Nothing is durable. A subscriber that attaches late is seeded with
// Resync instead of a replay of past events.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
)

// Subscriber receives change notifications.
//
// Handlers run on the publisher's goroutine and must not call Subscribe or
// Unsubscribe on the same Notifier.
type Subscriber interface {
	// Resync tells the subscriber to discard everything it derived and
	// start over. Called once on attach, before any event.
	Resync(ctx context.Context)

	// HandleChange delivers one event.
	HandleChange(ctx context.Context, e model.ChangeEvent)
}

// Funcs adapts a pair of functions to Subscriber. Nil fields are skipped.
type Funcs struct {
	OnResync func(ctx context.Context)
	OnChange func(ctx context.Context, e model.ChangeEvent)
}

// Resync implements Subscriber.
func (f Funcs) Resync(ctx context.Context) {
	if f.OnResync != nil {
		f.OnResync(ctx)
	}
}

// HandleChange implements Subscriber.
func (f Funcs) HandleChange(ctx context.Context, e model.ChangeEvent) {
	if f.OnChange != nil {
		f.OnChange(ctx, e)
	}
}

// Notifier fans change events out to subscribers.
// Implements store.Publisher.
//
// Thread-safety: all methods are safe for concurrent use. Publishers hold a
// read lock during fan-out, so concurrent publishes proceed in parallel and
// attaching a subscriber waits for in-flight publishes.
type Notifier struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64
	logger *zap.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) {
		n.logger = l
	}
}

// New creates a Notifier with no subscribers.
func New(opts ...Option) *Notifier {
	n := &Notifier{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id       uint64
	sub      Subscriber
	notifier *Notifier
	once     sync.Once
}

// Subscribe attaches s. s.Resync runs before Subscribe returns and before s
// sees any event; no publish can interleave with the attach.
func (n *Notifier) Subscribe(ctx context.Context, s Subscriber) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	s.Resync(ctx)

	n.nextID++
	sub := &Subscription{id: n.nextID, sub: s, notifier: n}
	n.subs = append(n.subs, sub)
	n.logger.Debug("subscriber attached", zap.Uint64("subscription", sub.id))
	return sub
}

// Unsubscribe detaches the subscriber. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		n := s.notifier
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, other := range n.subs {
			if other == s {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				break
			}
		}
		n.logger.Debug("subscriber detached", zap.Uint64("subscription", s.id))
	})
}

// Publish delivers events to every current subscriber, in subscription
// order, and returns when all have handled them. A panicking subscriber is
// logged and skipped; the others still receive the events.
func (n *Notifier) Publish(ctx context.Context, events ...model.ChangeEvent) {
	if len(events) == 0 {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs {
		for _, e := range events {
			n.deliver(ctx, sub, e)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, sub *Subscription, e model.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("subscriber panicked",
				zap.Uint64("subscription", sub.id),
				zap.String("kind", string(e.Kind)),
				zap.String("change", string(e.Type)),
				zap.Any("panic", r))
		}
	}()
	sub.sub.HandleChange(ctx, e)
}

// Len returns the number of attached subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
