// Package redisstream replicates deltas over Redis Streams.
//
// Each replication stream maps to one Redis stream key. A delta is one
// stream entry whose "delta" field holds the delta's canonical JSON; the
// entry id is the replication cursor.
package redisstream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/replica"
)

// DefaultPrefix namespaces stream keys.
const DefaultPrefix = "etude:"

const deltaField = "delta"

// Transport implements replica.Transport on a Redis client.
type Transport struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

var _ replica.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithPrefix sets the key prefix. Default: "etude:".
func WithPrefix(p string) Option {
	return func(t *Transport) {
		t.prefix = p
	}
}

// WithMaxLen caps each stream at roughly n entries. Replicas that fall
// further behind than the cap lose history. Default: 0 (unbounded).
func WithMaxLen(n int64) Option {
	return func(t *Transport) {
		t.maxLen = n
	}
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Transport, error) {
	return DialOptions(ctx, &redis.Options{Addr: addr}, opts...)
}

// DialOptions connects with full client options (password, database) and
// verifies the connection.
func DialOptions(ctx context.Context, ro *redis.Options, opts ...Option) (*Transport, error) {
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", ro.Addr, err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// Key returns the Redis key of a replication stream.
func (t *Transport) Key(stream string) string {
	return t.prefix + stream
}

// Publish implements replica.Transport. All deltas are appended in one
// pipeline so they keep their order.
func (t *Transport) Publish(ctx context.Context, stream string, deltas []model.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	key := t.Key(stream)
	pipe := t.client.Pipeline()
	for _, d := range deltas {
		b, err := d.MarshalJSON()
		if err != nil {
			return fmt.Errorf("publish %s: %w", key, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: t.maxLen,
			Approx: t.maxLen > 0,
			Values: map[string]any{deltaField: string(b)},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Fetch implements replica.Transport using XRANGE with an exclusive start.
func (t *Transport) Fetch(ctx context.Context, stream, after string, limit int) ([]replica.Message, error) {
	key := t.Key(stream)
	start := "-"
	if after != "" {
		start = "(" + after
	}

	var entries []redis.XMessage
	var err error
	if limit > 0 {
		entries, err = t.client.XRangeN(ctx, key, start, "+", int64(limit)).Result()
	} else {
		entries, err = t.client.XRange(ctx, key, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	out := make([]replica.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := decode(e)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func decode(e redis.XMessage) (replica.Message, error) {
	raw, ok := e.Values[deltaField]
	if !ok {
		return replica.Message{}, fmt.Errorf("entry %s: missing %q field", e.ID, deltaField)
	}
	s, ok := raw.(string)
	if !ok {
		return replica.Message{}, fmt.Errorf("entry %s: %q is %T", e.ID, deltaField, raw)
	}
	var d model.Delta
	if err := d.UnmarshalJSON([]byte(s)); err != nil {
		return replica.Message{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return replica.Message{ID: e.ID, Delta: d}, nil
}
