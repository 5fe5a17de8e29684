package replica

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/roach88/etude/internal/model"
)

// Message is one delta read from a stream with its position.
type Message struct {
	// ID is the stream position. Passing it back to Fetch as after resumes
	// reading behind this message.
	ID    string
	Delta model.Delta
}

// Transport moves deltas between replicas. Each stream is an append-only
// log read independently by every replica.
type Transport interface {
	// Publish appends deltas to stream in order.
	Publish(ctx context.Context, stream string, deltas []model.Delta) error

	// Fetch returns up to limit messages after position after, in order.
	// An empty after reads from the beginning.
	Fetch(ctx context.Context, stream, after string, limit int) ([]Message, error)
}

// StreamName returns the stream an account's partition replicates over.
func StreamName(account string, p model.Partition) string {
	return account + "/" + string(p)
}

// MemoryTransport is an in-process Transport. Deltas are stored in their
// wire encoding so readers never share values with the writer.
type MemoryTransport struct {
	mu      sync.Mutex
	streams map[string][][]byte
}

// NewMemoryTransport returns an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{streams: make(map[string][][]byte)}
}

// Publish implements Transport.
func (m *MemoryTransport) Publish(ctx context.Context, stream string, deltas []model.Delta) error {
	encoded := make([][]byte, 0, len(deltas))
	for _, d := range deltas {
		b, err := d.MarshalJSON()
		if err != nil {
			return fmt.Errorf("publish %s: %w", stream, err)
		}
		encoded = append(encoded, b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = append(m.streams[stream], encoded...)
	return nil
}

// Fetch implements Transport. Positions are 1-based decimal indexes.
func (m *MemoryTransport) Fetch(ctx context.Context, stream, after string, limit int) ([]Message, error) {
	start := 0
	if after != "" {
		n, err := strconv.Atoi(after)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("fetch %s: bad position %q", stream, after)
		}
		start = n
	}

	m.mu.Lock()
	log := m.streams[stream]
	if start > len(log) {
		start = len(log)
	}
	end := len(log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	raw := append([][]byte(nil), log[start:end]...)
	m.mu.Unlock()

	out := make([]Message, 0, len(raw))
	for i, b := range raw {
		var d model.Delta
		if err := d.UnmarshalJSON(b); err != nil {
			return nil, fmt.Errorf("fetch %s: decode message %d: %w", stream, start+i+1, err)
		}
		out = append(out, Message{ID: strconv.Itoa(start + i + 1), Delta: d})
	}
	return out, nil
}

// Len returns the number of messages in stream.
func (m *MemoryTransport) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[stream])
}
