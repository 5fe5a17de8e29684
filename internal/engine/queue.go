package engine

import "sync"

// songQueue is a thread-safe FIFO of song ids awaiting recomputation.
//
// A song already waiting is not queued again: any number of invalidations
// before a worker picks it up collapse into one recomputation.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type songQueue struct {
	mu      sync.Mutex
	ids     []string
	pending map[string]struct{}
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)
}

// newSongQueue creates an empty queue.
func newSongQueue() *songQueue {
	return &songQueue{
		ids:     make([]string, 0, 64),
		pending: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a song to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the song is already waiting or the queue is closed.
func (q *songQueue) Enqueue(songID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.pending[songID]; ok {
		return false
	}

	q.ids = append(q.ids, songID)
	q.pending[songID] = struct{}{}

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front song without blocking.
// Returns ("", false) if the queue is empty.
func (q *songQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}

	id := q.ids[0]
	delete(q.pending, id)

	// Fix memory retention: reset slice when empty
	if len(q.ids) == 1 {
		q.ids = q.ids[:0]
	} else {
		q.ids = q.ids[1:]
	}

	// Keep other waiters awake while work remains.
	if len(q.ids) > 0 && !q.closed {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}

	return id, true
}

// Wait returns a channel that signals when songs may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *songQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *songQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Close signals that no more songs will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *songQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}

// Closed reports whether Close was called.
func (q *songQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
