package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/store"
)

// Source is the read side of the entity store the engine depends on.
// Implemented by *store.Store.
type Source interface {
	SongPlays(ctx context.Context, songID string) (store.SongPlays, error)
	SongsOfPlays(ctx context.Context, playIDs []string) (map[string]string, error)
	SongsInSession(ctx context.Context, sessionID string) ([]string, error)
	AllSongIDs(ctx context.Context) ([]string, error)
}

// DefaultWorkers is the default number of background recompute workers.
const DefaultWorkers = 4

// slot is the published state of one song: the current generation and the
// most recent snapshot, which may belong to an older generation.
type slot struct {
	gen  uint64
	snap *Snapshot
}

// entry holds one song's cache.
type entry struct {
	mu    sync.Mutex // serializes recomputation of this song
	state atomic.Pointer[slot]
}

func newEntry() *entry {
	e := &entry{}
	e.state.Store(&slot{gen: 1})
	return e
}

// invalidate starts a new generation. Any recomputation in flight for the
// old generation will fail to publish.
func (e *entry) invalidate() {
	for {
		old := e.state.Load()
		if e.state.CompareAndSwap(old, &slot{gen: old.gen + 1, snap: old.snap}) {
			return
		}
	}
}

// fresh returns the snapshot if it matches the current generation.
func (e *entry) fresh() (*slot, *Snapshot) {
	cur := e.state.Load()
	if cur.snap != nil && cur.snap.Gen == cur.gen {
		return cur, cur.snap
	}
	return cur, nil
}

// Engine maintains per-song aggregate snapshots.
//
// Thread-safety model:
//   - HandleChange/Resync: safe from any goroutine (notifier callbacks)
//   - Snapshot/Peek/CumulativeCount: safe from any goroutine; reads never
//     block writers
//   - Run: may be called once; starts the background workers
type Engine struct {
	src     Source
	logger  *zap.Logger
	workers int
	queue   *songQueue

	mu      sync.Mutex
	entries map[string]*entry

	// Invalidation index. Maps plays and sessions to the songs they
	// contributed to, so deletes can be routed after the rows are gone.
	idxMu        sync.Mutex
	playSong     map[string]string
	sessionSongs map[string]map[string]struct{}
	songPlays    map[string][]string
	songSessions map[string][]string

	computes atomic.Int64

	// beforePublish runs between computing and publishing. Tests use it to
	// force supersession.
	beforePublish func(songID string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithWorkers sets the number of background recompute workers used by Run.
//
// Default: 4 (DefaultWorkers)
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engine reading from src.
// Attach it to the change notifier with notify.Notifier.Subscribe.
func New(src Source, opts ...Option) *Engine {
	e := &Engine{
		src:          src,
		logger:       zap.NewNop(),
		workers:      DefaultWorkers,
		queue:        newSongQueue(),
		entries:      make(map[string]*entry),
		playSong:     make(map[string]string),
		sessionSongs: make(map[string]map[string]struct{}),
		songPlays:    make(map[string][]string),
		songSessions: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) entry(songID string) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[songID]
	if !ok {
		ent = newEntry()
		e.entries[songID] = ent
	}
	return ent
}

// Invalidate marks a song's aggregates stale and queues it for background
// recomputation.
func (e *Engine) Invalidate(songID string) {
	e.entry(songID).invalidate()
	e.queue.Enqueue(songID)
}

// Snapshot returns the song's aggregates for the current generation,
// computing them if the cached snapshot is stale. If the song is
// invalidated while computing, the result is discarded and the read
// retries, so the returned snapshot is never older than the call.
func (e *Engine) Snapshot(ctx context.Context, songID string) (*Snapshot, error) {
	ent := e.entry(songID)
	for {
		if _, snap := ent.fresh(); snap != nil {
			return snap, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.recompute(ctx, songID, ent); err != nil {
			return nil, err
		}
	}
}

// Peek returns the most recently published snapshot without blocking or
// computing. It may be stale. Returns false if the song was never computed.
func (e *Engine) Peek(songID string) (*Snapshot, bool) {
	e.mu.Lock()
	ent, ok := e.entries[songID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	snap := ent.state.Load().snap
	return snap, snap != nil
}

// CumulativeCount returns a play's running total within its play type.
// Returns false if the play is unknown or excluded from aggregation.
func (e *Engine) CumulativeCount(ctx context.Context, playID string) (int64, bool, error) {
	e.idxMu.Lock()
	songID, ok := e.playSong[playID]
	e.idxMu.Unlock()
	if !ok {
		songs, err := e.src.SongsOfPlays(ctx, []string{playID})
		if err != nil {
			return 0, false, err
		}
		if songID, ok = songs[playID]; !ok {
			return 0, false, nil
		}
	}

	snap, err := e.Snapshot(ctx, songID)
	if err != nil {
		return 0, false, err
	}
	n, ok := snap.CumulativeCount(playID)
	return n, ok, nil
}

// Recompute computes a song's aggregates from scratch without touching
// the cache. Used to verify that cached results are reproducible.
func (e *Engine) Recompute(ctx context.Context, songID string) (*Snapshot, error) {
	sp, err := e.src.SongPlays(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", songID, err)
	}
	return compute(songID, sp), nil
}

// Computations returns how many recomputations have run. Used by tests and
// diagnostics.
func (e *Engine) Computations() int64 {
	return e.computes.Load()
}

// recompute brings ent up to date with its current generation, unless it
// is superseded first.
func (e *Engine) recompute(ctx context.Context, songID string, ent *entry) error {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	cur, snap := ent.fresh()
	if snap != nil {
		return nil // computed while we waited for the lock
	}

	sp, err := e.src.SongPlays(ctx, songID)
	if err != nil {
		return fmt.Errorf("recompute %s: %w", songID, err)
	}
	e.computes.Add(1)

	next := compute(songID, sp)
	next.Gen = cur.gen

	if e.beforePublish != nil {
		e.beforePublish(songID)
	}

	if !ent.state.CompareAndSwap(cur, &slot{gen: cur.gen, snap: next}) {
		e.logger.Debug("recompute superseded",
			zap.String("song_id", songID),
			zap.Uint64("gen", cur.gen))
		return nil
	}

	e.index(next)
	for _, x := range next.Excluded {
		e.logger.Warn("inconsistent reference",
			zap.String("event", string(model.ErrCodeInconsistentReference)),
			zap.String("song_id", songID),
			zap.String("play_id", x.PlayID),
			zap.String("session_id", x.SessionID),
			zap.Error(x.Err()))
	}
	return nil
}

// index records which plays and sessions fed a published snapshot.
func (e *Engine) index(snap *Snapshot) {
	e.idxMu.Lock()
	defer e.idxMu.Unlock()

	for _, playID := range e.songPlays[snap.SongID] {
		if e.playSong[playID] == snap.SongID {
			delete(e.playSong, playID)
		}
	}
	for _, sessionID := range e.songSessions[snap.SongID] {
		if songs, ok := e.sessionSongs[sessionID]; ok {
			delete(songs, snap.SongID)
			if len(songs) == 0 {
				delete(e.sessionSongs, sessionID)
			}
		}
	}

	for _, playID := range snap.plays {
		e.playSong[playID] = snap.SongID
	}
	for _, sessionID := range snap.sessions {
		e.addSessionSong(sessionID, snap.SongID)
	}
	e.songPlays[snap.SongID] = snap.plays
	e.songSessions[snap.SongID] = snap.sessions
}

// addSessionSong requires idxMu.
func (e *Engine) addSessionSong(sessionID, songID string) {
	songs, ok := e.sessionSongs[sessionID]
	if !ok {
		songs = make(map[string]struct{})
		e.sessionSongs[sessionID] = songs
	}
	songs[songID] = struct{}{}
}

// forget drops a deleted song's cache entry and index. A recomputation
// still in flight on the old entry cannot publish into the cache.
func (e *Engine) forget(songID string) {
	e.mu.Lock()
	ent, ok := e.entries[songID]
	delete(e.entries, songID)
	e.mu.Unlock()
	if ok {
		ent.invalidate()
	}

	e.idxMu.Lock()
	defer e.idxMu.Unlock()
	for _, playID := range e.songPlays[songID] {
		if e.playSong[playID] == songID {
			delete(e.playSong, playID)
		}
	}
	for _, sessionID := range e.songSessions[songID] {
		if songs, ok := e.sessionSongs[sessionID]; ok {
			delete(songs, songID)
			if len(songs) == 0 {
				delete(e.sessionSongs, sessionID)
			}
		}
	}
	delete(e.songPlays, songID)
	delete(e.songSessions, songID)
}

// cached reports whether songID has a cache entry.
func (e *Engine) cached(songID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[songID]
	return ok
}

// Resync discards every cached aggregate. Implements notify.Subscriber;
// called when the engine attaches to the notifier.
func (e *Engine) Resync(ctx context.Context) {
	e.mu.Lock()
	known := make([]string, 0, len(e.entries))
	for id := range e.entries {
		known = append(known, id)
	}
	e.mu.Unlock()
	for _, id := range known {
		e.Invalidate(id)
	}

	ids, err := e.src.AllSongIDs(ctx)
	if err != nil {
		e.logger.Error("resync: list songs", zap.Error(err))
		return
	}
	for _, id := range ids {
		e.Invalidate(id)
	}
	e.logger.Debug("resync", zap.Int("songs", len(ids)))
}

// HandleChange invalidates every song whose aggregates depend on the
// changed records. Implements notify.Subscriber.
func (e *Engine) HandleChange(ctx context.Context, ev model.ChangeEvent) {
	var songs []string
	var err error

	switch ev.Kind {
	case model.KindSong:
		if ev.Type == model.ChangeDelete {
			for _, id := range ev.IDs {
				e.forget(id)
			}
			return
		}
		songs = ev.IDs
	case model.KindPlay:
		songs, err = e.songsForPlays(ctx, ev)
	case model.KindSession:
		songs, err = e.songsForSessions(ctx, ev)
	default:
		return
	}
	if err != nil {
		// Storage failure: fall back to invalidating everything known.
		e.logger.Error("route change event",
			zap.String("kind", string(ev.Kind)),
			zap.String("change", string(ev.Type)),
			zap.Error(err))
		e.Resync(ctx)
		return
	}

	for _, id := range songs {
		e.Invalidate(id)
	}
}

func (e *Engine) songsForPlays(ctx context.Context, ev model.ChangeEvent) ([]string, error) {
	set := map[string]struct{}{}

	// Previous owner, which is the only source once the play is deleted.
	e.idxMu.Lock()
	for _, id := range ev.IDs {
		if songID, ok := e.playSong[id]; ok {
			set[songID] = struct{}{}
		}
	}
	e.idxMu.Unlock()

	if ev.Type != model.ChangeDelete {
		current, err := e.src.SongsOfPlays(ctx, ev.IDs)
		if err != nil {
			return nil, err
		}
		e.idxMu.Lock()
		for playID, songID := range current {
			set[songID] = struct{}{}
			e.playSong[playID] = songID
		}
		e.idxMu.Unlock()
	}
	return keys(set), nil
}

func (e *Engine) songsForSessions(ctx context.Context, ev model.ChangeEvent) ([]string, error) {
	set := map[string]struct{}{}

	e.idxMu.Lock()
	for _, id := range ev.IDs {
		for songID := range e.sessionSongs[id] {
			set[songID] = struct{}{}
		}
	}
	e.idxMu.Unlock()

	if ev.Type != model.ChangeDelete {
		for _, id := range ev.IDs {
			current, err := e.src.SongsInSession(ctx, id)
			if err != nil {
				return nil, err
			}
			e.idxMu.Lock()
			for _, songID := range current {
				set[songID] = struct{}{}
				e.addSessionSong(id, songID)
			}
			e.idxMu.Unlock()
		}
	}
	return keys(set), nil
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// Run starts the background workers and blocks until ctx is cancelled or
// Close is called. Workers drain the invalidation queue so cached
// snapshots are refreshed without waiting for a reader.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (e *Engine) work(ctx context.Context) {
	for {
		for {
			songID, ok := e.queue.TryDequeue()
			if !ok {
				break
			}
			if !e.cached(songID) {
				continue // deleted since it was queued
			}
			if _, err := e.Snapshot(ctx, songID); err != nil && ctx.Err() == nil {
				e.logger.Error("background recompute",
					zap.String("song_id", songID),
					zap.Error(err))
			}
		}
		if e.queue.Closed() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-e.queue.Wait():
		}
	}
}

// Close stops the background workers started by Run.
func (e *Engine) Close() {
	e.queue.Close()
}

// Pending returns the number of songs waiting for background recompute.
func (e *Engine) Pending() int {
	return e.queue.Len()
}
