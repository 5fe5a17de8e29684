// Package engine implements the aggregation engine.
//
// For each song the engine derives, purely from the song's play records:
//
//   - total play count over every play type
//   - total goal play count (plays of type practice)
//   - last played date (latest session day among the plays)
//   - the cumulative count of every play within its play type
//   - goal progress, min(goal plays total / goal, 1), or 0 with no goal
//
// ARCHITECTURE:
//
// Snapshots:
// Aggregates for one song are computed together and published as one
// immutable Snapshot. Readers load a pointer and never see a mixture of two
// computations.
//
// Invalidation:
// The engine subscribes to the change notifier. A change to a play, to a
// session (its day orders plays), or to a song bumps that song's
// generation. Deleted plays and sessions are mapped to their songs through
// an index built from previous computations.
//
// Recomputation:
// At most one recomputation per song runs at a time (per-song mutex).
// Different songs recompute in parallel. A result is published only if the
// generation it was computed for is still current; a result overtaken by a
// newer invalidation is discarded.
//
// Reads:
// Snapshot blocks until a snapshot for the current generation exists,
// computing it on the caller's goroutine if needed. Peek returns the last
// published snapshot without blocking. Run drains invalidations in the
// background so Peek stays close to current.
//
// Plays whose session is missing (possible transiently with out-of-order
// replication) are excluded from aggregation and logged as inconsistent
// references. They never fail a recomputation.
package engine
