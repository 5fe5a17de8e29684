// Package store provides SQLite-backed storage for the practice ledger.
//
// The store holds the entity graph (students, instructors, songs, sessions,
// plays, notes, recordings, awards, media references) together with the
// replication bookkeeping that makes the graph mergeable across replicas:
//   - entities: kind, owner, partition, creation sequence for every live id
//   - field_stamps: per-field revision stamps and local-dirty flags
//   - tombstones: delete markers that outrank updates
//   - applied_deltas: idempotency ledger for inbound deltas
//
// # Atomicity and Notification
//
// Every mutating call runs in one SQLite transaction. Either every field
// change and every cascade delete commits, or none do. After commit the
// store publishes one model.ChangeEvent per (kind, change type) touched,
// synchronously, before the call returns.
//
// # Ordering
//
// Ordered views never depend on incidental row order. Every query ends in a
// total order: the view's own key, then created_seq, then id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: writes are strictly serialized
package store
