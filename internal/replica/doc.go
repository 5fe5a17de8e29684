// Package replica is the replication boundary between the entity store and a
// transport.
//
// A Syncer pushes the store's dirty fields and tombstones as deltas and pulls
// other replicas' deltas back through the store's conflict policy. Each
// account has one stream per partition; every replica reads every stream it
// can see from its own stored cursor, so delivery is at-least-once and the
// store's applied-delta ledger makes redelivery a no-op.
package replica
