// Package conflict decides how an inbound replicated delta merges with the
// local version of the same entity.
//
// The policy is field-level last-writer-wins on per-field revision stamps:
//
//   - A higher stamp wins.
//   - On equal stamps a field edited locally since the last sync keeps its
//     local value. Otherwise the remote value is taken.
//   - A tombstone beats every update to the entity. A delete is superseded
//     only by a creation stamped strictly after it.
//
// Resolve is a pure function. The store supplies the local state, applies
// the returned Resolution in the same transaction, and publishes change
// events exactly as it would for a local write.
package conflict
