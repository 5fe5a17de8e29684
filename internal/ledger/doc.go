// Package ledger is the command and query surface of the practice ledger.
//
// Commands validate their input, consult entitlements, and write through the
// entity store; every committed write reaches the aggregation engine through
// the change notifier. Queries read aggregates from the engine and ordered
// views from the store.
package ledger
