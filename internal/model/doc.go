// Package model defines the practice ledger's data model.
//
// The model is storage-agnostic. Entities are plain structs that the store
// materializes from Records (an id, a kind, ownership metadata and a bag of
// typed field Values). Field values are a sealed set of types so that every
// write can be stamped, compared and replicated field by field.
//
// # Identity and Ordering
//
// Entity ids are opaque strings (UUIDv7 in production). Every entity carries
// a CreatedSeq assigned from the store's logical clock when it is first
// inserted; CreatedSeq is replicated with the entity so that ties in any
// ordered view resolve identically on every replica.
//
// # Replication
//
// A Delta is the unit exchanged with the replication transport. Deltas have a
// canonical JSON encoding (RFC 8785 key ordering, NFC strings, no floats) and
// a domain-separated SHA-256 key used to make re-delivery idempotent.
package model
