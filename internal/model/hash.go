package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDelta is the hash domain for delta keys.
// The version suffix allows a future algorithm migration.
const DomainDelta = "etude/delta/v1"

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DeltaKey computes the content-addressed identity of a delta.
// The producing device is excluded: the same change relayed by two paths
// has one key.
func DeltaKey(d Delta) (string, error) {
	env, err := d.envelope(false)
	if err != nil {
		return "", fmt.Errorf("DeltaKey: %w", err)
	}
	canonical, err := MarshalCanonical(env)
	if err != nil {
		return "", fmt.Errorf("DeltaKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDelta, canonical), nil
}

// AppliedKey is the idempotency key of d delivered on partition p. The
// same delta replicated over both partitions, as happens when a student is
// shared, is applied once per partition.
func AppliedKey(p Partition, d Delta) (string, error) {
	key, err := DeltaKey(d)
	if err != nil {
		return "", err
	}
	return string(p) + "/" + key, nil
}

// MustDeltaKey is like DeltaKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDeltaKey(d Delta) string {
	key, err := DeltaKey(d)
	if err != nil {
		panic(err)
	}
	return key
}
