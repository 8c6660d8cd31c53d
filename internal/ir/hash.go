package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainBatch = "botloom/batch/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BatchDigest computes a content digest of an ordered action list.
// Two runs that emit the same actions in the same order produce the same
// digest, which is what replay verification compares.
func BatchDigest(actions []Action) (string, error) {
	items := make([]any, len(actions))
	for i, a := range actions {
		m, err := ActionMap(a)
		if err != nil {
			return "", fmt.Errorf("BatchDigest: action[%d]: %w", i, err)
		}
		items[i] = m
	}

	canonical, err := MarshalCanonical(items)
	if err != nil {
		return "", fmt.Errorf("BatchDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBatch, canonical), nil
}

// MustBatchDigest is like BatchDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBatchDigest(actions []Action) string {
	d, err := BatchDigest(actions)
	if err != nil {
		panic(err)
	}
	return d
}
