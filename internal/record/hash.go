package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashing. The version suffix enables future
// algorithm migration without silently colliding with old hashes.
const (
	DomainSchema = "upkeep/schema/v1"
	DomainValue  = "upkeep/value/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashValue canonicalizes a value and hashes it under the given domain.
// Stable across process restarts given the same value.
func HashValue(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("HashValue: failed to marshal: %w", err)
	}
	return HashWithDomain(domain, canonical), nil
}

// MustHashValue is like HashValue but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashValue(domain string, v Value) string {
	h, err := HashValue(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}
