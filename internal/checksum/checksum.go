// Package checksum fingerprints document content.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString is Sum for string content.
func SumString(s string) string {
	return Sum([]byte(s))
}

// Fast returns a 64-bit xxhash of s. It is only a quick inequality check;
// equal values must still be confirmed with Sum.
func Fast(s string) uint64 {
	return xxhash.Sum64String(s)
}
