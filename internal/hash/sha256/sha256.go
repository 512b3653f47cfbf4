// Package sha256 derives content and cache-key digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the full hex SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest of s. n outside (0, 64]
// yields the full digest.
func Short(s string, n int) string {
	full := Hex([]byte(s))
	if n <= 0 || n >= len(full) {
		return full
	}
	return full[:n]
}
