package codec

import (
	"crypto/sha512"
	"encoding/hex"
)

// ComputeCID returns the content id for data: the 128-character
// lowercase hex sha-512 digest.
func ComputeCID(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether claimedCID matches the content id actually
// computed from data.
func Verify(data []byte, claimedCID string) bool {
	return ComputeCID(data) == claimedCID
}
