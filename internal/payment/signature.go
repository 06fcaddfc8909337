package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sign returns the lowercase hex SHA-256 digest of s. Wompi signs by hashing
// the concatenated fields with the secret appended, so callers must build s
// in the exact field order the gateway uses, without separators.
func Sign(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// checksumMatches compares a computed digest with the one received from the gateway.
func checksumMatches(expected, received string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
