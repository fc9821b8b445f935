package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSecret returns the one-way hash stored in place of a credential secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatches compares a candidate secret against a stored hash in constant
// time. Callers must treat a false result identically for unknown clients and
// wrong secrets.
func SecretMatches(storedHash, candidate string) bool {
	sum := sha256.Sum256([]byte(candidate))
	candidateHash := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidateHash)) == 1
}
