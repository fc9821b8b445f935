package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateClientID generates a client identifier carrying the participant kind
// as a prefix for human-debuggability.
// Format: <kind>_<randomhex>
// Example: seller_a1b2c3d4e5f6a7b8
func GenerateClientID(kindPrefix string) (string, error) {
	s, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", kindPrefix, s), nil
}

// GenerateCredentialPair generates an API credential: a public lookup id and a
// secret. The secret is 32 bytes of entropy (64 hex chars).
func GenerateCredentialPair() (publicID, secret string, err error) {
	if publicID, err = randomHex(12); err != nil {
		return "", "", err
	}
	if secret, err = randomHex(32); err != nil {
		return "", "", err
	}
	return "tg_pub_" + publicID, "tg_sec_" + secret, nil
}

// GenerateSessionToken generates an opaque session token unrelated to any
// credential material.
func GenerateSessionToken() (string, error) {
	s, err := randomHex(24)
	if err != nil {
		return "", err
	}
	return "tg_ses_" + s, nil
}
