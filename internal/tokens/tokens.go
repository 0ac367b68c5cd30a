// Package tokens generates bearer credentials and the digests under which
// they are stored. Raw tokens only ever leave the process inside links.
package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const rawBytes = 32

// Generate returns a new 64-character hex token.
func Generate() (string, error) {
	b := make([]byte, rawBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the hex BLAKE2b-256 digest of raw.
func Hash(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short prefix of the digest, safe to put in logs.
func Fingerprint(raw string) string {
	return Hash(raw)[:12]
}
