package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen  = 32
	saltLen = 32
)

// --------------------------------------------------------------------------
// Password Credential
// --------------------------------------------------------------------------

// HashPassword derives a salted credential for the given password using
// PBKDF2-HMAC-SHA256 with a fresh random 32-byte salt. The result is
// hex(derivedKey || salt), suitable for storage in a persistent map.
//
// The iteration count is a security/performance trade-off: hashing runs on
// the single serialization path of the server, so every additional iteration
// delays all other connections for the duration of a login.
func HashPassword(password string, iterations int) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	return hex.EncodeToString(append(key, salt...)), nil
}

// VerifyPassword re-derives the key for the password using the salt embedded
// in the stored credential and compares it in constant time. A malformed
// stored credential verifies as false, never as an error.
func VerifyPassword(password, stored string, iterations int) bool {
	raw, err := hex.DecodeString(stored)
	if err != nil || len(raw) != keyLen+saltLen {
		return false
	}

	key, salt := raw[:keyLen], raw[keyLen:]
	derived := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(derived, key) == 1
}
