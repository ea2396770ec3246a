// Package auth provides password hashing and opaque bearer tokens. Tokens
// are random values handed to the client once; only a SHA-256 digest is
// stored, so a leaked database does not leak usable tokens, and logout
// revokes a token by deleting its row.
package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewToken generates a bearer token, returning the plaintext to hand to the
// client and the digest to store.
func NewToken() (plain, digest string) {
	plain = uuid.NewString()
	return plain, HashToken(plain)
}

// HashToken computes the stored form of a bearer token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
