// Package auth covers both sides of the credential model: opaque agent tokens
// stored only as hashes, and short-lived JWT sessions for dashboard operators.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// NewAgentToken generates a fresh agent credential. The plaintext token is
// returned to the agent exactly once; only the hash is ever persisted.
func NewAgentToken() (token string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate agent token: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, HashAgentToken(token), nil
}

// HashAgentToken returns the hex SHA-256 of a token, the form stored and
// indexed server-side.
func HashAgentToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPassword bcrypt-hashes an operator password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
