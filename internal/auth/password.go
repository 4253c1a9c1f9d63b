// Package auth implements ChallengeCtl's operator login state machine,
// agent bearer-token verification, and the supporting TOTP/CSRF/rate-limit
// primitives (spec.md §4.2).
package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword bcrypt-hashes an operator's plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
