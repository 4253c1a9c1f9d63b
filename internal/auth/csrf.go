package auth

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// NewCSRFToken mints an opaque token for the double-submit cookie pattern
// (spec.md §4.2 "CSRF: double-submit cookie").
func NewCSRFToken() string {
	return uuid.New().String()
}

// CheckCSRF reports whether the token carried in a request header matches
// the one stored on the session's cookie, using a constant-time compare so
// response timing cannot leak the token.
func CheckCSRF(headerToken, sessionToken string) bool {
	if headerToken == "" || sessionToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerToken), []byte(sessionToken)) == 1
}
