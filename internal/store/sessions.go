package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

// SessionTTL is the sliding session lifetime (spec.md §4.2).
const SessionTTL = 24 * time.Hour

// CreateSession inserts a new operator session row.
func (t *Tx) CreateSession(s *types.Session) error {
	_, err := t.tx.Exec(`
		INSERT INTO sessions (token, username, expires_at, totp_verified, csrf_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Token, s.Username, s.ExpiresAt, boolToInt(s.TOTPVerified), s.CSRFToken, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns NotFound if the token does not exist or has expired.
func (t *Tx) GetSession(token string) (*types.Session, error) {
	var s types.Session
	err := t.tx.QueryRow(`
		SELECT token, username, expires_at, totp_verified, csrf_token, created_at
		FROM sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.Username, &s.ExpiresAt, &s.TOTPVerified, &s.CSRFToken, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("session", token)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if t.now.After(s.ExpiresAt) {
		return nil, NotFound("session", token)
	}
	return &s, nil
}

// MarkSessionTOTPVerified sets totp_verified and renews the sliding expiry
// (spec.md §4.2 "set totp_verified = true on the session").
func (t *Tx) MarkSessionTOTPVerified(token string) error {
	res, err := t.tx.Exec(`UPDATE sessions SET totp_verified = 1, expires_at = ? WHERE token = ?`,
		t.now.Add(SessionTTL), token)
	if err != nil {
		return fmt.Errorf("mark session totp verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("session", token)
	}
	return nil
}

// RenewSession slides a session's expiry to now + 24h (spec.md §4.2
// "Any authenticated request renews the session expiry").
func (t *Tx) RenewSession(token string) error {
	res, err := t.tx.Exec(`UPDATE sessions SET expires_at = ? WHERE token = ?`, t.now.Add(SessionTTL), token)
	if err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("session", token)
	}
	return nil
}

// DeleteSession removes a session row (logout).
func (t *Tx) DeleteSession(token string) error {
	_, err := t.tx.Exec("DELETE FROM sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsForUser removes every session belonging to username,
// optionally sparing one token (spec.md §4.2 "Password or TOTP reset
// invalidates every session for that user except, optionally, the
// caller's own").
func (t *Tx) DeleteSessionsForUser(username, exceptToken string) error {
	_, err := t.tx.Exec("DELETE FROM sessions WHERE username = ? AND token != ?", username, exceptToken)
	if err != nil {
		return fmt.Errorf("delete sessions for user: %w", err)
	}
	return nil
}

// ExpireSessions deletes every session whose expiry has passed (spec.md
// §4.7 session expiry sweep). Returns the count removed.
func (t *Tx) ExpireSessions() (int64, error) {
	res, err := t.tx.Exec("DELETE FROM sessions WHERE expires_at < ?", t.now)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
