package store

import (
	"database/sql"
	"fmt"

	"github.com/CLIAIMONITOR/internal/types"
)

// GetUser returns NotFound if no operator user with that username exists.
func (t *Tx) GetUser(username string) (*types.OperatorUser, error) {
	var u types.OperatorUser
	var lastLogin sql.NullTime
	err := t.tx.QueryRow(`
		SELECT username, password_hash, totp_secret_encrypted, enabled, must_change_password, created_at, last_login_at
		FROM operator_users WHERE username = ?`, username).
		Scan(&u.Username, &u.PasswordHash, &u.TOTPSecretEncrypted, &u.Enabled, &u.MustChangePassword, &u.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, NotFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.LastLoginAt = timePtr(lastLogin)
	return &u, nil
}

// CreateUser inserts a new operator user row. Returns Conflict if the
// username is already taken.
func (t *Tx) CreateUser(u *types.OperatorUser) error {
	_, err := t.tx.Exec(`
		INSERT INTO operator_users (username, password_hash, totp_secret_encrypted, enabled, must_change_password, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.TOTPSecretEncrypted, boolToInt(u.Enabled), boolToInt(u.MustChangePassword), u.CreatedAt, nullTime(u.LastLoginAt),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Conflict("user exists: " + u.Username)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateUserPassword sets a new password hash and clears must-change.
func (t *Tx) UpdateUserPassword(username, passwordHash string) error {
	res, err := t.tx.Exec(`UPDATE operator_users SET password_hash = ?, must_change_password = 0 WHERE username = ?`,
		passwordHash, username)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("user", username)
	}
	return nil
}

// UpdateUserTOTPSecret sets the encrypted TOTP secret for a user.
func (t *Tx) UpdateUserTOTPSecret(username, encryptedSecret string) error {
	res, err := t.tx.Exec(`UPDATE operator_users SET totp_secret_encrypted = ? WHERE username = ?`, encryptedSecret, username)
	if err != nil {
		return fmt.Errorf("update user totp secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("user", username)
	}
	return nil
}

// SetUserEnabled toggles an operator account's enabled flag.
func (t *Tx) SetUserEnabled(username string, enabled bool) error {
	res, err := t.tx.Exec(`UPDATE operator_users SET enabled = ? WHERE username = ?`, boolToInt(enabled), username)
	if err != nil {
		return fmt.Errorf("set user enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("user", username)
	}
	return nil
}

// RecordLogin stamps last_login_at to now.
func (t *Tx) RecordLogin(username string) error {
	res, err := t.tx.Exec(`UPDATE operator_users SET last_login_at = ? WHERE username = ?`, t.now, username)
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("user", username)
	}
	return nil
}

// RemoveUser deletes an operator user and its permission grants.
func (t *Tx) RemoveUser(username string) error {
	if _, err := t.tx.Exec("DELETE FROM user_permissions WHERE username = ?", username); err != nil {
		return fmt.Errorf("remove user permissions: %w", err)
	}
	res, err := t.tx.Exec("DELETE FROM operator_users WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("user", username)
	}
	return nil
}

// ListUsers returns every operator user.
func (t *Tx) ListUsers() ([]*types.OperatorUser, error) {
	rows, err := t.tx.Query(`
		SELECT username, password_hash, totp_secret_encrypted, enabled, must_change_password, created_at, last_login_at
		FROM operator_users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*types.OperatorUser
	for rows.Next() {
		var u types.OperatorUser
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.TOTPSecretEncrypted, &u.Enabled, &u.MustChangePassword, &u.CreatedAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.LastLoginAt = timePtr(lastLogin)
		out = append(out, &u)
	}
	return out, rows.Err()
}

// GrantPermission adds a permission to a user (idempotent).
func (t *Tx) GrantPermission(username, permission string) error {
	_, err := t.tx.Exec(`INSERT INTO user_permissions (username, permission) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		username, permission)
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes a permission from a user.
func (t *Tx) RevokePermission(username, permission string) error {
	_, err := t.tx.Exec(`DELETE FROM user_permissions WHERE username = ? AND permission = ?`, username, permission)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	return nil
}

// ListPermissions returns every permission granted to username.
func (t *Tx) ListPermissions(username string) ([]string, error) {
	rows, err := t.tx.Query(`SELECT permission FROM user_permissions WHERE username = ?`, username)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasPermission reports whether username has the named permission.
func (t *Tx) HasPermission(username, permission string) (bool, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM user_permissions WHERE username = ? AND permission = ?`,
		username, permission).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return n > 0, nil
}
