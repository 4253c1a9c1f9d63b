package store

import (
	"database/sql"
	"fmt"

	"github.com/CLIAIMONITOR/internal/types"
)

// GetProvisioningCredential returns NotFound if no credential with that key
// id exists.
func (t *Tx) GetProvisioningCredential(keyID string) (*types.ProvisioningCredential, error) {
	var c types.ProvisioningCredential
	var lastUsed sql.NullTime
	err := t.tx.QueryRow(`
		SELECT key_id, credential_hash, description, created_by, created_at, last_used_at, enabled
		FROM provisioning_api_keys WHERE key_id = ?`, keyID).
		Scan(&c.KeyID, &c.CredentialHash, &c.Description, &c.CreatedBy, &c.CreatedAt, &lastUsed, &c.Enabled)
	if err == sql.ErrNoRows {
		return nil, NotFound("provisioning credential", keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("get provisioning credential: %w", err)
	}
	c.LastUsedAt = timePtr(lastUsed)
	return &c, nil
}

// CreateProvisioningCredential inserts a new stateless-automated
// provisioning key (spec.md §4.3 "Provisioning credential").
func (t *Tx) CreateProvisioningCredential(c *types.ProvisioningCredential) error {
	_, err := t.tx.Exec(`
		INSERT INTO provisioning_api_keys (key_id, credential_hash, description, created_by, created_at, last_used_at, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.KeyID, c.CredentialHash, c.Description, c.CreatedBy, c.CreatedAt, nullTime(c.LastUsedAt), boolToInt(c.Enabled),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Conflict("provisioning credential exists: " + c.KeyID)
		}
		return fmt.Errorf("create provisioning credential: %w", err)
	}
	return nil
}

// SetProvisioningCredentialEnabled toggles a key's enabled flag.
func (t *Tx) SetProvisioningCredentialEnabled(keyID string, enabled bool) error {
	res, err := t.tx.Exec("UPDATE provisioning_api_keys SET enabled = ? WHERE key_id = ?", boolToInt(enabled), keyID)
	if err != nil {
		return fmt.Errorf("set provisioning credential enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("provisioning credential", keyID)
	}
	return nil
}

// RecordProvisioningUse stamps last_used_at to now.
func (t *Tx) RecordProvisioningUse(keyID string) error {
	res, err := t.tx.Exec("UPDATE provisioning_api_keys SET last_used_at = ? WHERE key_id = ?", t.now, keyID)
	if err != nil {
		return fmt.Errorf("record provisioning use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("provisioning credential", keyID)
	}
	return nil
}

// DeleteProvisioningCredential removes a key row.
func (t *Tx) DeleteProvisioningCredential(keyID string) error {
	res, err := t.tx.Exec("DELETE FROM provisioning_api_keys WHERE key_id = ?", keyID)
	if err != nil {
		return fmt.Errorf("delete provisioning credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("provisioning credential", keyID)
	}
	return nil
}

// ListProvisioningCredentials returns every provisioning key, most recently
// created first.
func (t *Tx) ListProvisioningCredentials() ([]*types.ProvisioningCredential, error) {
	rows, err := t.tx.Query(`
		SELECT key_id, credential_hash, description, created_by, created_at, last_used_at, enabled
		FROM provisioning_api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list provisioning credentials: %w", err)
	}
	defer rows.Close()

	var out []*types.ProvisioningCredential
	for rows.Next() {
		var c types.ProvisioningCredential
		var lastUsed sql.NullTime
		if err := rows.Scan(&c.KeyID, &c.CredentialHash, &c.Description, &c.CreatedBy, &c.CreatedAt, &lastUsed, &c.Enabled); err != nil {
			return nil, fmt.Errorf("scan provisioning credential: %w", err)
		}
		c.LastUsedAt = timePtr(lastUsed)
		out = append(out, &c)
	}
	return out, rows.Err()
}
