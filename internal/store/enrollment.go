package store

import (
	"database/sql"
	"fmt"

	"github.com/CLIAIMONITOR/internal/types"
)

// CreateEnrollmentToken inserts a fresh single-use token for target agent
// id (spec.md §4.3). Overwriting a prior unused token for the same agent
// is allowed by the caller issuing re-enrollment; this only inserts.
func (t *Tx) CreateEnrollmentToken(tok *types.EnrollmentToken) error {
	_, err := t.tx.Exec(`
		INSERT INTO enrollment_tokens (token, agent_id, created_by, created_at, expires_at, used, used_at, used_by_agent)
		VALUES (?, ?, ?, ?, ?, 0, NULL, '')`,
		tok.Token, tok.AgentID, tok.CreatedBy, tok.CreatedAt, tok.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create enrollment token: %w", err)
	}
	return nil
}

// GetEnrollmentToken returns NotFound if the token does not exist.
func (t *Tx) GetEnrollmentToken(token string) (*types.EnrollmentToken, error) {
	var e types.EnrollmentToken
	var usedAt sql.NullTime
	var usedByAgent string
	err := t.tx.QueryRow(`
		SELECT token, agent_id, created_by, created_at, expires_at, used, used_at, used_by_agent
		FROM enrollment_tokens WHERE token = ?`, token).
		Scan(&e.Token, &e.AgentID, &e.CreatedBy, &e.CreatedAt, &e.ExpiresAt, &e.Used, &usedAt, &usedByAgent)
	if err == sql.ErrNoRows {
		return nil, NotFound("enrollment token", token)
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment token: %w", err)
	}
	e.UsedAt = timePtr(usedAt)
	e.UsedByAgent = usedByAgent
	return &e, nil
}

// ConsumeEnrollmentToken marks a token used and installs the host identity
// and credential hash on the target agent's row, atomically (spec.md §4.3,
// §4.1 "ConsumeEnrollmentToken"). Returns Conflict if the token is already
// used, and InvariantViolation if it has expired.
func (t *Tx) ConsumeEnrollmentToken(token string, credentialHash string, host types.HostIdentity, devices []types.DeviceDescriptor) (*types.Agent, error) {
	tok, err := t.GetEnrollmentToken(token)
	if err != nil {
		return nil, err
	}
	if tok.Used {
		return nil, Conflict("token already used")
	}
	if t.now.After(tok.ExpiresAt) {
		return nil, InvariantViolation("enrollment expired")
	}

	agent, err := t.GetAgent(tok.AgentID)
	if err != nil {
		return nil, err
	}

	agent.CredentialHash = credentialHash
	agent.IP = host.IP
	agent.Hostname = host.Hostname
	agent.MAC = host.MAC
	agent.MachineID = host.MachineID
	agent.Devices = devices
	agent.Status = types.AgentOnline
	agent.LastHeartbeat = t.now
	if err := t.UpdateAgent(agent); err != nil {
		return nil, fmt.Errorf("install host identity: %w", err)
	}

	_, err = t.tx.Exec(`
		UPDATE enrollment_tokens SET used = 1, used_at = ?, used_by_agent = ? WHERE token = ?`,
		t.now, tok.AgentID, token,
	)
	if err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}

	return agent, nil
}

// ListEnrollmentTokens returns every enrollment token, for operator audit
// (spec.md §6.3 "enrollment token create/list/delete").
func (t *Tx) ListEnrollmentTokens() ([]*types.EnrollmentToken, error) {
	rows, err := t.tx.Query(`
		SELECT token, agent_id, created_by, created_at, expires_at, used, used_at, used_by_agent
		FROM enrollment_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list enrollment tokens: %w", err)
	}
	defer rows.Close()

	var out []*types.EnrollmentToken
	for rows.Next() {
		var e types.EnrollmentToken
		var usedAt sql.NullTime
		if err := rows.Scan(&e.Token, &e.AgentID, &e.CreatedBy, &e.CreatedAt, &e.ExpiresAt, &e.Used, &usedAt, &e.UsedByAgent); err != nil {
			return nil, fmt.Errorf("scan enrollment token: %w", err)
		}
		e.UsedAt = timePtr(usedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteEnrollmentToken removes a token row (operator revoke).
func (t *Tx) DeleteEnrollmentToken(token string) error {
	res, err := t.tx.Exec("DELETE FROM enrollment_tokens WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("delete enrollment token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("enrollment token", token)
	}
	return nil
}
