package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

func scanAgent(row interface {
	Scan(dest ...interface{}) error
}) (*types.Agent, error) {
	var a types.Agent
	var lastHeartbeat sql.NullTime
	var devicesJSON string

	err := row.Scan(
		&a.ID, &a.Kind, &a.Hostname, &a.IP, &a.MAC, &a.MachineID,
		&a.Status, &a.Enabled, &lastHeartbeat, &a.CredentialHash,
		&devicesJSON, &a.PushConnected, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastHeartbeat.Valid {
		a.LastHeartbeat = lastHeartbeat.Time
	}
	if err := json.Unmarshal([]byte(devicesJSON), &a.Devices); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return &a, nil
}

const agentColumns = `id, kind, hostname, ip, mac, machine_id, status, enabled,
	last_heartbeat, credential_hash, devices_json, push_connected, created_at`

// GetAgent returns NotFound if no agent with that id exists.
func (t *Tx) GetAgent(id string) (*types.Agent, error) {
	row := t.tx.QueryRow("SELECT "+agentColumns+" FROM agents WHERE id = ?", id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("agent", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// CreateAgent inserts a new agent row (used by enrollment's token-consume
// step and the stateless-automated provisioning flow).
func (t *Tx) CreateAgent(a *types.Agent) error {
	devicesJSON, err := json.Marshal(a.Devices)
	if err != nil {
		return fmt.Errorf("encode devices: %w", err)
	}
	_, err = t.tx.Exec(`
		INSERT INTO agents (id, kind, hostname, ip, mac, machine_id, status, enabled,
			last_heartbeat, credential_hash, devices_json, push_connected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.Hostname, a.IP, a.MAC, a.MachineID, a.Status, boolToInt(a.Enabled),
		nullTime(&a.LastHeartbeat), a.CredentialHash, string(devicesJSON), boolToInt(a.PushConnected), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// UpdateAgent persists the full row for an already-existing agent.
func (t *Tx) UpdateAgent(a *types.Agent) error {
	devicesJSON, err := json.Marshal(a.Devices)
	if err != nil {
		return fmt.Errorf("encode devices: %w", err)
	}
	res, err := t.tx.Exec(`
		UPDATE agents SET kind=?, hostname=?, ip=?, mac=?, machine_id=?, status=?, enabled=?,
			last_heartbeat=?, credential_hash=?, devices_json=?, push_connected=?
		WHERE id = ?`,
		a.Kind, a.Hostname, a.IP, a.MAC, a.MachineID, a.Status, boolToInt(a.Enabled),
		nullTime(&a.LastHeartbeat), a.CredentialHash, string(devicesJSON), boolToInt(a.PushConnected), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("agent", a.ID)
	}
	return nil
}

// RemoveAgent deletes an agent row. Operator-only per spec.md §3 lifecycle.
func (t *Tx) RemoveAgent(id string) error {
	res, err := t.tx.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("agent", id)
	}
	return nil
}

// RegisterHeartbeat records a heartbeat, optionally upgrading null host
// identifiers in place (spec.md §4.2 "If a stored identifier is null...").
func (t *Tx) RegisterHeartbeat(id, ip, hostname, mac, machineID string) error {
	a, err := t.GetAgent(id)
	if err != nil {
		return err
	}
	a.LastHeartbeat = t.now
	a.Status = types.AgentOnline
	if ip != "" {
		a.IP = ip
	}
	if hostname != "" {
		a.Hostname = hostname
	}
	if a.MAC == "" && mac != "" {
		a.MAC = mac
	}
	if a.MachineID == "" && machineID != "" {
		a.MachineID = machineID
	}
	return t.UpdateAgent(a)
}

// MarkAgentOffline sets an agent's status to offline (maintenance sweep or
// explicit signout, spec.md §4.1, §4.7).
func (t *Tx) MarkAgentOffline(id string) error {
	res, err := t.tx.Exec("UPDATE agents SET status = ? WHERE id = ?", types.AgentOffline, id)
	if err != nil {
		return fmt.Errorf("mark agent offline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("agent", id)
	}
	return nil
}

// ListStaleOnlineAgents returns online agents whose last heartbeat is
// older than cutoff, for the agent-offline sweep (spec.md §4.7).
func (t *Tx) ListStaleOnlineAgents(cutoff time.Time) ([]*types.Agent, error) {
	rows, err := t.tx.Query("SELECT "+agentColumns+" FROM agents WHERE status = ? AND last_heartbeat < ?",
		types.AgentOnline, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAgents returns every agent row, for operator dashboard reads.
func (t *Tx) ListAgents() ([]*types.Agent, error) {
	rows, err := t.tx.Query("SELECT " + agentColumns + " FROM agents ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListOnlinePushConnectedReceivers returns enabled receiver agents that are
// online and have an open push channel (spec.md §4.6 candidate pool).
func (t *Tx) ListOnlinePushConnectedReceivers() ([]*types.Agent, error) {
	rows, err := t.tx.Query("SELECT "+agentColumns+` FROM agents
		WHERE kind = ? AND enabled = 1 AND status = ? AND push_connected = 1
		ORDER BY id`, types.AgentKindReceiver, types.AgentOnline)
	if err != nil {
		return nil, fmt.Errorf("list receivers: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receiver: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetPushConnected flips an agent's push-channel-connected flag (spec.md
// §3 Agent invariant; set on websocket connect/disconnect).
func (t *Tx) SetPushConnected(id string, connected bool) error {
	res, err := t.tx.Exec("UPDATE agents SET push_connected = ? WHERE id = ?", boolToInt(connected), id)
	if err != nil {
		return fmt.Errorf("set push connected: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("agent", id)
	}
	return nil
}
