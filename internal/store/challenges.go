package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CLIAIMONITOR/internal/types"
)

const challengeColumns = `id, name, freq_kind, freq_single_hz, freq_named_ranges, freq_manual_min, freq_manual_max,
	modulation, payload_text, payload_hash, params_json, public_view, min_delay_s, max_delay_s,
	status, priority, last_tx_time, transmit_count, owner_agent_id, assignment_begin, assignment_expiry,
	enabled, created_at`

func scanChallenge(row interface{ Scan(dest ...interface{}) error }) (*types.Challenge, error) {
	var c types.Challenge
	var freqSingle, manualMin, manualMax sql.NullInt64
	var namedRangesJSON, paramsJSON string
	var lastTx, assignBegin, assignExpiry sql.NullTime
	var owner sql.NullString

	err := row.Scan(
		&c.ID, &c.Name, &c.Config.Frequency.Kind, &freqSingle, &namedRangesJSON, &manualMin, &manualMax,
		&c.Config.Modulation, &c.Config.Payload.Text, &c.Config.Payload.ArtifactHash, &paramsJSON, &c.Config.PublicView,
		&c.Config.MinDelayS, &c.Config.MaxDelayS,
		&c.Status, &c.Priority, &lastTx, &c.TransmitCount, &owner, &assignBegin, &assignExpiry,
		&c.Enabled, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if freqSingle.Valid {
		c.Config.Frequency.SingleHz = freqSingle.Int64
	}
	if err := json.Unmarshal([]byte(namedRangesJSON), &c.Config.Frequency.NamedRanges); err != nil {
		return nil, fmt.Errorf("decode named ranges: %w", err)
	}
	if manualMin.Valid && manualMax.Valid {
		c.Config.Frequency.Manual = &types.FreqRangeRaw{MinHz: manualMin.Int64, MaxHz: manualMax.Int64}
	}
	if err := json.Unmarshal([]byte(paramsJSON), &c.Config.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	c.LastTxTime = timePtr(lastTx)
	c.AssignmentBegin = timePtr(assignBegin)
	c.AssignmentExpiry = timePtr(assignExpiry)
	if owner.Valid {
		c.OwnerAgentID = owner.String
	}
	return &c, nil
}

// GetChallenge returns NotFound if no challenge with that id exists.
func (t *Tx) GetChallenge(id string) (*types.Challenge, error) {
	row := t.tx.QueryRow("SELECT "+challengeColumns+" FROM challenges WHERE id = ?", id)
	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("challenge", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return c, nil
}

// GetChallengeByName looks up a challenge by its unique name.
func (t *Tx) GetChallengeByName(name string) (*types.Challenge, error) {
	row := t.tx.QueryRow("SELECT "+challengeColumns+" FROM challenges WHERE name = ?", name)
	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("challenge", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge by name: %w", err)
	}
	return c, nil
}

// ListChallenges returns every challenge row, for operator dashboard reads.
func (t *Tx) ListChallenges() ([]*types.Challenge, error) {
	rows, err := t.tx.Query("SELECT " + challengeColumns + " FROM challenges ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []*types.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDispatchCandidates returns every enabled, unassigned challenge in
// status queued or waiting, for the assignment engine to filter/sample
// further (spec.md §4.5.3). The waiting-delay comparison itself is left to the
// caller, which has the mean-delay formula; this only excludes disabled,
// assigned, or never-enabled challenges.
func (t *Tx) ListDispatchCandidates() ([]*types.Challenge, error) {
	rows, err := t.tx.Query("SELECT "+challengeColumns+` FROM challenges
		WHERE enabled = 1 AND owner_agent_id IS NULL AND status IN (?, ?)`,
		types.ChallengeQueued, types.ChallengeWaiting)
	if err != nil {
		return nil, fmt.Errorf("list dispatch candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeChallengeConfig(c types.ChallengeConfig) (namedRangesJSON, paramsJSON string, err error) {
	nr, err := json.Marshal(c.Frequency.NamedRanges)
	if err != nil {
		return "", "", fmt.Errorf("encode named ranges: %w", err)
	}
	p, err := json.Marshal(c.Params)
	if err != nil {
		return "", "", fmt.Errorf("encode params: %w", err)
	}
	return string(nr), string(p), nil
}

// CreateChallenge inserts a new challenge row. Returns Conflict if the name
// is already taken (spec.md §7 "challenge exists").
func (t *Tx) CreateChallenge(c *types.Challenge) error {
	namedRangesJSON, paramsJSON, err := encodeChallengeConfig(c.Config)
	if err != nil {
		return err
	}

	var freqSingle, manualMin, manualMax sql.NullInt64
	if c.Config.Frequency.Kind == types.FrequencySingle {
		freqSingle = sql.NullInt64{Int64: c.Config.Frequency.SingleHz, Valid: true}
	}
	if c.Config.Frequency.Kind == types.FrequencyManual && c.Config.Frequency.Manual != nil {
		manualMin = sql.NullInt64{Int64: c.Config.Frequency.Manual.MinHz, Valid: true}
		manualMax = sql.NullInt64{Int64: c.Config.Frequency.Manual.MaxHz, Valid: true}
	}

	_, err = t.tx.Exec(`
		INSERT INTO challenges (id, name, freq_kind, freq_single_hz, freq_named_ranges, freq_manual_min, freq_manual_max,
			modulation, payload_text, payload_hash, params_json, public_view, min_delay_s, max_delay_s,
			status, priority, last_tx_time, transmit_count, owner_agent_id, assignment_begin, assignment_expiry,
			enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Config.Frequency.Kind, freqSingle, namedRangesJSON, manualMin, manualMax,
		c.Config.Modulation, c.Config.Payload.Text, c.Config.Payload.ArtifactHash, paramsJSON, boolToInt(c.Config.PublicView),
		c.Config.MinDelayS, c.Config.MaxDelayS,
		c.Status, c.Priority, nullTime(c.LastTxTime), c.TransmitCount, sql.NullString{}, nullTime(c.AssignmentBegin), nullTime(c.AssignmentExpiry),
		boolToInt(c.Enabled), c.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Conflict("challenge exists: " + c.Name)
		}
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

// UpdateChallengeConfig updates the editable configuration fields of an
// existing challenge without disturbing its assignment state.
func (t *Tx) UpdateChallengeConfig(id string, cfg types.ChallengeConfig, priority int) error {
	namedRangesJSON, paramsJSON, err := encodeChallengeConfig(cfg)
	if err != nil {
		return err
	}
	var freqSingle, manualMin, manualMax sql.NullInt64
	if cfg.Frequency.Kind == types.FrequencySingle {
		freqSingle = sql.NullInt64{Int64: cfg.Frequency.SingleHz, Valid: true}
	}
	if cfg.Frequency.Kind == types.FrequencyManual && cfg.Frequency.Manual != nil {
		manualMin = sql.NullInt64{Int64: cfg.Frequency.Manual.MinHz, Valid: true}
		manualMax = sql.NullInt64{Int64: cfg.Frequency.Manual.MaxHz, Valid: true}
	}

	res, err := t.tx.Exec(`
		UPDATE challenges SET freq_kind=?, freq_single_hz=?, freq_named_ranges=?, freq_manual_min=?, freq_manual_max=?,
			modulation=?, payload_text=?, payload_hash=?, params_json=?, public_view=?, min_delay_s=?, max_delay_s=?, priority=?
		WHERE id = ?`,
		cfg.Frequency.Kind, freqSingle, namedRangesJSON, manualMin, manualMax,
		cfg.Modulation, cfg.Payload.Text, cfg.Payload.ArtifactHash, paramsJSON, boolToInt(cfg.PublicView),
		cfg.MinDelayS, cfg.MaxDelayS, priority, id,
	)
	if err != nil {
		return fmt.Errorf("update challenge config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("challenge", id)
	}
	return nil
}

// SetChallengeStatus transitions a challenge's status column directly; used
// by the enable/disable toggle (spec.md §4.5.1 "* | enable toggle off").
func (t *Tx) SetChallengeStatus(id string, status types.ChallengeStatus) error {
	res, err := t.tx.Exec("UPDATE challenges SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set challenge status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("challenge", id)
	}
	return nil
}

// SetChallengeEnabled flips the enabled flag. Callers are responsible for
// the accompanying status transition per the state machine table.
func (t *Tx) SetChallengeEnabled(id string, enabled bool) error {
	res, err := t.tx.Exec("UPDATE challenges SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set challenge enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("challenge", id)
	}
	return nil
}

// RemoveChallenge deletes a challenge row entirely (operator CRUD).
func (t *Tx) RemoveChallenge(id string) error {
	res, err := t.tx.Exec("DELETE FROM challenges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("challenge", id)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
