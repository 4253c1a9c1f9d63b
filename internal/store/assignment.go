package store

import (
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

// AssignmentTTL is how long a dispatched assignment remains valid before the
// expiry sweep reclaims it (spec.md §4.5.6).
const AssignmentTTL = 5 * time.Minute

// AssignChallenge transitions a queued/waiting challenge to assigned, in
// the current transaction, for the given owner and sampled frequency. The
// caller (internal/assignment) has already verified eligibility and
// sampled the frequency; this only performs the state transition and
// enforces the assigned-iff-owner-and-expiry-non-null invariant (spec.md
// §3 Challenge invariants).
func (t *Tx) AssignChallenge(challengeID, agentID string) (*types.Challenge, error) {
	c, err := t.GetChallenge(challengeID)
	if err != nil {
		return nil, err
	}
	if c.Status != types.ChallengeQueued && c.Status != types.ChallengeWaiting {
		return nil, InvariantViolation(fmt.Sprintf("challenge %s not dispatchable from status %s", challengeID, c.Status))
	}
	if c.OwnerAgentID != "" {
		return nil, Conflict(fmt.Sprintf("challenge %s already owned by %s", challengeID, c.OwnerAgentID))
	}

	begin := t.now
	expiry := begin.Add(AssignmentTTL)
	_, err = t.tx.Exec(`
		UPDATE challenges SET status = ?, owner_agent_id = ?, assignment_begin = ?, assignment_expiry = ?
		WHERE id = ? AND owner_agent_id IS NULL`,
		types.ChallengeAssigned, agentID, begin, expiry, challengeID,
	)
	if err != nil {
		return nil, fmt.Errorf("assign challenge: %w", err)
	}

	c.Status = types.ChallengeAssigned
	c.OwnerAgentID = agentID
	c.AssignmentBegin = &begin
	c.AssignmentExpiry = &expiry
	return c, nil
}

// CompleteAssignment records a transmission report (spec.md §4.5.9). If the
// challenge's current owner matches agentID, ownership clears and the
// challenge moves to waiting; otherwise (expired + reassigned, spec.md
// §4.5.6/§4.5.10) only the transmission record and transmit_count are
// appended — current ownership is untouched.
func (t *Tx) CompleteAssignment(challengeID, agentID string, outcome types.TransmissionOutcome, errText string, freqHz int64, startedAt time.Time) (*types.TransmissionRecord, bool, error) {
	c, err := t.GetChallenge(challengeID)
	if err != nil {
		return nil, false, err
	}

	completedAt := t.now
	wasOwner := c.OwnerAgentID == agentID

	res, err := t.tx.Exec(`
		INSERT INTO transmissions (challenge_id, agent_id, device_id, frequency_hz, started_at, completed_at, outcome, error)
		VALUES (?, ?, '', ?, ?, ?, ?, ?)`,
		challengeID, agentID, freqHz, startedAt, completedAt, outcome, errText,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert transmission record: %w", err)
	}
	recID, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("get transmission id: %w", err)
	}

	if wasOwner {
		_, err = t.tx.Exec(`
			UPDATE challenges SET status = ?, owner_agent_id = NULL, assignment_begin = NULL, assignment_expiry = NULL,
				last_tx_time = ?, transmit_count = transmit_count + 1
			WHERE id = ? AND owner_agent_id = ?`,
			types.ChallengeWaiting, completedAt, challengeID, agentID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("complete assignment: %w", err)
		}
	} else {
		_, err = t.tx.Exec("UPDATE challenges SET transmit_count = transmit_count + 1 WHERE id = ?", challengeID)
		if err != nil {
			return nil, false, fmt.Errorf("increment transmit count: %w", err)
		}
	}

	rec := &types.TransmissionRecord{
		ID: recID, ChallengeID: challengeID, AgentID: agentID, FrequencyHz: freqHz,
		StartedAt: startedAt, CompletedAt: completedAt, Outcome: outcome, Error: errText,
	}
	return rec, wasOwner, nil
}

// RequeueOwnedBy clears ownership of every challenge currently owned by
// agentID and returns them to queued, without touching last_tx_time
// (spec.md §4.5.1 "owner marked offline" row; used by the agent-offline
// sweep).
func (t *Tx) RequeueOwnedBy(agentID string) ([]string, error) {
	rows, err := t.tx.Query("SELECT id FROM challenges WHERE owner_agent_id = ?", agentID)
	if err != nil {
		return nil, fmt.Errorf("query owned challenges: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan owned challenge: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = t.tx.Exec(`
		UPDATE challenges SET status = ?, owner_agent_id = NULL, assignment_begin = NULL, assignment_expiry = NULL
		WHERE owner_agent_id = ?`, types.ChallengeQueued, agentID)
	if err != nil {
		return nil, fmt.Errorf("requeue owned challenges: %w", err)
	}
	return ids, nil
}

// ExpireStaleAssignments reclaims every assigned challenge whose
// assignment_expiry has passed, returning to queued (spec.md §4.5.6,
// §4.7). Returns the ids reclaimed, for event emission.
func (t *Tx) ExpireStaleAssignments() ([]string, error) {
	rows, err := t.tx.Query(`SELECT id FROM challenges
		WHERE status = ? AND owner_agent_id IS NOT NULL AND assignment_expiry < ?`,
		types.ChallengeAssigned, t.now)
	if err != nil {
		return nil, fmt.Errorf("query expired assignments: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired assignment: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		_, err = t.tx.Exec(`
			UPDATE challenges SET status = ?, owner_agent_id = NULL, assignment_begin = NULL, assignment_expiry = NULL
			WHERE id = ?`, types.ChallengeQueued, id)
		if err != nil {
			return nil, fmt.Errorf("expire assignment %s: %w", id, err)
		}
	}
	return ids, nil
}

// TriggerNow implements the operator "trigger now" action (spec.md
// §4.5.8): a waiting challenge jumps the delay straight to queued; a
// disabled challenge errors; an assigned challenge is a no-op.
func (t *Tx) TriggerNow(challengeID string) error {
	c, err := t.GetChallenge(challengeID)
	if err != nil {
		return err
	}
	switch c.Status {
	case types.ChallengeWaiting:
		_, err := t.tx.Exec("UPDATE challenges SET status = ? WHERE id = ?", types.ChallengeQueued, challengeID)
		if err != nil {
			return fmt.Errorf("trigger now: %w", err)
		}
		return nil
	case types.ChallengeDisabled:
		return InvariantViolation("cannot trigger a disabled challenge")
	case types.ChallengeAssigned:
		return nil // no-op per spec.md §4.5.8
	case types.ChallengeQueued:
		return nil // already queued
	default:
		return InvariantViolation("unknown challenge status: " + string(c.Status))
	}
}

// EnableChallenge toggles the enabled flag on, returning the challenge to
// queued per the state machine table (spec.md §4.5.1 "disabled | enable
// toggle on | queued").
func (t *Tx) EnableChallenge(challengeID string) error {
	c, err := t.GetChallenge(challengeID)
	if err != nil {
		return err
	}
	if c.Status != types.ChallengeDisabled {
		return t.SetChallengeEnabled(challengeID, true)
	}
	if err := t.SetChallengeEnabled(challengeID, true); err != nil {
		return err
	}
	return t.SetChallengeStatus(challengeID, types.ChallengeQueued)
}

// DisableChallenge toggles the enabled flag off. If the challenge is
// currently assigned, it is first returned to queued and ownership
// cleared, then marked disabled (spec.md §4.5.1 "* | enable toggle off |
// disabled | if assigned, first transition to queued").
func (t *Tx) DisableChallenge(challengeID string) error {
	c, err := t.GetChallenge(challengeID)
	if err != nil {
		return err
	}
	if c.Status == types.ChallengeAssigned {
		_, err := t.tx.Exec(`
			UPDATE challenges SET owner_agent_id = NULL, assignment_begin = NULL, assignment_expiry = NULL
			WHERE id = ?`, challengeID)
		if err != nil {
			return fmt.Errorf("clear ownership before disable: %w", err)
		}
	}
	if err := t.SetChallengeEnabled(challengeID, false); err != nil {
		return err
	}
	return t.SetChallengeStatus(challengeID, types.ChallengeDisabled)
}

// ListTransmissions returns transmission history for a challenge, most
// recent first (spec.md §6.3 "transmission history read").
func (t *Tx) ListTransmissions(challengeID string, limit int) ([]*types.TransmissionRecord, error) {
	rows, err := t.tx.Query(`
		SELECT id, challenge_id, agent_id, device_id, frequency_hz, started_at, completed_at, outcome, error
		FROM transmissions WHERE challenge_id = ? ORDER BY completed_at DESC LIMIT ?`, challengeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transmissions: %w", err)
	}
	defer rows.Close()

	var out []*types.TransmissionRecord
	for rows.Next() {
		var r types.TransmissionRecord
		if err := rows.Scan(&r.ID, &r.ChallengeID, &r.AgentID, &r.DeviceID, &r.FrequencyHz,
			&r.StartedAt, &r.CompletedAt, &r.Outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("scan transmission: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CountTransmissionsSince returns how many transmissions a challenge has
// recorded after the given instant, for the Recording Coordinator's
// priority score (spec.md §4.6).
func (t *Tx) CountTransmissionsSince(challengeID string, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM transmissions WHERE challenge_id = ? AND completed_at > ?`,
		challengeID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transmissions since: %w", err)
	}
	return n, nil
}
