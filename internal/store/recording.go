package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/CLIAIMONITOR/internal/types"
)

func scanRecordingAssignment(row *sql.Row) (*types.RecordingAssignment, error) {
	var a types.RecordingAssignment
	var transmissionID sql.NullInt64
	var expectedDurationMs int64
	var cancelledAt, completedAt sql.NullTime
	err := row.Scan(&a.ID, &a.ReceiverAgentID, &a.ChallengeID, &transmissionID, &a.FrequencyHz,
		&a.AssignedAt, &a.ExpectedStartAt, &expectedDurationMs, &a.Status, &cancelledAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan recording assignment: %w", err)
	}
	a.TransmissionID = transmissionID.Int64
	a.ExpectedDuration = time.Duration(expectedDurationMs) * time.Millisecond
	a.CancelledAt = timePtr(cancelledAt)
	a.CompletedAt = timePtr(completedAt)
	return &a, nil
}

const recordingAssignmentColumns = `
	id, receiver_agent_id, challenge_id, transmission_id, frequency_hz,
	assigned_at, expected_start_at, expected_duration_ms, status, cancelled_at, completed_at`

// CreateRecordingAssignment inserts a pending recording directive (spec.md
// §4.6 "push a recording assignment to the selected receiver").
func (t *Tx) CreateRecordingAssignment(a *types.RecordingAssignment) (int64, error) {
	var transmissionID interface{}
	if a.TransmissionID != 0 {
		transmissionID = a.TransmissionID
	}
	res, err := t.tx.Exec(`
		INSERT INTO recording_assignments
			(receiver_agent_id, challenge_id, transmission_id, frequency_hz, assigned_at, expected_start_at, expected_duration_ms, status, cancelled_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		a.ReceiverAgentID, a.ChallengeID, transmissionID, a.FrequencyHz, a.AssignedAt, a.ExpectedStartAt,
		a.ExpectedDuration.Milliseconds(), types.RecordingPending,
	)
	if err != nil {
		return 0, fmt.Errorf("create recording assignment: %w", err)
	}
	return res.LastInsertId()
}

// GetRecordingAssignment returns NotFound if the id does not exist.
func (t *Tx) GetRecordingAssignment(id int64) (*types.RecordingAssignment, error) {
	row := t.tx.QueryRow("SELECT"+recordingAssignmentColumns+" FROM recording_assignments WHERE id = ?", id)
	a, err := scanRecordingAssignment(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("recording assignment", fmt.Sprintf("%d", id))
	}
	return a, err
}

// SetRecordingAssignmentStatus transitions a recording assignment's
// lifecycle state (spec.md §3 "pending | recording | completed | cancelled
// | failed").
func (t *Tx) SetRecordingAssignmentStatus(id int64, status types.RecordingAssignmentStatus) error {
	var completedAt, cancelledAt interface{}
	switch status {
	case types.RecordingCompleted, types.RecordingFailed:
		completedAt = t.now
	case types.RecordingCancelled:
		cancelledAt = t.now
	}
	res, err := t.tx.Exec(`
		UPDATE recording_assignments SET status = ?,
			completed_at = COALESCE(?, completed_at),
			cancelled_at = COALESCE(?, cancelled_at)
		WHERE id = ?`, status, completedAt, cancelledAt, id)
	if err != nil {
		return fmt.Errorf("set recording assignment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("recording assignment", fmt.Sprintf("%d", id))
	}
	return nil
}

// ListActiveRecordingAssignments returns every assignment in pending or
// recording state, for the Recording Coordinator's in-flight bookkeeping.
func (t *Tx) ListActiveRecordingAssignments() ([]*types.RecordingAssignment, error) {
	rows, err := t.tx.Query(`
		SELECT`+recordingAssignmentColumns+` FROM recording_assignments
		WHERE status IN (?, ?)`, types.RecordingPending, types.RecordingRecording)
	if err != nil {
		return nil, fmt.Errorf("list active recording assignments: %w", err)
	}
	defer rows.Close()

	var out []*types.RecordingAssignment
	for rows.Next() {
		var a types.RecordingAssignment
		var transmissionID sql.NullInt64
		var expectedDurationMs int64
		var cancelledAt, completedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ReceiverAgentID, &a.ChallengeID, &transmissionID, &a.FrequencyHz,
			&a.AssignedAt, &a.ExpectedStartAt, &expectedDurationMs, &a.Status, &cancelledAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan active recording assignment: %w", err)
		}
		a.TransmissionID = transmissionID.Int64
		a.ExpectedDuration = time.Duration(expectedDurationMs) * time.Millisecond
		a.CancelledAt = timePtr(cancelledAt)
		a.CompletedAt = timePtr(completedAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListActiveRecordingAssignmentsForReceiver narrows to a single receiver,
// for the Recording Coordinator's "is this receiver already busy" check
// (spec.md §4.6 selection criteria).
func (t *Tx) ListActiveRecordingAssignmentsForReceiver(receiverAgentID string) ([]*types.RecordingAssignment, error) {
	all, err := t.ListActiveRecordingAssignments()
	if err != nil {
		return nil, err
	}
	var out []*types.RecordingAssignment
	for _, a := range all {
		if a.ReceiverAgentID == receiverAgentID {
			out = append(out, a)
		}
	}
	return out, nil
}

// CreateRecording records a completed (or failed) capture (spec.md §4.6).
func (t *Tx) CreateRecording(r *types.Recording) (int64, error) {
	var transmissionID interface{}
	if r.TransmissionID != 0 {
		transmissionID = r.TransmissionID
	}
	res, err := t.tx.Exec(`
		INSERT INTO recordings
			(challenge_id, receiver_agent_id, transmission_id, frequency_hz, started_at, completed_at, outcome,
			 image_path, image_width, image_height, sample_rate_hz, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ChallengeID, r.ReceiverAgentID, transmissionID, r.FrequencyHz, r.StartedAt, r.CompletedAt, r.Outcome,
		r.ImagePath, r.ImageWidth, r.ImageHeight, r.SampleRateHz, r.Duration.Milliseconds(), r.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("create recording: %w", err)
	}
	return res.LastInsertId()
}

// ListRecordings returns recording history for a challenge, most recent
// first (spec.md §6.3 "recording history read").
func (t *Tx) ListRecordings(challengeID string, limit int) ([]*types.Recording, error) {
	rows, err := t.tx.Query(`
		SELECT id, challenge_id, receiver_agent_id, transmission_id, frequency_hz, started_at, completed_at,
			outcome, image_path, image_width, image_height, sample_rate_hz, duration_ms, error
		FROM recordings WHERE challenge_id = ? ORDER BY completed_at DESC LIMIT ?`, challengeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []*types.Recording
	for rows.Next() {
		var r types.Recording
		var transmissionID sql.NullInt64
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.ChallengeID, &r.ReceiverAgentID, &transmissionID, &r.FrequencyHz,
			&r.StartedAt, &r.CompletedAt, &r.Outcome, &r.ImagePath, &r.ImageWidth, &r.ImageHeight,
			&r.SampleRateHz, &durationMs, &r.Error); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		r.TransmissionID = transmissionID.Int64
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}
	return out, rows.Err()
}
