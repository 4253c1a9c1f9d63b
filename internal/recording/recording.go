// Package recording implements the Recording Coordinator (spec.md §4.6):
// after the Assignment Engine dispatches a challenge, it scores the
// dispatch for recording priority and, if the score clears threshold,
// pushes a recording directive to an idle receiver agent. The scoring and
// selection logic runs inside the same single-writer transaction model the
// Assignment Engine uses (internal/assignment), grounded on the
// threshold-comparison shape of the teacher's internal/metrics alert
// checker.
package recording

import (
	"context"
	"math"
	"time"

	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

// DefaultThreshold is the score a dispatch must clear before a recording
// directive is pushed (spec.md §4.6 "default 10.0").
const DefaultThreshold = 10.0

// maxScore is the score ceiling (spec.md §4.6 "clamped to 1000.0").
const maxScore = 1000.0

// startSlack is added to a transmission's start time so the receiver has a
// moment to spin up before the expected capture window begins.
const startSlack = 5 * time.Second

// Notifier reports recording-coordinator state changes to the Event Bus
// (spec.md §4.8) without this package depending on its wire shape.
type Notifier interface {
	NotifyRecordingAssignment(a *types.RecordingAssignment)
	NotifyAssignmentCancelled(a *types.RecordingAssignment)
}

// Coordinator evaluates dispatch priority and manages recording assignment
// lifecycle against a Store.
type Coordinator struct {
	store     *store.Store
	notify    Notifier
	threshold float64
}

// NewCoordinator builds a Coordinator. A threshold of zero or less falls
// back to DefaultThreshold. notify may be nil, in which case pushes are
// silent (used in tests).
func NewCoordinator(s *store.Store, notify Notifier, threshold float64) *Coordinator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Coordinator{store: s, notify: notify, threshold: threshold}
}

// Score computes a challenge's recording priority score (spec.md §4.6).
// hasPriorRecording false means the challenge has never been captured, in
// which case the score is always the ceiling.
func Score(priority int, transmissionsSinceLastRecording int, minutesSinceLastRecording float64, hasPriorRecording bool) float64 {
	if !hasPriorRecording {
		return maxScore
	}
	score := float64(transmissionsSinceLastRecording) * math.Min(10.0, minutesSinceLastRecording/60.0) * (float64(priority) / 10.0)
	return math.Min(score, maxScore)
}

// Evaluate runs immediately after a successful dispatch: it scores the
// challenge, and if the score clears threshold and an idle eligible
// receiver exists, creates a pending recording assignment and returns it
// (spec.md §4.6 steps 1-3). A nil, nil return means no assignment was
// made — either the score did not clear threshold or no receiver was
// available.
func (c *Coordinator) Evaluate(ctx context.Context, challengeID string, transmissionID int64, priority int, freqHz int64, startedAt time.Time, expectedDuration time.Duration) (*types.RecordingAssignment, error) {
	var assignment *types.RecordingAssignment
	err := c.store.WithWrite(ctx, func(tx *store.Tx) error {
		lastRecordings, err := tx.ListRecordings(challengeID, 1)
		if err != nil {
			return err
		}

		var score float64
		if len(lastRecordings) == 0 {
			score = Score(priority, 0, 0, false)
		} else {
			last := lastRecordings[0]
			n, err := tx.CountTransmissionsSince(challengeID, last.CompletedAt)
			if err != nil {
				return err
			}
			minutesSince := tx.Now().Sub(last.CompletedAt).Minutes()
			score = Score(priority, n, minutesSince, true)
		}
		if score < c.threshold {
			return nil
		}

		receiver, err := c.pickReceiver(tx)
		if err != nil {
			return err
		}
		if receiver == nil {
			return nil
		}

		a := &types.RecordingAssignment{
			ReceiverAgentID:  receiver.ID,
			ChallengeID:      challengeID,
			TransmissionID:   transmissionID,
			FrequencyHz:      freqHz,
			AssignedAt:       tx.Now(),
			ExpectedStartAt:  startedAt.Add(startSlack),
			ExpectedDuration: expectedDuration,
			Status:           types.RecordingPending,
		}
		id, err := tx.CreateRecordingAssignment(a)
		if err != nil {
			return err
		}
		a.ID = id
		assignment = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if assignment != nil && c.notify != nil {
		c.notify.NotifyRecordingAssignment(assignment)
	}
	return assignment, nil
}

// pickReceiver selects the first enabled, online, push-connected receiver
// that has no in-flight recording assignment (spec.md §4.6 "picks the
// first available receiver").
func (c *Coordinator) pickReceiver(tx *store.Tx) (*types.Agent, error) {
	receivers, err := tx.ListOnlinePushConnectedReceivers()
	if err != nil {
		return nil, err
	}
	for _, r := range receivers {
		if !r.Enabled {
			continue
		}
		busy, err := tx.ListActiveRecordingAssignmentsForReceiver(r.ID)
		if err != nil {
			return nil, err
		}
		if len(busy) > 0 {
			continue
		}
		return r, nil
	}
	return nil, nil
}

// ReportStarted transitions a pushed assignment to recording, the
// receiver's "recording started" callback (spec.md §4.6).
func (c *Coordinator) ReportStarted(ctx context.Context, assignmentID int64) error {
	return c.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.SetRecordingAssignmentStatus(assignmentID, types.RecordingRecording)
	})
}

// ReportCompleted transitions an assignment to completed and stores the
// capture, the receiver's "recording completed" callback uploading the
// waterfall image by hash (spec.md §4.6). rec's challenge/receiver/
// transmission/frequency fields are filled in from the assignment, not the
// caller, so a receiver cannot misattribute a capture.
func (c *Coordinator) ReportCompleted(ctx context.Context, assignmentID int64, rec *types.Recording) (int64, error) {
	var recordingID int64
	err := c.store.WithWrite(ctx, func(tx *store.Tx) error {
		a, err := tx.GetRecordingAssignment(assignmentID)
		if err != nil {
			return err
		}
		rec.ChallengeID = a.ChallengeID
		rec.ReceiverAgentID = a.ReceiverAgentID
		rec.TransmissionID = a.TransmissionID
		rec.FrequencyHz = a.FrequencyHz
		id, err := tx.CreateRecording(rec)
		if err != nil {
			return err
		}
		recordingID = id
		return tx.SetRecordingAssignmentStatus(assignmentID, types.RecordingCompleted)
	})
	return recordingID, err
}

// ReportFailed transitions an assignment to failed, the receiver's
// "recording failed" callback (spec.md §4.6).
func (c *Coordinator) ReportFailed(ctx context.Context, assignmentID int64) error {
	return c.store.WithWrite(ctx, func(tx *store.Tx) error {
		return tx.SetRecordingAssignmentStatus(assignmentID, types.RecordingFailed)
	})
}

// CancelForTransmissionFailure cancels a challenge's pending recording
// assignment for a transmission that completed with failure before the
// receiver started (spec.md §4.6), pushing assignment_cancelled to the
// receiver. Matched by challengeID alone rather than by transmission id:
// Evaluate is called at poll time, before the transmission row exists, so
// the assignment it creates carries no real transmission id to match
// against later; a challenge has at most one in-flight recording
// assignment at a time, so challengeID + status=pending identifies it
// unambiguously.
func (c *Coordinator) CancelForTransmissionFailure(ctx context.Context, challengeID string) error {
	var cancelled *types.RecordingAssignment
	err := c.store.WithWrite(ctx, func(tx *store.Tx) error {
		active, err := tx.ListActiveRecordingAssignments()
		if err != nil {
			return err
		}
		for _, a := range active {
			if a.ChallengeID != challengeID || a.Status != types.RecordingPending {
				continue
			}
			if err := tx.SetRecordingAssignmentStatus(a.ID, types.RecordingCancelled); err != nil {
				return err
			}
			cancelled = a
			return nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled != nil && c.notify != nil {
		c.notify.NotifyAssignmentCancelled(cancelled)
	}
	return nil
}
