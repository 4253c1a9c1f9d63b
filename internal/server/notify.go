package server

import (
	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/types"
)

// EventNotifier adapts the Event Bus to the small Notifier interfaces each
// domain package declares (internal/assignment.Notifier,
// internal/recording.Notifier, internal/sweep.Notifier), so none of those
// packages import internal/events directly (spec.md §9 "avoid implicit
// global state" — here narrowed to avoiding a domain package depending on
// the transport's wire shape). Exported so the process entry point can
// build one and hand it to the Assignment Engine, Recording Coordinator,
// and Maintenance Sweep runner before the Server itself exists.
type EventNotifier = busNotifier

type busNotifier struct {
	bus *events.Bus
}

// NewEventNotifier builds an EventNotifier over bus.
func NewEventNotifier(bus *events.Bus) *EventNotifier {
	return &busNotifier{bus: bus}
}

func newBusNotifier(bus *events.Bus) *busNotifier {
	return &busNotifier{bus: bus}
}

func (n *busNotifier) NotifyChallengeAssigned(challengeID, agentID string, freqHz int64) {
	n.bus.Publish(events.NewEvent(events.EventChallengeAssigned, agentID, events.BroadcastRoom, map[string]interface{}{
		"challenge_id": challengeID,
		"agent_id":     agentID,
		"frequency_hz": freqHz,
	}))
}

func (n *busNotifier) NotifyTransmissionComplete(challengeID, agentID string, outcome types.TransmissionOutcome) {
	n.bus.Publish(events.NewEvent(events.EventTransmissionComplete, agentID, events.BroadcastRoom, map[string]interface{}{
		"challenge_id": challengeID,
		"agent_id":     agentID,
		"outcome":      string(outcome),
	}))
}

func (n *busNotifier) NotifyRecordingAssignment(a *types.RecordingAssignment) {
	n.bus.Publish(events.NewEvent(events.EventRecordingAssignment, "recording", events.AgentRoom(a.ReceiverAgentID), map[string]interface{}{
		"assignment_id": a.ID,
		"challenge_id":  a.ChallengeID,
		"frequency_hz":  a.FrequencyHz,
		"expected_start": a.ExpectedStartAt,
		"expected_duration_s": a.ExpectedDuration.Seconds(),
	}))
}

func (n *busNotifier) NotifyAssignmentCancelled(a *types.RecordingAssignment) {
	n.bus.Publish(events.NewEvent(events.EventAssignmentCancelled, "recording", events.AgentRoom(a.ReceiverAgentID), map[string]interface{}{
		"assignment_id": a.ID,
		"challenge_id":  a.ChallengeID,
	}))
}

func (n *busNotifier) NotifyAgentOffline(agentID string, requeuedChallengeIDs []string) {
	n.bus.Publish(events.NewEvent(events.EventAgentStatus, agentID, events.BroadcastRoom, map[string]interface{}{
		"agent_id":          agentID,
		"status":            string(types.AgentOffline),
		"requeued_challenges": requeuedChallengeIDs,
	}))
}

func (n *busNotifier) NotifyAssignmentExpired(challengeID string) {
	n.bus.Publish(events.NewEvent(events.EventChallengeAssigned, "sweep", events.BroadcastRoom, map[string]interface{}{
		"challenge_id": challengeID,
		"status":       "requeued",
	}))
}

// NotifyAgentEnabled reports an operator enable/disable toggle; called
// directly by the agent-admin handlers rather than through a Notifier
// interface since no domain package owns that transition.
func (n *busNotifier) NotifyAgentEnabled(agentID string, enabled bool) {
	n.bus.Publish(events.NewEvent(events.EventAgentEnabled, "operator", events.BroadcastRoom, map[string]interface{}{
		"agent_id": agentID,
		"enabled":  enabled,
	}))
}

// NotifyLog forwards a worker's push-log request to the bus (spec.md §6.1
// "push log ... forwarded to the Event Bus").
func (n *busNotifier) NotifyLog(agentID, level, message string) {
	n.bus.Publish(events.NewEvent(events.EventLog, agentID, events.BroadcastRoom, map[string]interface{}{
		"agent_id": agentID,
		"level":    level,
		"message":  message,
	}))
}

// NotifySystemPaused reports a global pause/resume toggle. Reuses the log
// event kind rather than inventing an eighth event type for what is, to a
// dashboard client, just an informational notice.
func (n *busNotifier) NotifySystemPaused(paused bool) {
	n.bus.Publish(events.NewEvent(events.EventLog, "operator", events.BroadcastRoom, map[string]interface{}{
		"level":   "system",
		"message": "paused",
		"paused":  paused,
	}))
}
