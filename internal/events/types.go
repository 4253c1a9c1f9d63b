// Package events is ChallengeCtl's Event Bus (spec.md §4.8): a server-push
// channel that multicasts state changes to operator clients and pushes
// targeted recording directives to receiver agents. Subscriptions are
// keyed by "room" — BroadcastRoom for every operator dashboard client, or
// AgentRoom(id) for one receiver's private channel.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType is one of spec.md §4.8's emitted event kinds.
type EventType string

const (
	EventAgentStatus          EventType = "agent_status"
	EventAgentEnabled         EventType = "agent_enabled"
	EventChallengeAssigned    EventType = "challenge_assigned"
	EventTransmissionComplete EventType = "transmission_complete"
	EventRecordingAssignment  EventType = "recording_assignment"
	EventAssignmentCancelled  EventType = "assignment_cancelled"
	EventLog                  EventType = "log"
)

// BroadcastRoom is the room every operator-session-authenticated
// subscriber joins (spec.md §4.8 "operator subscribers join a 'broadcast'
// room").
const BroadcastRoom = "broadcast"

// AgentRoom returns the private room name a receiver agent's push
// connection joins (spec.md §4.8 "every receiver agent joins a private
// agent_<id> room").
func AgentRoom(agentID string) string {
	return "agent_" + agentID
}

// AllEventTypes returns every defined event kind.
func AllEventTypes() []EventType {
	return []EventType{
		EventAgentStatus,
		EventAgentEnabled,
		EventChallengeAssigned,
		EventTransmissionComplete,
		EventRecordingAssignment,
		EventAssignmentCancelled,
		EventLog,
	}
}

// Event is a single state-change notification pushed through the bus. Best
// effort: a subscriber that disconnects and reconnects does not receive
// what it missed (spec.md §4.8) — the persisted log (store.go) exists only
// for the operator "log tail" / reconnect-reconciliation read, not replay.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent builds an Event with a generated id and a UTC timestamp (spec.md
// §4.8 "each carries ISO-8601 UTC timestamps").
func NewEvent(eventType EventType, source, target string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
