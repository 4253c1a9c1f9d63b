package events

import (
	"encoding/json"
	"testing"
	"time"
)

// TestEventType_String verifies event type constants
func TestEventType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		expected  string
	}{
		{"agent status event", EventAgentStatus, "agent_status"},
		{"agent enabled event", EventAgentEnabled, "agent_enabled"},
		{"challenge assigned event", EventChallengeAssigned, "challenge_assigned"},
		{"transmission complete event", EventTransmissionComplete, "transmission_complete"},
		{"recording assignment event", EventRecordingAssignment, "recording_assignment"},
		{"assignment cancelled event", EventAssignmentCancelled, "assignment_cancelled"},
		{"log event", EventLog, "log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.eventType) != tt.expected {
				t.Errorf("EventType = %v, want %v", tt.eventType, tt.expected)
			}
		})
	}
}

// TestAgentRoom verifies the private per-receiver room naming scheme
func TestAgentRoom(t *testing.T) {
	if got := AgentRoom("rx-1"); got != "agent_rx-1" {
		t.Errorf("AgentRoom(%q) = %q, want %q", "rx-1", got, "agent_rx-1")
	}
	if BroadcastRoom == AgentRoom("broadcast") {
		t.Errorf("BroadcastRoom collides with an agent room name")
	}
}

// TestEvent_JSON verifies JSON marshal/unmarshal round-trip
func TestEvent_JSON(t *testing.T) {
	original := &Event{
		ID:     "test-id-123",
		Type:   EventChallengeAssigned,
		Source: "dispatch",
		Target: "agent_rx-1",
		Payload: map[string]interface{}{
			"challenge_id": "chal-1",
			"frequency_hz": float64(146550000),
		},
		CreatedAt: time.Date(2025, 12, 8, 10, 0, 0, 0, time.UTC),
	}

	jsonData, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(jsonData, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %v, want %v", decoded.ID, original.ID)
	}
	if decoded.Type != original.Type {
		t.Errorf("Type = %v, want %v", decoded.Type, original.Type)
	}
	if decoded.Source != original.Source {
		t.Errorf("Source = %v, want %v", decoded.Source, original.Source)
	}
	if decoded.Target != original.Target {
		t.Errorf("Target = %v, want %v", decoded.Target, original.Target)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}

	if decoded.Payload["challenge_id"] != "chal-1" {
		t.Errorf("Payload.challenge_id = %v, want 'chal-1'", decoded.Payload["challenge_id"])
	}
	if decoded.Payload["frequency_hz"].(float64) != 146550000 {
		t.Errorf("Payload.frequency_hz = %v, want 146550000", decoded.Payload["frequency_hz"])
	}
}

// TestNewEvent verifies event constructor generates ID and UTC timestamp
func TestNewEvent(t *testing.T) {
	beforeCreate := time.Now()

	event := NewEvent(EventTransmissionComplete, "dispatch", AgentRoom("tx-1"), map[string]interface{}{
		"challenge_id": "chal-7",
	})

	afterCreate := time.Now()

	if event.ID == "" {
		t.Error("NewEvent did not generate ID")
	}
	if len(event.ID) != 36 {
		t.Errorf("Generated ID has unexpected length: %d, want 36", len(event.ID))
	}

	if event.CreatedAt.IsZero() {
		t.Error("NewEvent did not set CreatedAt timestamp")
	}
	if event.CreatedAt.Before(beforeCreate) || event.CreatedAt.After(afterCreate) {
		t.Errorf("CreatedAt timestamp %v is outside expected range [%v, %v]",
			event.CreatedAt, beforeCreate, afterCreate)
	}
	if event.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt should be UTC, got location %v", event.CreatedAt.Location())
	}

	if event.Type != EventTransmissionComplete {
		t.Errorf("Type = %v, want %v", event.Type, EventTransmissionComplete)
	}
	if event.Source != "dispatch" {
		t.Errorf("Source = %v, want 'dispatch'", event.Source)
	}
	if event.Target != AgentRoom("tx-1") {
		t.Errorf("Target = %v, want %v", event.Target, AgentRoom("tx-1"))
	}
	if event.Payload["challenge_id"] != "chal-7" {
		t.Errorf("Payload.challenge_id = %v, want 'chal-7'", event.Payload["challenge_id"])
	}
}

// TestAllEventTypes verifies the helper function returns all event types
func TestAllEventTypes(t *testing.T) {
	types := AllEventTypes()

	expectedCount := 7
	if len(types) != expectedCount {
		t.Errorf("AllEventTypes returned %d types, want %d", len(types), expectedCount)
	}

	typeMap := make(map[EventType]bool)
	for _, et := range types {
		typeMap[et] = true
	}

	expectedTypes := []EventType{
		EventAgentStatus,
		EventAgentEnabled,
		EventChallengeAssigned,
		EventTransmissionComplete,
		EventRecordingAssignment,
		EventAssignmentCancelled,
		EventLog,
	}

	for _, expected := range expectedTypes {
		if !typeMap[expected] {
			t.Errorf("AllEventTypes missing event type: %v", expected)
		}
	}
}
