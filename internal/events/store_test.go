package events

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)

	event := NewEvent(
		EventChallengeAssigned,
		"dispatch",
		AgentRoom("rx-1"),
		map[string]interface{}{
			"challenge_id": "chal-1",
			"frequency_hz": 42,
		},
	)

	if err := store.Save(event); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	pending, err := store.GetPending(AgentRoom("rx-1"), nil)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}

	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(pending))
	}

	retrieved := pending[0]
	if retrieved.ID != event.ID {
		t.Errorf("expected ID %s, got %s", event.ID, retrieved.ID)
	}
	if retrieved.Type != event.Type {
		t.Errorf("expected Type %s, got %s", event.Type, retrieved.Type)
	}
	if retrieved.Source != event.Source {
		t.Errorf("expected Source %s, got %s", event.Source, retrieved.Source)
	}
	if retrieved.Target != event.Target {
		t.Errorf("expected Target %s, got %s", event.Target, retrieved.Target)
	}

	if msg, ok := retrieved.Payload["challenge_id"].(string); !ok || msg != "chal-1" {
		t.Errorf("expected payload challenge_id 'chal-1', got %v", retrieved.Payload["challenge_id"])
	}
	if freq, ok := retrieved.Payload["frequency_hz"].(float64); !ok || freq != 42 {
		t.Errorf("expected payload frequency_hz 42, got %v", retrieved.Payload["frequency_hz"])
	}
}

func TestSQLiteStore_MarkDelivered(t *testing.T) {
	store := setupTestDB(t)

	event := NewEvent(
		EventChallengeAssigned,
		"dispatch",
		AgentRoom("rx-1"),
		map[string]interface{}{"test": "data"},
	)

	if err := store.Save(event); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	pending, err := store.GetPending(AgentRoom("rx-1"), nil)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(pending))
	}

	if err := store.MarkDelivered(event.ID); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	pending, err = store.GetPending(AgentRoom("rx-1"), nil)
	if err != nil {
		t.Fatalf("GetPending failed after marking delivered: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending events after marking delivered, got %d", len(pending))
	}
}

func TestSQLiteStore_FilterByType(t *testing.T) {
	store := setupTestDB(t)

	event1 := NewEvent(EventChallengeAssigned, "dispatch", "target1", map[string]interface{}{"msg": "one"})
	event2 := NewEvent(EventAgentStatus, "sweep", "target1", map[string]interface{}{"msg": "two"})
	event3 := NewEvent(EventTransmissionComplete, "dispatch", "target1", map[string]interface{}{"msg": "three"})

	store.Save(event1)
	store.Save(event2)
	store.Save(event3)

	allPending, err := store.GetPending("target1", nil)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(allPending) != 3 {
		t.Errorf("expected 3 pending events, got %d", len(allPending))
	}

	assignedPending, err := store.GetPending("target1", []EventType{EventChallengeAssigned})
	if err != nil {
		t.Fatalf("GetPending with filter failed: %v", err)
	}
	if len(assignedPending) != 1 {
		t.Errorf("expected 1 challenge_assigned event, got %d", len(assignedPending))
	}
	if assignedPending[0].Type != EventChallengeAssigned {
		t.Errorf("expected EventChallengeAssigned, got %s", assignedPending[0].Type)
	}

	multiTypePending, err := store.GetPending("target1", []EventType{EventAgentStatus, EventTransmissionComplete})
	if err != nil {
		t.Fatalf("GetPending with multiple type filter failed: %v", err)
	}
	if len(multiTypePending) != 2 {
		t.Errorf("expected 2 events (status+transmission), got %d", len(multiTypePending))
	}

	foundStatus := false
	foundTx := false
	for _, e := range multiTypePending {
		if e.Type == EventAgentStatus {
			foundStatus = true
		}
		if e.Type == EventTransmissionComplete {
			foundTx = true
		}
	}
	if !foundStatus || !foundTx {
		t.Errorf("expected both status and transmission events, got status=%v tx=%v", foundStatus, foundTx)
	}
}

func TestSQLiteStore_GetPendingForBroadcast(t *testing.T) {
	store := setupTestDB(t)

	event1 := NewEvent(EventChallengeAssigned, "dispatch", "target1", map[string]interface{}{"msg": "one"})
	event2 := NewEvent(EventChallengeAssigned, "dispatch", "target2", map[string]interface{}{"msg": "two"})
	event3 := NewEvent(EventAgentStatus, "sweep", BroadcastRoom, map[string]interface{}{"msg": "broadcast"})

	store.Save(event1)
	store.Save(event2)
	store.Save(event3)

	pending1, err := store.GetPending("target1", nil)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending1) != 2 {
		t.Errorf("expected 2 events for target1 (itself + broadcast), got %d", len(pending1))
	}

	pending2, err := store.GetPending("target2", nil)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending2) != 2 {
		t.Errorf("expected 2 events for target2 (itself + broadcast), got %d", len(pending2))
	}

	pendingBroadcast, err := store.GetPending(BroadcastRoom, nil)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pendingBroadcast) != 1 {
		t.Errorf("expected 1 event for broadcast target, got %d", len(pendingBroadcast))
	}
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	store := setupTestDB(t)

	oldEvent := NewEvent(EventChallengeAssigned, "dispatch", "target1", map[string]interface{}{"msg": "old"})
	oldEvent.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	newEvent := NewEvent(EventChallengeAssigned, "dispatch", "target1", map[string]interface{}{"msg": "new"})

	store.Save(oldEvent)
	store.Save(newEvent)

	store.MarkDelivered(oldEvent.ID)

	if err := store.Cleanup(1 * time.Hour); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM events WHERE id = ?", oldEvent.ID).Scan(&count); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected old delivered event to be cleaned up, but it still exists")
	}

	if err := store.db.QueryRow("SELECT COUNT(*) FROM events WHERE id = ?", newEvent.ID).Scan(&count); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected new event to still exist, but count is %d", count)
	}
}
