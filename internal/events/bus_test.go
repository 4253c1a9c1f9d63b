package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventChallengeAssigned})

	event := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-1",
	})
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, received.ID)
		}
		if received.Type != EventChallengeAssigned {
			t.Errorf("Expected event type %s, got %s", EventChallengeAssigned, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive event within timeout")
	}

	bus.Unsubscribe(AgentRoom("rx-1"), ch)
}

func TestBus_FilterByType(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventTransmissionComplete})

	txEvent := NewEvent(EventTransmissionComplete, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-1",
	})
	bus.Publish(txEvent)

	select {
	case received := <-ch:
		if received.Type != EventTransmissionComplete {
			t.Errorf("Expected event type %s, got %s", EventTransmissionComplete, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive transmission complete event")
	}

	assignedEvent := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-2",
	})
	bus.Publish(assignedEvent)

	select {
	case received := <-ch:
		t.Errorf("Should not have received event type %s", received.Type)
	case <-time.After(100 * time.Millisecond):
		// Expected timeout
	}

	bus.Unsubscribe(AgentRoom("rx-1"), ch)
}

func TestBus_BroadcastToOperators(t *testing.T) {
	bus := NewBus(nil)

	ch1 := bus.Subscribe(BroadcastRoom, []EventType{EventAgentStatus})
	ch2 := bus.Subscribe(BroadcastRoom, []EventType{EventAgentStatus})
	ch3 := bus.Subscribe(BroadcastRoom, []EventType{EventAgentStatus})

	event := NewEvent(EventAgentStatus, "sweep", BroadcastRoom, map[string]interface{}{
		"agent_id": "rx-1",
		"online":   true,
	})
	bus.Publish(event)

	subs := []struct {
		name string
		ch   <-chan Event
	}{
		{"sub-1", ch1},
		{"sub-2", ch2},
		{"sub-3", ch3},
	}

	for _, sub := range subs {
		select {
		case received := <-sub.ch:
			if received.ID != event.ID {
				t.Errorf("%s: Expected event ID %s, got %s", sub.name, event.ID, received.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: Did not receive broadcast event", sub.name)
		}
	}

	bus.Unsubscribe(BroadcastRoom, ch1)
	bus.Unsubscribe(BroadcastRoom, ch2)
	bus.Unsubscribe(BroadcastRoom, ch3)
}

func TestBus_BroadcastReachesAgentRooms(t *testing.T) {
	bus := NewBus(nil)

	// An operator-targeted broadcast should also reach every agent room,
	// and an agent-targeted event should also reach the broadcast room.
	broadcastCh := bus.Subscribe(BroadcastRoom, []EventType{EventLog})
	agentCh := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventLog})

	event := NewEvent(EventLog, "sweep", BroadcastRoom, map[string]interface{}{
		"message": "sweep ran",
	})
	bus.Publish(event)

	select {
	case received := <-agentCh:
		if received.ID != event.ID {
			t.Errorf("agent room: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("agent room did not receive broadcast event")
	}

	select {
	case received := <-broadcastCh:
		if received.ID != event.ID {
			t.Errorf("broadcast room: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("broadcast room did not receive its own event")
	}

	bus.Unsubscribe(BroadcastRoom, broadcastCh)
	bus.Unsubscribe(AgentRoom("rx-1"), agentCh)
}

func TestBus_AgentTargetedAlsoReachesBroadcast(t *testing.T) {
	bus := NewBus(nil)

	broadcastCh := bus.Subscribe(BroadcastRoom, []EventType{EventTransmissionComplete})
	agentCh := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventTransmissionComplete})

	event := NewEvent(EventTransmissionComplete, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-1",
	})
	bus.Publish(event)

	select {
	case received := <-agentCh:
		if received.ID != event.ID {
			t.Errorf("agent-1: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("agent-1 did not receive event")
	}

	select {
	case received := <-broadcastCh:
		if received.ID != event.ID {
			t.Errorf("broadcast: Expected event ID %s, got %s", event.ID, received.ID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("broadcast did not receive event")
	}

	bus.Unsubscribe(BroadcastRoom, broadcastCh)
	bus.Unsubscribe(AgentRoom("rx-1"), agentCh)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventChallengeAssigned})

	event1 := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-1",
	})
	bus.Publish(event1)

	select {
	case <-ch:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive first event")
	}

	bus.Unsubscribe(AgentRoom("rx-1"), ch)

	event2 := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-2",
	})
	bus.Publish(event2)

	select {
	case event, ok := <-ch:
		if ok {
			t.Errorf("Should not have received event after unsubscribe: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
		// Also acceptable - no more events
	}
}

func TestBus_MultipleSubscriptionsSameTarget(t *testing.T) {
	bus := NewBus(nil)

	ch1 := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventChallengeAssigned})
	ch2 := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventChallengeAssigned})

	event := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
		"challenge_id": "chal-1",
	})
	bus.Publish(event)

	select {
	case <-ch1:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch1 did not receive event")
	}

	select {
	case <-ch2:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2 did not receive event")
	}

	bus.Unsubscribe(AgentRoom("rx-1"), ch1)
	bus.Unsubscribe(AgentRoom("rx-1"), ch2)
}

func TestBus_NoTypeFilter(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe(AgentRoom("rx-1"), nil)

	assignedEvent := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{})
	bus.Publish(assignedEvent)

	txEvent := NewEvent(EventTransmissionComplete, "dispatch", AgentRoom("rx-1"), map[string]interface{}{})
	bus.Publish(txEvent)

	recEvent := NewEvent(EventRecordingAssignment, "recording", AgentRoom("rx-1"), map[string]interface{}{})
	bus.Publish(recEvent)

	receivedTypes := make(map[EventType]bool)
	for i := 0; i < 3; i++ {
		select {
		case event := <-ch:
			receivedTypes[event.Type] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("Did not receive all events")
		}
	}

	if !receivedTypes[EventChallengeAssigned] {
		t.Error("Did not receive challenge assigned event")
	}
	if !receivedTypes[EventTransmissionComplete] {
		t.Error("Did not receive transmission complete event")
	}
	if !receivedTypes[EventRecordingAssignment] {
		t.Error("Did not receive recording assignment event")
	}

	bus.Unsubscribe(AgentRoom("rx-1"), ch)
}

func TestBus_FullChannelNonBlocking(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Subscribe(AgentRoom("rx-1"), []EventType{EventChallengeAssigned})

	for i := 0; i < 100; i++ {
		event := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
			"index": i,
		})
		bus.Publish(event)
	}

	done := make(chan bool)
	go func() {
		event := NewEvent(EventChallengeAssigned, "dispatch", AgentRoom("rx-1"), map[string]interface{}{
			"index": 100,
		})
		bus.Publish(event)
		done <- true
	}()

	select {
	case <-done:
		// Expected - publish should not block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on full channel")
	}

	bus.Unsubscribe(AgentRoom("rx-1"), ch)
}
