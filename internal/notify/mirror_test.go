package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	nc "github.com/nats-io/nats.go"

	"github.com/CLIAIMONITOR/internal/events"
)

func startTestServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("create embedded NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns, ns.ClientURL()
}

func TestMirror_RepublishesBroadcastEvents(t *testing.T) {
	_, url := startTestServer(t)

	publisher, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer publisher.Close()

	bus := events.NewBus(nil)
	mirror := NewMirror(publisher, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Run(ctx)

	rawConn, err := nc.Connect(url)
	if err != nil {
		t.Fatalf("connect raw subscriber: %v", err)
	}
	defer rawConn.Close()

	received := make(chan *nc.Msg, 1)
	sub, err := rawConn.Subscribe(SubjectPrefix+".agent_status", func(msg *nc.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	rawConn.Flush()

	// Give the mirror's own bus subscription time to register before
	// publishing, since Subscribe happens asynchronously inside Run.
	time.Sleep(50 * time.Millisecond)

	ev := events.NewEvent(events.EventAgentStatus, "sweep", events.BroadcastRoom, map[string]interface{}{
		"agent_id": "rx-1",
		"online":   true,
	})
	bus.Publish(ev)

	select {
	case msg := <-received:
		var decoded events.Event
		if err := json.Unmarshal(msg.Data, &decoded); err != nil {
			t.Fatalf("unmarshal mirrored event: %v", err)
		}
		if decoded.ID != ev.ID {
			t.Errorf("mirrored event ID = %v, want %v", decoded.ID, ev.ID)
		}
		if decoded.Type != events.EventAgentStatus {
			t.Errorf("mirrored event Type = %v, want %v", decoded.Type, events.EventAgentStatus)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive mirrored event on NATS subject")
	}
}

func TestMirror_StopsOnContextCancel(t *testing.T) {
	_, url := startTestServer(t)

	client, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	bus := events.NewBus(nil)
	mirror := NewMirror(client, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mirror.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not stop after context cancellation")
	}
}
