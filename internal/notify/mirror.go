package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/logging"
)

// SubjectPrefix namespaces every mirrored event's NATS subject.
const SubjectPrefix = "challengectl.events"

// Client wraps a NATS connection with the publish/subscribe surface the
// mirror needs. Kept close to the teacher's internal/nats client.go
// shape, trimmed to the methods Mirror actually calls.
type Client struct {
	conn *nc.Conn
}

// NewClient connects to url with indefinite auto-reconnect, matching the
// teacher's connection-resilience posture for a broker that may restart
// independently of the controller.
func NewClient(url string) (*Client, error) {
	log := logging.New("NOTIFY")
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Printf("reconnected to %s", conn.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// PublishJSON publishes a JSON-encoded payload to subject.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Mirror subscribes to the Event Bus's broadcast room and republishes
// every event onto a NATS subject keyed by event type, so an external
// consumer sees the same state-change stream operator dashboard clients
// do. It never subscribes to per-agent rooms — recording directives are
// delivery, not observability, and stay on the push channel.
type Mirror struct {
	client *Client
	bus    *events.Bus
	log    *logging.Logger
}

// NewMirror builds a Mirror over an already-connected Client.
func NewMirror(client *Client, bus *events.Bus) *Mirror {
	return &Mirror{client: client, bus: bus, log: logging.New("NOTIFY")}
}

// Run subscribes to the broadcast room and republishes events until ctx is
// cancelled. Intended to run in its own goroutine for the life of the
// process.
func (m *Mirror) Run(ctx context.Context) {
	ch := m.bus.Subscribe(events.BroadcastRoom, nil)
	defer m.bus.Unsubscribe(events.BroadcastRoom, ch)

	m.log.Printf("mirroring broadcast events to NATS")

	for {
		select {
		case <-ctx.Done():
			m.log.Printf("mirror stopping")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			subject := SubjectPrefix + "." + string(ev.Type)
			if err := m.client.PublishJSON(subject, ev); err != nil {
				m.log.Printf("failed to publish %s: %v", subject, err)
			}
		}
	}
}
