package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CLIAIMONITOR/internal/events"
	"github.com/CLIAIMONITOR/internal/logging"
)

// wsUpgrader mirrors the teacher's permissive-origin dashboard upgrader;
// operator/agent identity is already established by session or bearer auth
// before the handshake, so origin checking adds no real boundary here.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsClient is one websocket connection subscribed to a single Event Bus
// room. Kept close to the teacher's hub.go Client/Hub shape, but a client
// now owns its own bus subscription instead of the hub multiplexing one
// broadcast channel to every client: each room (BroadcastRoom, or one
// receiver's private room per spec.md §4.8) already gets independent
// fan-out from the Bus, so the hub doesn't re-implement that part.
type wsClient struct {
	conn *websocket.Conn
	room string
	send <-chan events.Event
}

// serveWebSocket upgrades r and runs a client bound to room until the
// connection closes. Blocks the calling goroutine; callers run it in its
// own goroutine per connection, same as the teacher's per-request
// handler-spawns-pumps shape.
func serveWebSocket(w http.ResponseWriter, r *http.Request, bus *events.Bus, room string, log *logging.Logger, greeting map[string]interface{}) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	if greeting != nil {
		if data, err := json.Marshal(greeting); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}

	ch := bus.Subscribe(room, nil)
	c := &wsClient{conn: conn, room: room, send: ch}
	defer func() {
		bus.Unsubscribe(room, ch)
		conn.Close()
	}()

	go c.readPump()
	c.writePump()
}

// readPump drains and discards inbound frames so the read side of the
// connection stays alive; neither operators nor receivers send anything
// meaningful over this channel — spec.md §4.8's push channel is one-way.
func (c *wsClient) readPump() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
