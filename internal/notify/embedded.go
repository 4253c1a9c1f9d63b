// Package notify mirrors Event Bus traffic onto an optional NATS subject
// space, for deployments that want ChallengeCtl's state changes fed into
// an external pipeline rather than only to operator websocket clients.
// Adapted from the teacher's internal/nats package: server.go's
// EmbeddedServer and client.go's Client are kept close to their original
// shape (they already are a reusable NATS wrapper with no
// Claude-agent-specific behavior in them) and wired to internal/events
// instead of the teacher's captain/agent message plane.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures the in-process NATS server used for local/dev
// deployments, so a mirror consumer doesn't need a standalone broker.
type EmbeddedConfig struct {
	Port      int
	JetStream bool
	DataDir   string
}

// Embedded wraps an in-process NATS server.
type Embedded struct {
	server  *server.Server
	config  EmbeddedConfig
	mu      sync.RWMutex
	running bool
}

// NewEmbedded builds an Embedded server, defaulting to the standard NATS
// port when none is given.
func NewEmbedded(config EmbeddedConfig) (*Embedded, error) {
	if config.Port <= 0 {
		config.Port = 4222
	}
	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required when JetStream is enabled")
	}
	return &Embedded{config: config}, nil
}

// Start launches the embedded server and blocks until it is ready for
// connections.
func (e *Embedded) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("embedded NATS server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded NATS server: %w", err)
	}
	e.server = ns

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded NATS server not ready for connections")
	}
	e.running = true
	return nil
}

// Shutdown gracefully stops the embedded server.
func (e *Embedded) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
}

// URL returns this embedded server's client connection URL.
func (e *Embedded) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// IsRunning reports whether the embedded server is currently serving
// connections.
func (e *Embedded) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
