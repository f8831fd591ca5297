// Package ws holds the WebSocket broadcast manager: it accepts client
// connections, tracks per-connection metadata, and fans typed events out
// to every client. Delivery is best-effort; a client that fails a send is
// dropped after the broadcast iteration completes.
package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentick/adw/internal/logger"
)

// Conn is the subset of *websocket.Conn the manager needs. Tests
// substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Envelope is the only wire shape: exactly {type, data}.
type Envelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type connMeta struct {
	clientID     string
	connectedAt  time.Time
	lastActivity time.Time
	messageCount int
}

// Manager tracks active connections and broadcasts events to all of them.
type Manager struct {
	mu    sync.Mutex
	conns map[Conn]*connMeta
	log   *logger.Logger
}

func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		conns: make(map[Conn]*connMeta),
		log:   log.With("component", "ws"),
	}
}

// Connect registers an accepted connection. An empty clientID gets a
// generated one.
func (m *Manager) Connect(c Conn, clientID string) {
	if clientID == "" {
		clientID = "client_" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	m.mu.Lock()
	m.conns[c] = &connMeta{clientID: clientID, connectedAt: now, lastActivity: now}
	total := len(m.conns)
	m.mu.Unlock()
	m.log.Info("websocket connected", "client_id", clientID, "total", total)
}

// Disconnect removes a connection and logs its session stats.
func (m *Manager) Disconnect(c Conn) {
	m.mu.Lock()
	meta, ok := m.conns[c]
	if ok {
		delete(m.conns, c)
	}
	remaining := len(m.conns)
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = c.Close()
	m.log.Info("websocket disconnected",
		"client_id", meta.clientID,
		"duration", time.Since(meta.connectedAt).Round(time.Second).String(),
		"messages", meta.messageCount,
		"remaining", remaining)
}

// ConnectionCount returns the number of active connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ClientIDs returns the connected client ids.
func (m *Manager) ClientIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.conns))
	for _, meta := range m.conns {
		ids = append(ids, meta.clientID)
	}
	return ids
}

// Broadcast sends {type, data} to every connection, stamping
// data.timestamp when absent. Failed clients are removed after the
// iteration.
func (m *Manager) Broadcast(msgType string, data map[string]any) {
	m.BroadcastExcept(msgType, data, nil)
}

// BroadcastExcept is Broadcast with one connection excluded.
func (m *Manager) BroadcastExcept(msgType string, data map[string]any, exclude Conn) {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["timestamp"]; !ok {
		data["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	env := Envelope{Type: msgType, Data: data}

	m.mu.Lock()
	targets := make([]Conn, 0, len(m.conns))
	for c := range m.conns {
		if c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.Unlock()

	var failed []Conn
	for _, c := range targets {
		if err := m.sendTo(c, env); err != nil {
			m.log.Warn("broadcast send failed", "error", err)
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		m.Disconnect(c)
	}
}

// SendTo delivers one envelope to one connection.
func (m *Manager) SendTo(c Conn, msgType string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["timestamp"]; !ok {
		data["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return m.sendTo(c, Envelope{Type: msgType, Data: data})
}

func (m *Manager) sendTo(c Conn, env Envelope) error {
	err := c.WriteJSON(env)
	if err != nil {
		return fmt.Errorf("sending to client: %w", err)
	}
	m.mu.Lock()
	if meta, ok := m.conns[c]; ok {
		meta.lastActivity = time.Now().UTC()
		meta.messageCount++
	}
	m.mu.Unlock()
	return nil
}

// SendHeartbeat broadcasts the periodic liveness message.
func (m *Manager) SendHeartbeat() {
	m.Broadcast("heartbeat", map[string]any{
		"active_connections": m.ConnectionCount(),
		"server_time":        time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// HeartbeatLoop broadcasts heartbeats every interval until stop is closed.
func (m *Manager) HeartbeatLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.SendHeartbeat()
		case <-stop:
			return
		}
	}
}
