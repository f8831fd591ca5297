package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/agentick/adw/internal/logger"
)

// fakeConn records every envelope written to it.
type fakeConn struct {
	mu       sync.Mutex
	messages []Envelope
	failWith error
	closed   bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.messages = append(f.messages, v.(Envelope))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) last(t *testing.T) Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("no messages received")
	}
	return f.messages[len(f.messages)-1]
}

func newTestManager() *Manager {
	return NewManager(logger.Nop())
}

func TestBroadcast_EnvelopeShape(t *testing.T) {
	m := newTestManager()
	conn := &fakeConn{}
	m.Connect(conn, "client-1")

	m.Broadcast("text_block", map[string]any{"content": "hi"})

	env := conn.last(t)
	if env.Type != "text_block" {
		t.Fatalf("Type = %q", env.Type)
	}
	if env.Data["content"] != "hi" {
		t.Fatalf("Data = %v", env.Data)
	}
	if _, ok := env.Data["timestamp"]; !ok {
		t.Fatal("data.timestamp must always be present")
	}
}

func TestBroadcast_PreservesExistingTimestamp(t *testing.T) {
	m := newTestManager()
	conn := &fakeConn{}
	m.Connect(conn, "")

	m.Broadcast("heartbeat", map[string]any{"timestamp": "2025-06-01T00:00:00Z"})
	if conn.last(t).Data["timestamp"] != "2025-06-01T00:00:00Z" {
		t.Fatal("existing timestamp must not be overwritten")
	}
}

func TestBroadcast_ReachesAllClients(t *testing.T) {
	m := newTestManager()
	a, b := &fakeConn{}, &fakeConn{}
	m.Connect(a, "a")
	m.Connect(b, "b")

	m.Broadcast("agent_log", map[string]any{"message": "x"})
	if len(a.messages) != 1 || len(b.messages) != 1 {
		t.Fatalf("deliveries: a=%d b=%d", len(a.messages), len(b.messages))
	}
}

func TestBroadcast_Exclude(t *testing.T) {
	m := newTestManager()
	a, b := &fakeConn{}, &fakeConn{}
	m.Connect(a, "a")
	m.Connect(b, "b")

	m.BroadcastExcept("ticket_notification", map[string]any{}, a)
	if len(a.messages) != 0 {
		t.Fatal("excluded connection must not receive the broadcast")
	}
	if len(b.messages) != 1 {
		t.Fatal("other connections still receive it")
	}
}

func TestBroadcast_FailingClientRemoved(t *testing.T) {
	m := newTestManager()
	good := &fakeConn{}
	bad := &fakeConn{failWith: errors.New("connection reset")}
	m.Connect(good, "good")
	m.Connect(bad, "bad")

	m.Broadcast("heartbeat", nil)
	if m.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", m.ConnectionCount())
	}
	if !bad.closed {
		t.Fatal("failed connection should be closed")
	}

	// Healthy client keeps receiving.
	m.Broadcast("heartbeat", nil)
	if len(good.messages) != 2 {
		t.Fatalf("good received %d", len(good.messages))
	}
}

func TestDisconnect(t *testing.T) {
	m := newTestManager()
	conn := &fakeConn{}
	m.Connect(conn, "c")
	m.Disconnect(conn)
	if m.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount = %d", m.ConnectionCount())
	}
	// Disconnecting twice is harmless.
	m.Disconnect(conn)
}

func TestSendHeartbeat_Fields(t *testing.T) {
	m := newTestManager()
	conn := &fakeConn{}
	m.Connect(conn, "c")

	m.SendHeartbeat()
	env := conn.last(t)
	if env.Type != "heartbeat" {
		t.Fatalf("Type = %q", env.Type)
	}
	if env.Data["active_connections"] != 1 {
		t.Fatalf("active_connections = %v", env.Data["active_connections"])
	}
	if env.Data["server_time"] == nil {
		t.Fatal("server_time missing")
	}
}

func TestBroadcastStageTransition_Shape(t *testing.T) {
	m := newTestManager()
	conn := &fakeConn{}
	m.Connect(conn, "c")

	m.BroadcastStageTransition("a1b2c3d4", "sdlc", "plan", "build", "Starting Build")
	env := conn.last(t)
	if env.Type != "stage_transition" {
		t.Fatalf("Type = %q", env.Type)
	}
	for key, want := range map[string]string{
		"adw_id":        "a1b2c3d4",
		"workflow_name": "sdlc",
		"from_stage":    "plan",
		"to_stage":      "build",
		"message":       "Starting Build",
	} {
		if env.Data[key] != want {
			t.Fatalf("%s = %v, want %q", key, env.Data[key], want)
		}
	}
}

func TestClientIDs_GeneratedWhenEmpty(t *testing.T) {
	m := newTestManager()
	m.Connect(&fakeConn{}, "")
	ids := m.ClientIDs()
	if len(ids) != 1 || ids[0] == "" {
		t.Fatalf("ids = %v", ids)
	}
}
