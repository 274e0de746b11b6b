package session

import (
	"net"
	"testing"
	"time"

	"github.com/samclaus/games/network"
	"golang.org/x/time/rate"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	closed bool
}

func (m *MockConnection) Send(msgID uint16, data []byte) error { return nil }
func (m *MockConnection) WriteFrame(frame []byte) error        { return nil }
func (m *MockConnection) Ping() error                          { return nil }
func (m *MockConnection) CloseGracefully() error               { m.closed = true; return nil }
func (m *MockConnection) Close() error                         { m.closed = true; return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, &MockConnection{}, 4)

	// Test Add
	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	// Test Get
	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	// Test Remove
	manager.Remove(sessionID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}

	_, exists = manager.Get(sessionID)
	if exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestManager_GetByRoom(t *testing.T) {
	manager := NewManager()

	sess1 := NewSession("session1", &MockConnection{}, 4)
	sess1.Bind("room-a", "Ann")

	sess2 := NewSession("session2", &MockConnection{}, 4)
	sess2.Bind("room-b", "Bob")

	sess3 := NewSession("session3", &MockConnection{}, 4)
	sess3.Bind("room-a", "Cid")

	sess4 := NewSession("session4", &MockConnection{}, 4)

	manager.Add(sess1)
	manager.Add(sess2)
	manager.Add(sess3)
	manager.Add(sess4)

	if got := len(manager.GetByRoom("room-a")); got != 2 {
		t.Errorf("Expected 2 sessions in room-a, got %d", got)
	}
	if got := len(manager.GetByRoom("room-b")); got != 1 {
		t.Errorf("Expected 1 session in room-b, got %d", got)
	}
	if got := len(manager.GetByRoom("room-c")); got != 0 {
		t.Errorf("Expected 0 sessions in room-c, got %d", got)
	}

	sess3.Unbind()
	if got := manager.GetByRoom("room-a"); len(got) != 1 || got[0] != sess1 {
		t.Errorf("Expected only session1 in room-a after unbind, got %v", got)
	}
}

func TestSession_Bind_Unbind(t *testing.T) {
	sess := NewSession("s", &MockConnection{}, 4)
	if _, _, ok := sess.Identity(); ok {
		t.Fatal("a new session should not be bound")
	}

	sess.Bind("room", "Ann")
	roomID, name, ok := sess.Identity()
	if !ok || roomID != "room" || name != "Ann" {
		t.Fatalf("Identity() = %q, %q, %v", roomID, name, ok)
	}

	sess.Unbind()
	if _, _, ok := sess.Identity(); ok {
		t.Fatal("Unbind should clear the identity")
	}
}

func TestSession_SendOverflow(t *testing.T) {
	sess := NewSession("s", &MockConnection{}, 2)

	if err := sess.Send(1, nil); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := sess.SendJSON(2, map[string]int{"a": 1}); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if err := sess.Send(3, nil); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if sess.Enqueue([]byte{0}) {
		t.Fatal("Enqueue should fail on a full outbox")
	}
}

func TestSession_Kick(t *testing.T) {
	sess := NewSession("s", &MockConnection{}, 2)
	sess.Kick("test")
	sess.Kick("twice")

	if !sess.Outbox().Closed() {
		t.Fatal("Kick should close the outbox")
	}
	if sess.Enqueue([]byte{0}) {
		t.Fatal("Enqueue should fail after Kick")
	}
}

func TestSession_Allow(t *testing.T) {
	sess := NewSession("s", &MockConnection{}, 2)
	if !sess.Allow() {
		t.Fatal("a session without a limiter should always be allowed")
	}

	sess.Limiter = rate.NewLimiter(rate.Every(time.Hour), 2)
	if !sess.Allow() || !sess.Allow() {
		t.Fatal("the burst should be allowed")
	}
	if sess.Allow() {
		t.Fatal("requests past the burst should be refused")
	}
}
