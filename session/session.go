// session/session.go
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/network"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned by Send when the connection is not keeping up.
var ErrQueueFull = errors.New("send queue full")

// Session is one live connection. It is bound to at most one seat
// (room + player name) at a time.
type Session struct {
	ID         string
	Conn       network.Connection
	Limiter    *rate.Limiter // nil means unlimited
	CreatedAt  time.Time
	LastActive time.Time

	outbox *network.Outbox
	roomID string
	name   string
	mutex  sync.RWMutex
}

func NewSession(id string, conn network.Connection, queueSize int) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		outbox:     network.NewOutbox(queueSize),
	}
}

func (s *Session) GetID() string {
	return s.ID
}

// Outbox is drained by the connection's write pump.
func (s *Session) Outbox() *network.Outbox {
	return s.outbox
}

// Bind records the seat this connection now controls.
func (s *Session) Bind(roomID, name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.roomID = roomID
	s.name = name
}

func (s *Session) Unbind() {
	s.Bind("", "")
}

// Identity returns the bound seat, if any.
func (s *Session) Identity() (roomID, name string, ok bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.roomID, s.name, s.roomID != ""
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

// Allow reports whether another inbound request fits the rate limit.
func (s *Session) Allow() bool {
	if s.Limiter == nil {
		return true
	}
	return s.Limiter.Allow()
}

// Enqueue queues a pre-encoded frame without blocking.
func (s *Session) Enqueue(frame []byte) bool {
	return s.outbox.Enqueue(frame)
}

// Send encodes and queues a private message for this connection only.
func (s *Session) Send(msgID uint16, data []byte) error {
	frame, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	if !s.outbox.Enqueue(frame) {
		return ErrQueueFull
	}
	return nil
}

// SendJSON is Send with a JSON body.
func (s *Session) SendJSON(msgID uint16, v any) error {
	frame, err := network.EncodeJSON(msgID, v)
	if err != nil {
		return err
	}
	if !s.outbox.Enqueue(frame) {
		return ErrQueueFull
	}
	return nil
}

// Kick drops the connection. Frames already queued are still flushed before
// the close frame; the read loop then sees the socket close and detaches the
// seat as a normal disconnect.
func (s *Session) Kick(reason string) {
	if s.outbox.Closed() {
		return
	}
	roomID, name, _ := s.Identity()
	logger.Log.Infow("dropping connection", "session", s.ID, "room", roomID, "name", name, "reason", reason)
	s.outbox.Close()
}

func (s *Session) Close() error {
	s.outbox.Close()
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns a copy of the open sessions.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

// GetByRoom returns every session bound to a seat in roomID.
func (m *Manager) GetByRoom(roomID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if id, _, ok := session.Identity(); ok && id == roomID {
			result = append(result, session)
		}
	}
	return result
}
