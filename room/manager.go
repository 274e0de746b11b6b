package room

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/models"
)

// --- 房间管理器 ---

// Manager 管理所有房间
type Manager struct {
	rooms       map[string]*Room
	mutex       sync.RWMutex
	opts        Options
	deps        Deps
	broadcaster *broadcast.RoomBroadcaster
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(opts Options, deps Deps, broadcaster *broadcast.RoomBroadcaster) *Manager {
	return &Manager{
		rooms:       make(map[string]*Room),
		opts:        opts,
		deps:        deps,
		broadcaster: broadcaster,
	}
}

// CreateRoom 创建一个新房间并添加到管理器. lockTeams overrides the
// configured default when set.
func (m *Manager) CreateRoom(lockTeams *bool) *Room {
	opts := m.opts
	if lockTeams != nil {
		opts.LockTeamsDuringGame = *lockTeams
	}

	m.mutex.Lock()
	id := m.newID()
	room := newRoom(id, opts, m.deps, m.broadcaster.Hub(id), func(r *Room) {
		r.onClose = m.forget
		r.onFreeze = m.frozen
	})
	m.rooms[id] = room
	count := len(m.rooms)
	m.mutex.Unlock()

	m.deps.Monitor.SetActiveRooms(count)
	logger.Log.Infow("room created", "room", id, "lock_teams_during_game", opts.LockTeamsDuringGame)
	return room
}

// newID returns a short unused room code. Caller holds the mutex.
func (m *Manager) newID() string {
	for {
		id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		if _, taken := m.rooms[id]; !taken {
			return id
		}
	}
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(ctx context.Context, id string) error {
	m.mutex.RLock()
	room, exists := m.rooms[id]
	m.mutex.RUnlock()

	if !exists {
		return ErrRoomNotFound
	}
	return room.Close(ctx)
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[strings.ToUpper(id)]
	return room, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// List returns every open room, oldest first.
func (m *Manager) List() []models.RoomSummary {
	m.mutex.RLock()
	out := make([]models.RoomSummary, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room.Summary())
	}
	m.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Frozen returns the ids of rooms awaiting operator inspection.
func (m *Manager) Frozen() []string {
	var ids []string
	for _, s := range m.List() {
		if s.Frozen {
			ids = append(ids, s.RoomID)
		}
	}
	return ids
}

// CloseAll closes every room and waits for their goroutines to exit.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mutex.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mutex.RUnlock()

	for _, room := range rooms {
		if err := room.Close(ctx); err != nil {
			logger.Log.Warnw("room did not close", "room", room.ID, "error", err)
			continue
		}
		select {
		case <-room.Done():
		case <-ctx.Done():
			return
		}
	}
}

// forget runs on the room goroutine once the room has closed.
func (m *Manager) forget(room *Room) {
	m.mutex.Lock()
	if m.rooms[room.ID] == room {
		delete(m.rooms, room.ID)
		// under the lock, so a room reusing the code gets a fresh hub
		m.broadcaster.Remove(room.ID)
	}
	count := len(m.rooms)
	m.mutex.Unlock()

	m.deps.Monitor.SetActiveRooms(count)
	m.deps.Monitor.SetFrozenRooms(len(m.Frozen()))
}

func (m *Manager) frozen(room *Room) {
	m.deps.Monitor.SetFrozenRooms(len(m.Frozen()))
}
