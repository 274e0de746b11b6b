package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/samclaus/games/models"
)

// MemoryStore keeps everything in process. It is the default driver and is
// used by tests.
type MemoryStore struct {
	mutex   sync.RWMutex
	entries map[string][]models.LogEntry
	rooms   map[string]models.RoomRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]models.LogEntry),
		rooms:   make(map[string]models.RoomRecord),
	}
}

func (m *MemoryStore) AppendEntries(_ context.Context, roomID string, entries []models.LogEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored := m.entries[roomID]
	seen := make(map[uint64]bool, len(stored))
	for _, e := range stored {
		seen[e.Seq] = true
	}
	for _, e := range entries {
		if seen[e.Seq] {
			continue
		}
		seen[e.Seq] = true
		stored = append(stored, e)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Seq < stored[j].Seq })
	m.entries[roomID] = stored
	return nil
}

func (m *MemoryStore) LoadEntries(_ context.Context, roomID string, afterSeq uint64, limit int) ([]models.LogEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stored := m.entries[roomID]
	i := sort.Search(len(stored), func(i int) bool { return stored[i].Seq > afterSeq })
	out := append([]models.LogEntry(nil), stored[i:]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveRoom(_ context.Context, rec models.RoomRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if prev, ok := m.rooms[rec.RoomID]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	rec.Players = append([]string(nil), rec.Players...)
	m.rooms[rec.RoomID] = rec
	return nil
}

func (m *MemoryStore) LoadRoom(_ context.Context, roomID string) (models.RoomRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	rec, ok := m.rooms[roomID]
	if !ok {
		return models.RoomRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
