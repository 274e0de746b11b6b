// services/history_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/samclaus/games/models"
	"github.com/samclaus/games/persistence"
)

const (
	defaultPageSize = 200
	maxPageSize     = 1000
)

// RoundSummary 一局游戏的摘要
type RoundSummary struct {
	Number    int
	StartSeq  uint64
	EndSeq    uint64 // 0 while the round is still open
	StartedAt time.Time
	EndedAt   time.Time
	Clues     int
}

// RoomHistory is what persistence knows about one room.
type RoomHistory struct {
	Room    models.RoomRecord
	Entries int
	Rounds  []RoundSummary
}

type HistoryService struct {
	store    persistence.LogStore
	pageSize int
}

func NewHistoryService(store persistence.LogStore) *HistoryService {
	return &HistoryService{store: store, pageSize: defaultPageSize}
}

// Entries 获取房间日志. roomID is the room's storage key. limit is clamped to maxPageSize; zero means the
// default page.
func (s *HistoryService) Entries(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.store.LoadEntries(ctx, roomID, afterSeq, limit)
}

// RoomHistory 读取整个房间日志并按局汇总
func (s *HistoryService) RoomHistory(ctx context.Context, roomID string) (*RoomHistory, error) {
	rec, err := s.store.LoadRoom(ctx, roomID)
	if err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, err
	}
	found := err == nil

	h := &RoomHistory{Room: rec}
	var (
		after uint64
		open  = -1 // index of the round still running
	)
	for {
		page, err := s.store.LoadEntries(ctx, roomID, after, s.pageSize)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			h.Entries++
			switch e.Kind {
			case models.LogRoundStart:
				h.Rounds = append(h.Rounds, RoundSummary{Number: len(h.Rounds) + 1, StartSeq: e.Seq, StartedAt: e.Timestamp})
				open = len(h.Rounds) - 1
			case models.LogRoundEnd:
				if open >= 0 {
					h.Rounds[open].EndSeq = e.Seq
					h.Rounds[open].EndedAt = e.Timestamp
					open = -1
				}
			case models.LogClueGiven:
				if open >= 0 {
					h.Rounds[open].Clues++
				}
			}
		}
		if len(page) < s.pageSize {
			break
		}
		after = page[len(page)-1].Seq
	}

	if !found && h.Entries == 0 {
		return nil, persistence.ErrRecordNotFound
	}
	if !found {
		h.Room.RoomID = roomID
	}
	return h, nil
}
