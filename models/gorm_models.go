// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormLogEntry 游戏日志表，(room_id, seq) 唯一
type GormLogEntry struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"uniqueIndex:idx_room_seq;not null"`
	Seq       uint64    `gorm:"uniqueIndex:idx_room_seq;not null"`
	Timestamp time.Time `gorm:"column:logged_at;not null"`
	Actor     string    `gorm:"not null"`
	Kind      string    `gorm:"not null"`
	Summary   string    `gorm:"not null"`
}

func (GormLogEntry) TableName() string {
	return "game_log_entries"
}

// ToEntry converts the row back into the domain type.
func (m GormLogEntry) ToEntry() LogEntry {
	return LogEntry{
		Seq:       m.Seq,
		Timestamp: m.Timestamp,
		Actor:     m.Actor,
		Kind:      LogKind(m.Kind),
		Summary:   m.Summary,
	}
}

// GormRoom 房间模型
type GormRoom struct {
	gorm.Model
	RoomID              string   `gorm:"uniqueIndex;not null"`
	Code                string   `gorm:"index;not null;default:''"`
	LockTeamsDuringGame bool     `gorm:"not null"`
	State               string   `gorm:"not null"`
	Players             []string `gorm:"serializer:json;type:jsonb"`
	ClosedAt            *time.Time
}

func (GormRoom) TableName() string {
	return "rooms"
}
