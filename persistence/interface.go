// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/samclaus/games/config"
	"github.com/samclaus/games/models"
)

// LogStore 游戏日志存储接口
type LogStore interface {
	// AppendEntries stores log entries for a room. Entries whose seq is
	// already stored are ignored, so retries are safe.
	AppendEntries(ctx context.Context, roomID string, entries []models.LogEntry) error
	// LoadEntries returns entries with seq > afterSeq in seq order. A
	// non-positive limit means no limit.
	LoadEntries(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.LogEntry, error)
	SaveRoom(ctx context.Context, rec models.RoomRecord) error
	LoadRoom(ctx context.Context, roomID string) (models.RoomRecord, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

// DSN builds a libpq connection string.
func DSN(c config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

// Open returns the store selected by the configured driver.
func Open(c config.DatabaseConfig) (LogStore, error) {
	switch c.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgreSQL(DSN(c.Postgres))
	case "gorm":
		return NewGormPostgreSQL(DSN(c.Postgres))
	}
	return nil, fmt.Errorf("unknown database driver %q", c.Driver)
}
