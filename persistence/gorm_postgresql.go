// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/samclaus/games/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GormLogEntry{}, &models.GormRoom{}); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// AppendEntries 批量写入日志，重复的 (room_id, seq) 忽略
func (p *GormPostgreSQL) AppendEntries(ctx context.Context, roomID string, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]models.GormLogEntry, len(entries))
	for i, e := range entries {
		rows[i] = models.GormLogEntry{
			RoomID:    roomID,
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Actor:     e.Actor,
			Kind:      string(e.Kind),
			Summary:   e.Summary,
		}
	}

	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 100).Error
}

func (p *GormPostgreSQL) LoadEntries(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.LogEntry, error) {
	q := p.db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.GormLogEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.LogEntry, len(rows))
	for i, r := range rows {
		out[i] = r.ToEntry()
	}
	return out, nil
}

// SaveRoom 保存房间状态
func (p *GormPostgreSQL) SaveRoom(ctx context.Context, rec models.RoomRecord) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.GormRoom
		result := tx.Where("room_id = ?", rec.RoomID).First(&room)

		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			// 创建新记录
			room = models.GormRoom{
				RoomID:              rec.RoomID,
				Code:                rec.Code,
				LockTeamsDuringGame: rec.LockTeamsDuringGame,
				State:               rec.State,
				Players:             rec.Players,
				ClosedAt:            rec.ClosedAt,
			}
			if !rec.CreatedAt.IsZero() {
				room.CreatedAt = rec.CreatedAt
			}
			return tx.Create(&room).Error
		} else if result.Error != nil {
			return result.Error
		}

		// 更新现有记录
		room.State = rec.State
		room.Players = rec.Players
		room.ClosedAt = rec.ClosedAt
		return tx.Save(&room).Error
	})
}

// LoadRoom 加载房间状态
func (p *GormPostgreSQL) LoadRoom(ctx context.Context, roomID string) (models.RoomRecord, error) {
	var room models.GormRoom
	if err := p.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RoomRecord{}, ErrRecordNotFound
		}
		return models.RoomRecord{}, err
	}

	return models.RoomRecord{
		RoomID:              room.RoomID,
		Code:                room.Code,
		LockTeamsDuringGame: room.LockTeamsDuringGame,
		State:               room.State,
		Players:             room.Players,
		CreatedAt:           room.CreatedAt,
		ClosedAt:            room.ClosedAt,
	}, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
