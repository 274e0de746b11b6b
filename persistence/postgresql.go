// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/samclaus/games/models"

	// PostgreSQL 驱动
	_ "github.com/lib/pq" // PostgreSQL 驱动
)

// PostgreSQL 数据库实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构. The schema matches what GormPostgreSQL
// migrates, so either driver can read the other's data.
func initTables(ctx context.Context, db *sql.DB) error {
	// 创建游戏日志表
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS game_log_entries (
            id BIGSERIAL PRIMARY KEY,
            room_id TEXT NOT NULL,
            seq BIGINT NOT NULL,
            logged_at TIMESTAMPTZ NOT NULL,
            actor TEXT NOT NULL,
            kind TEXT NOT NULL,
            summary TEXT NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	// 创建房间表
	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            room_id TEXT NOT NULL,
            code TEXT NOT NULL DEFAULT '',
            lock_teams_during_game BOOLEAN NOT NULL,
            state TEXT NOT NULL,
            players JSONB,
            closed_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ,
            updated_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引
	_, err = db.ExecContext(ctx, `
        ALTER TABLE rooms ADD COLUMN IF NOT EXISTS code TEXT NOT NULL DEFAULT '';
        CREATE UNIQUE INDEX IF NOT EXISTS idx_room_seq ON game_log_entries(room_id, seq);
        CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_room_id ON rooms(room_id);
        CREATE INDEX IF NOT EXISTS idx_rooms_code ON rooms(code);
    `)

	return err
}

// AppendEntries 保存游戏日志
func (p *PostgreSQL) AppendEntries(ctx context.Context, roomID string, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO game_log_entries (room_id, seq, logged_at, actor, kind, summary)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (room_id, seq) DO NOTHING
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, roomID, int64(e.Seq), e.Timestamp, e.Actor, string(e.Kind), e.Summary); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadEntries 加载游戏日志
func (p *PostgreSQL) LoadEntries(ctx context.Context, roomID string, afterSeq uint64, limit int) ([]models.LogEntry, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := p.db.QueryContext(ctx, `
        SELECT seq, logged_at, actor, kind, summary
        FROM game_log_entries
        WHERE room_id = $1 AND seq > $2
        ORDER BY seq
        LIMIT $3
    `, roomID, int64(afterSeq), lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LogEntry
	for rows.Next() {
		var (
			e    models.LogEntry
			seq  int64
			kind string
		)
		if err := rows.Scan(&seq, &e.Timestamp, &e.Actor, &kind, &e.Summary); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Kind = models.LogKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveRoom 保存房间状态
func (p *PostgreSQL) SaveRoom(ctx context.Context, rec models.RoomRecord) error {
	playersJSON, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	// 使用 UPSERT 操作 (PostgreSQL 9.5+)
	query := `
        INSERT INTO rooms (room_id, code, lock_teams_during_game, state, players, closed_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
        ON CONFLICT (room_id)
        DO UPDATE SET state = $4, players = $5, closed_at = $6, updated_at = CURRENT_TIMESTAMP
    `

	_, err = p.db.ExecContext(ctx, query, rec.RoomID, rec.Code, rec.LockTeamsDuringGame, rec.State, playersJSON, rec.ClosedAt, createdAt)
	return err
}

// LoadRoom 加载房间状态
func (p *PostgreSQL) LoadRoom(ctx context.Context, roomID string) (models.RoomRecord, error) {
	var (
		rec       models.RoomRecord
		players   []byte
		closedAt  sql.NullTime
		createdAt sql.NullTime
	)
	query := `
        SELECT room_id, code, lock_teams_during_game, state, players, closed_at, created_at
        FROM rooms WHERE room_id = $1 AND deleted_at IS NULL
    `
	err := p.db.QueryRowContext(ctx, query, roomID).Scan(&rec.RoomID, &rec.Code, &rec.LockTeamsDuringGame, &rec.State, &players, &closedAt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.RoomRecord{}, ErrRecordNotFound
		}
		return models.RoomRecord{}, err
	}

	if len(players) > 0 {
		if err := json.Unmarshal(players, &rec.Players); err != nil {
			return models.RoomRecord{}, err
		}
	}
	if closedAt.Valid {
		t := closedAt.Time
		rec.ClosedAt = &t
	}
	rec.CreatedAt = createdAt.Time
	return rec, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
