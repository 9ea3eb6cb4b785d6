package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"sitter-safety/internal/config"
)

// NewPostgresDB 创建PostgreSQL数据库连接
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// Schema 审计表（报警记录、会话记录）
const Schema = `
CREATE TABLE IF NOT EXISTS emergency_alerts (
	alert_id           TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL DEFAULT '',
	triggered_by       TEXT NOT NULL,
	triggered_by_role  TEXT NOT NULL,
	reason             TEXT NOT NULL,
	location           JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	status             TEXT NOT NULL,
	emergency_contacts JSONB NOT NULL DEFAULT '[]',
	response_time_ms   BIGINT,
	resolved_by        TEXT,
	resolved_at        TIMESTAMPTZ,
	notes              TEXT,
	escalated          BOOLEAN NOT NULL DEFAULT FALSE,
	escalated_at       TIMESTAMPTZ,
	delivery           JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_emergency_alerts_status ON emergency_alerts (status, created_at DESC);

CREATE TABLE IF NOT EXISTS tracking_sessions (
	session_id         TEXT PRIMARY KEY,
	sitter_id          TEXT NOT NULL,
	parent_id          TEXT NOT NULL,
	booking_id         TEXT NOT NULL DEFAULT '',
	start_time         TIMESTAMPTZ NOT NULL,
	end_time           TIMESTAMPTZ,
	active             BOOLEAN NOT NULL,
	zones              JSONB NOT NULL DEFAULT '[]',
	locations          JSONB NOT NULL DEFAULT '[]',
	emergency_contacts JSONB NOT NULL DEFAULT '[]'
);
`

// EnsureSchema 创建审计表（幂等）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
