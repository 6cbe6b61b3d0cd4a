package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Database is the relay's Postgres handle, opened through the pgx stdlib driver.
type Database struct {
	Conn *sql.DB
}

func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            chat_id BIGINT NOT NULL,
            sender_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            content TEXT NOT NULL DEFAULT '',
            type VARCHAR(16) NOT NULL DEFAULT 'text',
            media_url TEXT,
            file_name TEXT,
            file_size BIGINT,
            reply_to_id BIGINT REFERENCES messages(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS messages_chat_id_id ON messages (chat_id, id DESC)`,

		`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            recipient_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            sender_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            type VARCHAR(32) NOT NULL,
            status VARCHAR(16) NOT NULL DEFAULT 'unread',
            title TEXT NOT NULL DEFAULT '',
            message TEXT NOT NULL DEFAULT '',
            reference_id BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS notifications_recipient ON notifications (recipient_id, created_at DESC)`,
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
