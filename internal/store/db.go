package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and runs migrations.
func NewDB(connString string, embeddingDim int) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(ctx, db, embeddingDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(ctx context.Context, db *sql.DB, embeddingDim int) error {
	if embeddingDim <= 0 {
		embeddingDim = 128
	}
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name  TEXT NOT NULL,
		department    TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'user',
		enrolled      BOOLEAN NOT NULL DEFAULT FALSE,
		enrolled_at   TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS face_embeddings (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		embedding   vector(%d) NOT NULL,
		quality     DOUBLE PRECISION NOT NULL DEFAULT 0,
		captured_at TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_face_embeddings_user ON face_embeddings(user_id);

	CREATE TABLE IF NOT EXISTS enroll_sessions (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		day        DATE NOT NULL,
		time_in    TIMESTAMPTZ,
		status     TEXT NOT NULL DEFAULT 'present',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, day)
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance(day);

	CREATE TABLE IF NOT EXISTS attendance_days (
		day           DATE PRIMARY KEY,
		present_count INTEGER NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`, embeddingDim)
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
