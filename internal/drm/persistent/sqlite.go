// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS persistent_index (
	name       TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SqliteStorage keeps the index as one row of a SQLite table.
type SqliteStorage struct {
	db   *sql.DB
	name string
}

// OpenSqliteStorage opens (and migrates) the database at path.
func OpenSqliteStorage(path, name string) (*SqliteStorage, error) {
	// PRAGMAs in the DSN apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SqliteStorage{db: db, name: name}, nil
}

func (s *SqliteStorage) Load() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM persistent_index WHERE name = ?`, s.name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load index: %w", err)
	}
	return payload, nil
}

func (s *SqliteStorage) Save(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO persistent_index (name, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.name, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: save index: %w", err)
	}
	return nil
}

func (s *SqliteStorage) Close() error { return s.db.Close() }
