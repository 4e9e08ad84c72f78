package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps memory entries in a local table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the memory_entries table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS memory_entries (
		id         TEXT PRIMARY KEY,
		user_tag   TEXT NOT NULL,
		content    TEXT NOT NULL,
		mode       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_entries(user_tag, created_at);`)
	if err != nil {
		return nil, fmt.Errorf("create memory schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append stores e, assigning an id and timestamp when missing.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, user_tag, content, mode, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserTag, e.Content, e.Mode, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

// Query returns the user's best matching entries, newest first among equals.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_tag, content, mode, created_at FROM memory_entries
		 WHERE user_tag = ? ORDER BY created_at DESC LIMIT ?`, q.UserTag, scanWindow)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.UserTag, &e.Content, &e.Mode, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory: %w", err)
	}
	return rank(entries, q.Keywords, q.Limit), nil
}
