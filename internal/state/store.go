package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	name        TEXT PRIMARY KEY,
	birth_date  TEXT,
	location    TEXT,
	voice       TEXT,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_flags (
	user_tag    TEXT PRIMARY KEY,
	persona     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_turns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_tag    TEXT NOT NULL,
	role        TEXT NOT NULL,
	text        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_user ON conversation_turns(user_tag, id);

CREATE TABLE IF NOT EXISTS token_usage (
	user_tag    TEXT PRIMARY KEY,
	count       INTEGER NOT NULL,
	reset_date  TEXT NOT NULL
);
`
// #endregion schema

// Fixed-width timestamps so string order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a profile does not exist.
var ErrNotFound = errors.New("not found")

// #region store-struct
// Store persists per-user session state in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (provenance,
// contacts, memory, attempt log).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region profiles

// SaveProfile inserts or replaces a profile keyed by name.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("save profile: empty name")
	}
	var birth interface{}
	if p.BirthDate != nil {
		birth = p.BirthDate.Format("2006-01-02")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (name, birth_date, location, voice, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET birth_date = excluded.birth_date, location = excluded.location,
		 voice = excluded.voice, updated_at = excluded.updated_at`,
		p.Name, birth, p.Location, p.Voice, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile for name or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, name string) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, birth_date, location, voice, updated_at FROM profiles WHERE name = ?`, name)
	return scanProfile(row)
}

// LastProfile returns the most recently saved profile or ErrNotFound.
func (s *Store) LastProfile(ctx context.Context) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, birth_date, location, voice, updated_at FROM profiles ORDER BY updated_at DESC LIMIT 1`)
	return scanProfile(row)
}

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	var birth, location, voice sql.NullString
	var updated string
	if err := row.Scan(&p.Name, &birth, &location, &voice, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	if birth.Valid && birth.String != "" {
		t, err := time.Parse("2006-01-02", birth.String)
		if err != nil {
			return Profile{}, fmt.Errorf("parse birth date: %w", err)
		}
		p.BirthDate = &t
	}
	p.Location = location.String
	p.Voice = voice.String
	p.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return p, nil
}

// #endregion profiles

// #region persona-flag

// SetPersona stores the active persona mode for a user.
func (s *Store) SetPersona(ctx context.Context, userTag, mode string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_flags (user_tag, persona) VALUES (?, ?)
		 ON CONFLICT(user_tag) DO UPDATE SET persona = excluded.persona`, userTag, mode)
	if err != nil {
		return fmt.Errorf("set persona: %w", err)
	}
	return nil
}

// GetPersona returns the stored persona mode, or "" if none was set.
func (s *Store) GetPersona(ctx context.Context, userTag string) (string, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT persona FROM session_flags WHERE user_tag = ?`, userTag).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get persona: %w", err)
	}
	return mode, nil
}

// #endregion persona-flag

// #region turns

// AppendTurns appends turns for a user and trims the stored log to the most
// recent keep rows.
func (s *Store) AppendTurns(ctx context.Context, userTag string, keep int, turns ...conversation.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range turns {
		at := t.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_turns (user_tag, role, text, created_at) VALUES (?, ?, ?, ?)`,
			userTag, string(t.Role), t.Text, at.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	if keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_turns WHERE user_tag = ? AND id NOT IN (
				SELECT id FROM conversation_turns WHERE user_tag = ? ORDER BY id DESC LIMIT ?
			)`, userTag, userTag, keep,
		); err != nil {
			return fmt.Errorf("trim turns: %w", err)
		}
	}
	return tx.Commit()
}

// ReplaceTurns stores turns as the complete log for a user.
func (s *Store) ReplaceTurns(ctx context.Context, userTag string, turns []conversation.Turn) error {
	if err := s.ClearTurns(ctx, userTag); err != nil {
		return err
	}
	return s.AppendTurns(ctx, userTag, 0, turns...)
}

// LoadTurns returns up to limit most recent turns for a user, oldest first.
// A non-positive limit returns the whole log.
func (s *Store) LoadTurns(ctx context.Context, userTag string, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, created_at FROM (
			SELECT id, role, text, created_at FROM conversation_turns WHERE user_tag = ? ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`, userTag, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []conversation.Turn
	for rows.Next() {
		var role, text, created string
		if err := rows.Scan(&role, &text, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		at, _ := time.Parse(timeLayout, created)
		out = append(out, conversation.Turn{Role: conversation.Role(role), Text: text, At: at})
	}
	return out, rows.Err()
}

// ClearTurns deletes the stored log for a user.
func (s *Store) ClearTurns(ctx context.Context, userTag string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE user_tag = ?`, userTag); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

// #endregion turns

// #region tokens

// LoadTokens returns the stored token counter for a user.
func (s *Store) LoadTokens(ctx context.Context, userTag string) (TokenUsage, error) {
	var u TokenUsage
	err := s.db.QueryRowContext(ctx,
		`SELECT count, reset_date FROM token_usage WHERE user_tag = ?`, userTag).Scan(&u.Count, &u.ResetDate)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenUsage{}, nil
	}
	if err != nil {
		return TokenUsage{}, fmt.Errorf("load tokens: %w", err)
	}
	return u, nil
}

// SaveTokens stores the token counter for a user.
func (s *Store) SaveTokens(ctx context.Context, userTag string, u TokenUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (user_tag, count, reset_date) VALUES (?, ?, ?)
		 ON CONFLICT(user_tag) DO UPDATE SET count = excluded.count, reset_date = excluded.reset_date`,
		userTag, u.Count, u.ResetDate)
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// #endregion tokens
