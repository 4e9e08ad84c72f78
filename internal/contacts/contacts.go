// Package contacts stores the user's phone book and resolves spoken names
// against it.
package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Contact is one phone book entry.
type Contact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Directory looks up and saves contacts.
type Directory interface {
	Find(ctx context.Context, name string) (Contact, bool, error)
	Save(ctx context.Context, c Contact) error
}

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
    folded     TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    number     TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

// Store is a sqlite-backed Directory.
type Store struct {
	db *sql.DB
}

// NewStore creates the contacts table on db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create contacts schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces a contact keyed by its folded name.
func (s *Store) Save(ctx context.Context, c Contact) error {
	name := strings.TrimSpace(c.Name)
	number := NormalizeNumber(c.Number)
	if name == "" || number == "" {
		return fmt.Errorf("save contact: name and number required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (folded, name, number, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(folded) DO UPDATE SET name = excluded.name, number = excluded.number, updated_at = excluded.updated_at`,
		Fold(name), name, number, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save contact %q: %w", name, err)
	}
	return nil
}

// List returns every contact ordered by name.
func (s *Store) List(ctx context.Context) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, number FROM contacts ORDER BY folded`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Name, &c.Number); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Find resolves a spoken name. Exact folded matches win, then a contact
// whose name contains the query (or is contained by it), then a first-word
// match. Ties go to the shortest name.
func (s *Store) Find(ctx context.Context, name string) (Contact, bool, error) {
	q := Fold(name)
	if q == "" {
		return Contact{}, false, nil
	}
	all, err := s.List(ctx)
	if err != nil {
		return Contact{}, false, err
	}
	c, ok := bestMatch(q, all)
	return c, ok, nil
}

func bestMatch(q string, all []Contact) (Contact, bool) {
	rank := func(folded string) int {
		switch {
		case folded == q:
			return 0
		case strings.Contains(folded, q) || strings.Contains(q, folded):
			return 1
		case firstWord(folded) == firstWord(q):
			return 2
		}
		return -1
	}

	best, bestRank := Contact{}, -1
	for _, c := range all {
		f := Fold(c.Name)
		r := rank(f)
		if r < 0 {
			continue
		}
		if bestRank < 0 || r < bestRank || (r == bestRank && len(c.Name) < len(best.Name)) {
			best, bestRank = c, r
		}
	}
	return best, bestRank >= 0
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// Fold lowercases s and strips diacritics, so "María José" matches
// "maria jose".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Join(strings.Fields(out), " ")
}

// NormalizeNumber keeps digits and a leading plus sign.
func NormalizeNumber(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
