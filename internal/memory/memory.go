// Package memory is the long-term conversation memory: an append-only log
// of exchanged turns queried by user and keyword.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
)

// #region types

// Entry is one remembered exchange.
type Entry struct {
	ID        string    `json:"id"`
	UserTag   string    `json:"user_tag"`
	Content   string    `json:"content"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Query filters entries for one user. Empty Keywords returns the most
// recent entries.
type Query struct {
	UserTag  string
	Keywords []string
	Limit    int
}

// Store appends and queries memory entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
}

// DefaultLimit bounds query results when Query.Limit is unset.
const DefaultLimit = 5

// scanWindow is how many recent entries a keyword query inspects.
const scanWindow = 500

// #endregion types

// #region keywords

var stopwords = map[string]bool{
	"el": true, "la": true, "los": true, "las": true, "un": true, "una": true,
	"unos": true, "unas": true, "de": true, "del": true, "al": true, "a": true,
	"en": true, "y": true, "o": true, "u": true, "que": true, "qué": true,
	"es": true, "son": true, "era": true, "fue": true, "ser": true, "estar": true,
	"lo": true, "le": true, "les": true, "se": true, "me": true, "te": true,
	"mi": true, "mis": true, "tu": true, "tus": true, "su": true, "sus": true,
	"por": true, "para": true, "con": true, "sin": true, "sobre": true,
	"como": true, "cómo": true, "cuando": true, "cuándo": true, "donde": true,
	"dónde": true, "pero": true, "si": true, "sí": true, "no": true, "ya": true,
	"muy": true, "más": true, "mas": true, "este": true, "esta": true,
	"eso": true, "esto": true, "ese": true, "esa": true, "yo": true, "tú": true,
	"él": true, "ella": true, "nos": true, "hay": true, "ha": true, "he": true,
	"has": true, "hemos": true, "han": true, "acuerdas": true, "recuerdas": true,
	"acuerdo": true, "hablamos": true, "dije": true, "dijiste": true,
	"vez": true, "otra": true, "olga": true, "rita": true, "usuario": true,
}

// Keywords splits text into unique lowercase non-stopword tokens of at least
// three letters.
func Keywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		if len([]rune(w)) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// score counts how many keywords appear in content.
func score(content string, keywords []string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

// rank filters entries (newest first) by keyword score and truncates to
// limit. Higher scores win; ties keep recency order.
func rank(entries []Entry, keywords []string, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(keywords) == 0 {
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return entries
	}

	type scored struct {
		e Entry
		s int
	}
	var hits []scored
	for _, e := range entries {
		if s := score(e.Content, keywords); s > 0 {
			hits = append(hits, scored{e, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].s > hits[j].s })

	out := make([]Entry, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.e)
	}
	return out
}

// FormatExchange renders a turn pair as stored memory content.
func FormatExchange(userText, reply string) string {
	return "Usuario: " + strings.TrimSpace(userText) + "\nAsistente: " + strings.TrimSpace(reply)
}

// #endregion keywords
