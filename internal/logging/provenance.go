package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// #region schema
const provenanceSchema = `
CREATE TABLE IF NOT EXISTS turn_provenance (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id     TEXT NOT NULL,
	user_tag    TEXT NOT NULL,
	utterance   TEXT NOT NULL,
	tier        TEXT,
	model       TEXT,
	provider    TEXT,
	enrichers   TEXT,
	attempts    INTEGER NOT NULL DEFAULT 0,
	outcome     TEXT NOT NULL,
	reason      TEXT,
	record_json TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turn_provenance_user ON turn_provenance(user_tag, created_at);
`

// EnsureProvenanceSchema creates the turn_provenance table if needed.
func EnsureProvenanceSchema(db *sql.DB) error {
	if _, err := db.Exec(provenanceSchema); err != nil {
		return fmt.Errorf("provenance schema: %w", err)
	}
	return nil
}
// #endregion schema

// #region log-turn
// LogTurn writes a provenance entry, with an optional detail record, to the
// turn_provenance table.
func LogTurn(ctx context.Context, db *sql.DB, entry ProvenanceEntry, record *TurnRecord) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var recordJSON string
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal turn record: %w", err)
		}
		recordJSON = string(data)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO turn_provenance (turn_id, user_tag, utterance, tier, model, provider, enrichers, attempts, outcome, reason, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TurnID,
		entry.UserTag,
		entry.Utterance,
		nullIfEmpty(entry.Tier),
		nullIfEmpty(entry.Model),
		nullIfEmpty(entry.Provider),
		nullIfEmpty(strings.Join(entry.Enrichers, ",")),
		entry.Attempts,
		entry.Outcome,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(recordJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log turn: %w", err)
	}
	return nil
}
// #endregion log-turn

// #region recent
// RecentTurns returns up to limit provenance rows for userTag, oldest first.
func RecentTurns(ctx context.Context, db *sql.DB, userTag string, limit int) ([]ProvenanceEntry, []TurnRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT turn_id, user_tag, utterance, tier, model, provider, enrichers, attempts, outcome, reason, record_json, created_at FROM (
			SELECT * FROM turn_provenance WHERE user_tag = ? ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`, userTag, limit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query provenance: %w", err)
	}
	defer rows.Close()

	var entries []ProvenanceEntry
	var records []TurnRecord
	for rows.Next() {
		var e ProvenanceEntry
		var tier, model, provider, enrichers, reason, recordJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&e.TurnID, &e.UserTag, &e.Utterance, &tier, &model, &provider,
			&enrichers, &e.Attempts, &e.Outcome, &reason, &recordJSON, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("scan provenance: %w", err)
		}
		e.Tier = tier.String
		e.Model = model.String
		e.Provider = provider.String
		e.Reason = reason.String
		if enrichers.String != "" {
			e.Enrichers = strings.Split(enrichers.String, ",")
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		var rec TurnRecord
		if recordJSON.String != "" {
			if err := json.Unmarshal([]byte(recordJSON.String), &rec); err != nil {
				return nil, nil, fmt.Errorf("decode turn record %s: %w", e.TurnID, err)
			}
		}
		entries = append(entries, e)
		records = append(records, rec)
	}
	return entries, records, rows.Err()
}
// #endregion recent

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
