package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
)

// #endregion

// #region schema

const cascadeAttemptsSchema = `
CREATE TABLE IF NOT EXISTS cascade_attempts (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id       TEXT NOT NULL,
    tier          TEXT NOT NULL,
    model         TEXT NOT NULL,
    provider      TEXT NOT NULL,
    attempt_num   INTEGER NOT NULL,
    outcome       TEXT NOT NULL,
    reason        TEXT NOT NULL DEFAULT '',
    latency_ms    INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
`

const cascadeAttemptsIndex = `
CREATE INDEX IF NOT EXISTS idx_cascade_attempts_lookup
ON cascade_attempts(tier, model);
`

// minSamples is the number of attempts a model needs before it is ranked.
const minSamples = 3

// #endregion

// #region memory-struct

// AttemptMemory persists cascade attempts in SQLite and reports
// decay-weighted success rates. Candidate order stays fixed configuration;
// these numbers are for inspection only.
type AttemptMemory struct {
	db *sql.DB
}

// NewAttemptMemory initializes the cascade_attempts table.
func NewAttemptMemory(db *sql.DB) (*AttemptMemory, error) {
	if _, err := db.Exec(cascadeAttemptsSchema); err != nil {
		return nil, err
	}
	if _, err := db.Exec(cascadeAttemptsIndex); err != nil {
		return nil, err
	}
	return &AttemptMemory{db: db}, nil
}

// #endregion

// #region record

// Record implements AttemptRecorder.
func (m *AttemptMemory) Record(ctx context.Context, rec AttemptRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO cascade_attempts
		(turn_id, tier, model, provider, attempt_num, outcome, reason, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID,
		string(rec.Tier),
		rec.Candidate.Model,
		string(rec.Candidate.Provider),
		rec.Index,
		string(rec.Outcome),
		rec.Reason,
		rec.Latency.Milliseconds(),
		created.UTC().Format(time.RFC3339),
	)
	return err
}

// #endregion

// #region recent

// Recent returns the latest attempts, newest first.
func (m *AttemptMemory) Recent(ctx context.Context, limit int) ([]AttemptRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT turn_id, tier, model, provider, attempt_num, outcome, reason, latency_ms, created_at
		FROM cascade_attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var tier, provider, outcome, created string
		var latencyMs int64
		if err := rows.Scan(&rec.TurnID, &tier, &rec.Candidate.Model, &provider, &rec.Index,
			&outcome, &rec.Reason, &latencyMs, &created); err != nil {
			return nil, err
		}
		rec.Tier = Tier(tier)
		rec.Candidate.Provider = llm.Kind(provider)
		rec.Outcome = AttemptOutcome(outcome)
		rec.Latency = time.Duration(latencyMs) * time.Millisecond
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion

// #region best-candidate

// BestCandidate returns the model with the highest decay-weighted success
// rate for tier. Returns ("", 0, nil) when no model has minSamples attempts.
// Cancelled attempts are ignored.
func (m *AttemptMemory) BestCandidate(ctx context.Context, tier Tier) (string, float64, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT model, outcome, created_at
		FROM cascade_attempts
		WHERE tier = ? AND outcome != ?`,
		string(tier), string(AttemptCancelled),
	)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	type modelAccum struct {
		weightedSum float64
		totalWeight float64
		count       int
	}

	now := time.Now()
	halfLife := 7.0 * 24.0 // 7 days in hours
	accum := make(map[string]*modelAccum)

	for rows.Next() {
		var model, outcome, createdAtStr string
		if err := rows.Scan(&model, &outcome, &createdAtStr); err != nil {
			return "", 0, err
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		weight := math.Exp(-now.Sub(createdAt).Hours() / halfLife)

		a, ok := accum[model]
		if !ok {
			a = &modelAccum{}
			accum[model] = a
		}
		if AttemptOutcome(outcome) == AttemptSuccess {
			a.weightedSum += weight
		}
		a.totalWeight += weight
		a.count++
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}

	var bestModel string
	bestScore := -1.0
	for model, a := range accum {
		if a.count < minSamples || a.totalWeight == 0 {
			continue
		}
		rate := a.weightedSum / a.totalWeight
		if rate > bestScore || (rate == bestScore && model < bestModel) {
			bestScore = rate
			bestModel = model
		}
	}
	if bestModel == "" {
		return "", 0, nil
	}
	return bestModel, bestScore, nil
}

// #endregion
