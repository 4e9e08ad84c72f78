package logging

import "time"

// #region provenance-entry
// ProvenanceEntry is a single row in the turn_provenance table.
type ProvenanceEntry struct {
	TurnID    string
	UserTag   string
	Utterance string
	Tier      string
	Model     string // candidate that served the reply, empty when none did
	Provider  string
	Enrichers []string
	Attempts  int
	Outcome   string // "success" | "exhausted" | "short_circuit" | "cancelled"
	Reason    string
	CreatedAt time.Time
}
// #endregion provenance-entry

// #region turn-record
// TurnRecord is the JSON detail stored alongside a provenance row so a turn can
// be re-inspected or exported as a replay fixture.
type TurnRecord struct {
	TurnID       string   `json:"turn_id"`
	Utterance    string   `json:"utterance"`
	ShortCircuit string   `json:"short_circuit,omitempty"`
	Tier         string   `json:"tier"`
	Enrichers    []string `json:"enrichers,omitempty"`
	Fragments    int      `json:"fragments"`
	Model        string   `json:"model,omitempty"`
	Reply        string   `json:"reply,omitempty"`
	Attempts     []string `json:"attempts,omitempty"` // "model:outcome" per attempt
}
// #endregion turn-record
