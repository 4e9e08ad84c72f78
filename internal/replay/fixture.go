package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description  string               `json:"description"`
	Now          string               `json:"now,omitempty"` // RFC 3339, defaults to a fixed date
	Profile      FixtureProfile       `json:"profile"`
	Config       FixtureConfig        `json:"config"`
	Interactions []FixtureInteraction `json:"interactions"`
}

// FixtureProfile is the profile active for the whole replay.
type FixtureProfile struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date,omitempty"` // YYYY-MM-DD
	Location  string `json:"location,omitempty"`
}

// FixtureConfig overrides session options.
type FixtureConfig struct {
	FinancialUser string `json:"financial_user,omitempty"`
	HistoryWindow int    `json:"history_window,omitempty"`
	LogCap        int    `json:"log_cap,omitempty"`
}

// FixtureInteraction is one utterance with the canned outcome of each
// candidate the cascade will try, in order.
type FixtureInteraction struct {
	TurnID            string             `json:"turn_id"`
	Utterance         string             `json:"utterance"`
	CandidateOutcomes []CandidateOutcome `json:"candidate_outcomes,omitempty"`
	Expected          Expected           `json:"expected"`
}

// CandidateOutcome scripts one provider call. Status 0 or 200 returns
// Reply; any other status fails with that code.
type CandidateOutcome struct {
	Status int    `json:"status,omitempty"`
	Reply  string `json:"reply,omitempty"`
}

// Expected lists the checked parts of a turn result. Empty fields are not
// checked.
type Expected struct {
	Outcome      string `json:"outcome,omitempty"`
	ShortCircuit string `json:"short_circuit,omitempty"`
	Tier         string `json:"tier,omitempty"`
	Model        string `json:"model,omitempty"`
	Display      string `json:"display,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Write stores f as indented JSON.
func (f *Fixture) Write(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToProfile converts the fixture profile to a stored profile.
func (p FixtureProfile) ToProfile() (state.Profile, error) {
	prof := state.Profile{Name: p.Name, Location: p.Location}
	if p.BirthDate != "" {
		b, err := time.Parse("2006-01-02", p.BirthDate)
		if err != nil {
			return state.Profile{}, fmt.Errorf("fixture birth_date: %w", err)
		}
		prof.BirthDate = &b
	}
	return prof, nil
}

// #endregion fixture-loader

// #region export

// exhaustedStatus scripts every candidate of an exported error turn.
const exhaustedStatus = 503

// FromTurns builds a fixture from a stored conversation. Each user turn
// followed by an assistant turn becomes one interaction whose first
// candidate answers with the stored reply. Stored error replies become
// exhausted turns.
func FromTurns(description string, profile state.Profile, turns []conversation.Turn, candidates int) *Fixture {
	f := &Fixture{
		Description: description,
		Profile:     FixtureProfile{Name: profile.Name, Location: profile.Location},
	}
	if profile.BirthDate != nil {
		f.Profile.BirthDate = profile.BirthDate.Format("2006-01-02")
	}
	if candidates <= 0 {
		candidates = 3
	}
	for i := 0; i+1 < len(turns); i++ {
		u, a := turns[i], turns[i+1]
		if u.Role != conversation.RoleUser || a.Role != conversation.RoleAssistant {
			continue
		}
		inter := FixtureInteraction{
			TurnID:    fmt.Sprintf("turn-%d", len(f.Interactions)+1),
			Utterance: u.Text,
		}
		if strings.HasPrefix(a.Text, "Error: ") {
			for c := 0; c < candidates; c++ {
				inter.CandidateOutcomes = append(inter.CandidateOutcomes, CandidateOutcome{Status: exhaustedStatus})
			}
			inter.Expected = Expected{Outcome: "exhausted", Attempts: candidates}
		} else {
			inter.CandidateOutcomes = []CandidateOutcome{{Status: 200, Reply: a.Text}}
			inter.Expected = Expected{Display: a.Text}
		}
		f.Interactions = append(f.Interactions, inter)
		i++
	}
	return f
}

// #endregion export
