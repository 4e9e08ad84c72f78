package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProfileRoundTrip(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	birth := time.Date(1990, 5, 20, 0, 0, 0, 0, time.UTC)

	if err := s.SaveProfile(ctx, Profile{Name: "Ana", BirthDate: &birth, Location: "Caracas", Voice: "Paulina"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	p, err := s.GetProfile(ctx, "Ana")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.BirthDate == nil || !p.BirthDate.Equal(birth) {
		t.Fatalf("expected birth date %v, got %v", birth, p.BirthDate)
	}
	if p.Location != "Caracas" || p.Voice != "Paulina" {
		t.Fatalf("unexpected profile %+v", p)
	}

	// Update keeps one row
	if err := s.SaveProfile(ctx, Profile{Name: "Ana", Location: "Valencia"}); err != nil {
		t.Fatalf("SaveProfile update: %v", err)
	}
	p, _ = s.GetProfile(ctx, "Ana")
	if p.BirthDate != nil || p.Location != "Valencia" {
		t.Fatalf("expected updated profile, got %+v", p)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetProfile(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.LastProfile(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from LastProfile, got %v", err)
	}
}

func TestLastProfile(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	s.SaveProfile(ctx, Profile{Name: "Ana"})
	time.Sleep(5 * time.Millisecond)
	s.SaveProfile(ctx, Profile{Name: "Luis"})

	p, err := s.LastProfile(ctx)
	if err != nil {
		t.Fatalf("LastProfile: %v", err)
	}
	if p.Name != "Luis" {
		t.Fatalf("expected Luis, got %s", p.Name)
	}
}

func TestPersonaFlag(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	mode, err := s.GetPersona(ctx, "ana")
	if err != nil || mode != "" {
		t.Fatalf("expected empty persona, got %q err=%v", mode, err)
	}
	s.SetPersona(ctx, "ana", "elevated")
	s.SetPersona(ctx, "ana", "alternate")
	mode, _ = s.GetPersona(ctx, "ana")
	if mode != "alternate" {
		t.Fatalf("expected alternate, got %q", mode)
	}
}

func TestAppendTurnsTrimsToKeep(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		turn := conversation.Turn{Role: conversation.RoleUser, Text: string(rune('a' + i%26))}
		if err := s.AppendTurns(ctx, "ana", 10, turn); err != nil {
			t.Fatalf("AppendTurns: %v", err)
		}
	}
	turns, err := s.LoadTurns(ctx, "ana", 0)
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 10 {
		t.Fatalf("expected 10 stored turns, got %d", len(turns))
	}
	// Oldest kept is the 21st append (index 20 -> 'u')
	if turns[0].Text != "u" {
		t.Fatalf("expected oldest kept turn 'u', got %q", turns[0].Text)
	}
}

func TestLoadTurnsLimitAndIsolation(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	s.AppendTurns(ctx, "ana", 0,
		conversation.Turn{Role: conversation.RoleUser, Text: "hola"},
		conversation.Turn{Role: conversation.RoleAssistant, Text: "qué tal"},
		conversation.Turn{Role: conversation.RoleUser, Text: "bien"},
	)
	s.AppendTurns(ctx, "luis", 0, conversation.Turn{Role: conversation.RoleUser, Text: "otro"})

	turns, _ := s.LoadTurns(ctx, "ana", 2)
	if len(turns) != 2 || turns[0].Text != "qué tal" || turns[1].Text != "bien" {
		t.Fatalf("unexpected window %+v", turns)
	}
	if turns[0].Role != conversation.RoleAssistant {
		t.Fatalf("expected assistant role, got %s", turns[0].Role)
	}

	if err := s.ReplaceTurns(ctx, "ana", []conversation.Turn{{Role: conversation.RoleUser, Text: "nuevo"}}); err != nil {
		t.Fatalf("ReplaceTurns: %v", err)
	}
	turns, _ = s.LoadTurns(ctx, "ana", 0)
	if len(turns) != 1 || turns[0].Text != "nuevo" {
		t.Fatalf("expected replaced log, got %+v", turns)
	}

	other, _ := s.LoadTurns(ctx, "luis", 0)
	if len(other) != 1 {
		t.Fatalf("expected other user untouched, got %d", len(other))
	}
}

func TestTokensRoundTrip(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	u, err := s.LoadTokens(ctx, "ana")
	if err != nil || u.Count != 0 {
		t.Fatalf("expected zero counter, got %+v err=%v", u, err)
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	u = u.Add(40, now)
	if err := s.SaveTokens(ctx, "ana", u); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	got, _ := s.LoadTokens(ctx, "ana")
	if got.Count != 40 || got.ResetDate != "2026-03-01" {
		t.Fatalf("unexpected counter %+v", got)
	}
}

func TestTokenUsageResetsOnNewDay(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.Local)
	day2 := day1.Add(2 * time.Hour)

	u := TokenUsage{}.Add(10, day1).Add(5, day1)
	if u.Count != 15 {
		t.Fatalf("expected 15, got %d", u.Count)
	}
	u = u.Add(3, day2)
	if u.Count != 3 || u.ResetDate != "2026-03-02" {
		t.Fatalf("expected reset counter, got %+v", u)
	}
}

func TestProfileAge(t *testing.T) {
	birth := time.Date(2008, 6, 15, 0, 0, 0, 0, time.UTC)
	p := Profile{Name: "x", BirthDate: &birth}

	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC), 17},
		{time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC), 18},
		{time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), 18},
	}
	for _, tt := range tests {
		got, ok := p.Age(tt.now)
		if !ok || got != tt.want {
			t.Errorf("Age(%v) = %d,%v want %d", tt.now, got, ok, tt.want)
		}
	}
	if _, ok := (Profile{}).Age(time.Now()); ok {
		t.Error("expected ok=false without birth date")
	}
}
