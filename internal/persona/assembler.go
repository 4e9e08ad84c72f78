package persona

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
)

// #region types

// Section is one named block of the system instruction.
type Section struct {
	Name string
	Text string
}

// Instruction is the structured system instruction. Sections keep their
// order: identity, persona, greeting, formatting, anti-hallucination,
// authorization, then situational data.
type Instruction struct {
	Sections []Section
}

// Text joins the sections into the system prompt.
func (in Instruction) Text() string {
	parts := make([]string, 0, len(in.Sections))
	for _, s := range in.Sections {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Has reports whether a section is present.
func (in Instruction) Has(name string) bool {
	for _, s := range in.Sections {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Input is everything the assembler reads for one turn.
type Input struct {
	Utterance  conversation.Utterance
	Fragments  []string
	Mode       Mode
	UserName   string
	Age        int
	AgeKnown   bool
	Location   string
	History    []conversation.Turn // prior turns, current utterance excluded
	MemoryDNA  string
	Authorized bool // financial data may be disclosed
	Now        time.Time
}

// Prompt is the assembled request content.
type Prompt struct {
	Instruction Instruction
	Messages    []llm.Message
}

// System returns the system instruction text.
func (p Prompt) System() string { return p.Instruction.Text() }

// #endregion types

// #region assembler

// Assembler builds prompts from the persona templates.
type Assembler struct {
	templates *Templates
	window    int
}

// NewAssembler creates an assembler projecting at most window prior turns.
func NewAssembler(t *Templates, window int) *Assembler {
	if window <= 0 {
		window = 15
	}
	return &Assembler{templates: t, window: window}
}

// Window returns the trailing-turn window.
func (a *Assembler) Window() int { return a.window }

// Assemble builds the instruction and message list for one turn.
func (a *Assembler) Assemble(in Input) Prompt {
	v := a.templates.Variant(in.Mode)
	t := a.templates

	sections := []Section{
		{"identity", strings.TrimSpace(strings.ReplaceAll(t.Identity, "{{name}}", v.Name))},
		{"persona", strings.TrimSpace(v.Voice)},
	}
	if c := t.rule("continuity"); c != "" {
		sections = append(sections, Section{"continuity", c})
	}
	if len(in.History) > 0 {
		sections = append(sections, Section{"greeting", t.rule("greeting")})
	}
	sections = append(sections,
		Section{"formatting", t.rule("formatting")},
		Section{"anti_hallucination", t.rule("anti_hallucination")},
	)
	if in.Authorized {
		sections = append(sections, Section{"authorization", t.rule("financial_allowed")})
	} else {
		sections = append(sections, Section{"authorization", t.rule("financial_denied")})
	}
	if img := t.rule("image"); img != "" {
		sections = append(sections, Section{"image", img})
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	sections = append(sections, Section{"datetime", fmt.Sprintf(
		"Hoy es %s. La hora actual es %s. Si te preguntan la hora, di solo la hora.",
		SpanishDate(now), now.Format("15:04"))})

	if profile := profileSection(in); profile != "" {
		sections = append(sections, Section{"profile", profile})
	}
	if strings.TrimSpace(in.MemoryDNA) != "" {
		sections = append(sections, Section{"memory_dna", "Lo que sabes de tu relación con el usuario: " + strings.TrimSpace(in.MemoryDNA)})
	}

	window := conversation.Tail(in.History, a.window)
	messages := make([]llm.Message, 0, len(window)+1)
	for _, turn := range window {
		role := "user"
		if turn.Role == conversation.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: currentTurn(in)})

	return Prompt{Instruction: Instruction{Sections: sections}, Messages: messages}
}

func profileSection(in Input) string {
	var parts []string
	if in.UserName != "" {
		parts = append(parts, fmt.Sprintf("El usuario se llama %s; llámalo por su nombre de vez en cuando.", in.UserName))
	}
	if in.AgeKnown {
		parts = append(parts, fmt.Sprintf("Tiene %d años.", in.Age))
	}
	if in.Location != "" {
		parts = append(parts, fmt.Sprintf("Se encuentra en %s.", in.Location))
	}
	return strings.Join(parts, " ")
}

func currentTurn(in Input) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(in.Utterance.Raw))
	for _, f := range in.Fragments {
		if strings.TrimSpace(f) == "" {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimSpace(f))
	}
	return sb.String()
}

// #endregion assembler

// #region dates

var spanishWeekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var spanishMonths = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// SpanishDate formats t as "miércoles 14 de octubre de 2026".
func SpanishDate(t time.Time) string {
	return fmt.Sprintf("%s %d de %s de %d",
		spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1], t.Year())
}

// #endregion dates
