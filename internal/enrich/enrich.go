// Package enrich gathers external context for a turn. Each enricher is
// selected by keyword, runs against one external collaborator and returns at
// most one text fragment for the prompt. Failures never abort a turn.
package enrich

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/danielpatrickdp/olga/go-assistant/internal/alarm"
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
)

// #region types

// Fragment is one piece of context text. Authoritative fragments carry a
// live price that the model must use verbatim.
type Fragment struct {
	Source        string
	Text          string
	Authoritative bool
}

// Coords is a device position.
type Coords struct {
	Lat float64
	Lon float64
}

// Snapshot is the read-only session state an enricher may consult.
type Snapshot struct {
	UserTag        string
	UserName       string
	Authorized     bool
	Location       string
	Coords         *Coords
	PendingContact string
	Now            time.Time
}

// Effects are the side effects enrichers may request from the session.
type Effects interface {
	Dial(number string)
	SetPendingContact(name string)
	AddAlarm(a alarm.Alarm)
}

// Enricher is a keyword-triggered context source.
type Enricher interface {
	Name() string
	Group() string
	Match(u conversation.Utterance) bool
	Enrich(ctx context.Context, u conversation.Utterance, snap Snapshot, fx Effects) (*Fragment, error)
}

// deferrer marks enrichers that only run after the immediate phase and only
// when it produced no authoritative fragment.
type deferrer interface {
	Deferred() bool
}

// timeouter overrides the runner's per-enricher timeout.
type timeouter interface {
	Timeout() time.Duration
}

// Group names.
const (
	GroupPrice  = "price"
	GroupSearch = "search"
)

// #endregion types

// #region catalogue

// Catalogue is the ordered enricher list. Order decides precedence inside a
// group.
type Catalogue []Enricher

// Triggers exposes the catalogue to the classifier.
func (c Catalogue) Triggers() []orchestrator.Trigger {
	out := make([]orchestrator.Trigger, len(c))
	for i, e := range c {
		out[i] = e
	}
	return out
}

// Lookup finds an enricher by name.
func (c Catalogue) Lookup(name string) (Enricher, bool) {
	for _, e := range c {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Names lists enricher names in catalogue order.
func (c Catalogue) Names() []string {
	out := make([]string, len(c))
	for i, e := range c {
		out[i] = e.Name()
	}
	return out
}

// #endregion catalogue

// #region helpers

// keywords implements the trigger half of an Enricher.
type keywords struct {
	name  string
	group string
	words []string
}

func (k keywords) Name() string { return k.name }
func (k keywords) Group() string { return k.group }
func (k keywords) Match(u conversation.Utterance) bool { return u.ContainsAny(k.words) }

// after returns the text following the first phrase found in lower, cleaned
// of punctuation and leading articles.
func after(lower string, phrases []string) string {
	for _, p := range phrases {
		if i := strings.Index(lower, p); i >= 0 {
			return subject(lower[i+len(p):])
		}
	}
	return ""
}

var leadingFillers = []string{"el ", "la ", "los ", "las ", "un ", "una ", "a ", "al ", "de ", "del ", "sobre "}

var trailingFillers = []string{" por favor", " porfa", " porfavor", " ahora", " ya"}

// subject trims punctuation and filler words around a spoken subject.
func subject(s string) string {
	s = strings.Trim(strings.TrimSpace(s), " ,.;:!¡?¿\"'")
	for changed := true; changed; {
		changed = false
		for _, f := range leadingFillers {
			if strings.HasPrefix(s, f) {
				s = strings.TrimSpace(s[len(f):])
				changed = true
			}
		}
		for _, f := range trailingFillers {
			if strings.HasSuffix(s, f) {
				s = strings.TrimSpace(strings.TrimSuffix(s, f))
				changed = true
			}
		}
	}
	return strings.Trim(s, " ,.;:!¡?¿\"'")
}

// titleCase capitalises a spoken name, "maría josé" -> "María José".
// A Caser keeps state between calls, so each call gets its own.
func titleCase(s string) string { return cases.Title(language.Spanish).String(s) }

// amount renders a currency amount with two decimals.
func amount(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// #endregion helpers
