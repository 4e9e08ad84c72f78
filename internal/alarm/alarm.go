// Package alarm parses spoken alarm requests and fires them from a
// background watcher.
package alarm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// #region types

// Alarm is a scheduled reminder. TriggerTime is "HH:MM" in local time.
type Alarm struct {
	ID          string    `json:"id"`
	TriggerTime string    `json:"trigger_time"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrNoTime is returned when no time phrase was recognised.
var ErrNoTime = errors.New("no time phrase found")

// DefaultLabel is used when the request names no reason.
const DefaultLabel = "Alarma"

// #endregion types

// #region parse

var (
	relativeRe = regexp.MustCompile(`en (\d+|un|una|media) (minutos?|horas?)`)
	absoluteRe = regexp.MustCompile(`a las? (\d{1,2}|una)(?::(\d{2}))?( y media| y cuarto| en punto)?(?: (de la mañana|de la manana|de la tarde|de la noche|am|pm|a\.m\.|p\.m\.))?`)
)

var labelPrefixes = []string{"para que ", "para ", "que ", "de ", "a "}

// Parse extracts an alarm from a lowercased utterance relative to now.
// Recognised forms: "en N minutos|horas", "en una hora", "en media hora",
// "a las H[:MM] [y media|y cuarto] [de la mañana|tarde|noche]".
func Parse(lower string, now time.Time) (Alarm, error) {
	var at time.Time
	var span [2]int

	if m := relativeRe.FindStringSubmatchIndex(lower); m != nil {
		qty := lower[m[2]:m[3]]
		unit := lower[m[4]:m[5]]
		d, err := relativeDuration(qty, unit)
		if err != nil {
			return Alarm{}, err
		}
		at = now.Add(d)
		span = [2]int{m[0], m[1]}
	} else if m := absoluteRe.FindStringSubmatchIndex(lower); m != nil {
		t, err := absoluteTime(lower, m, now)
		if err != nil {
			return Alarm{}, err
		}
		at = t
		span = [2]int{m[0], m[1]}
	} else {
		return Alarm{}, ErrNoTime
	}

	return Alarm{
		ID:          uuid.New().String(),
		TriggerTime: at.Format("15:04"),
		Label:       extractLabel(lower, span),
		CreatedAt:   now,
	}, nil
}

func relativeDuration(qty, unit string) (time.Duration, error) {
	var n float64
	switch qty {
	case "un", "una":
		n = 1
	case "media":
		n = 0.5
	default:
		v, err := strconv.Atoi(qty)
		if err != nil {
			return 0, fmt.Errorf("parse quantity %q: %w", qty, err)
		}
		n = float64(v)
	}
	if n <= 0 {
		return 0, ErrNoTime
	}
	if strings.HasPrefix(unit, "hora") {
		return time.Duration(n * float64(time.Hour)), nil
	}
	if qty == "media" {
		// "en media minuto" is not a phrase anyone says; treat as half an hour.
		return 30 * time.Minute, nil
	}
	return time.Duration(n * float64(time.Minute)), nil
}

func absoluteTime(lower string, m []int, now time.Time) (time.Time, error) {
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return lower[m[2*i]:m[2*i+1]]
	}

	hourText := group(1)
	hour := 1
	if hourText != "una" {
		h, err := strconv.Atoi(hourText)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse hour %q: %w", hourText, err)
		}
		hour = h
	}
	minute := 0
	if mm := group(2); mm != "" {
		v, err := strconv.Atoi(mm)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse minute %q: %w", mm, err)
		}
		minute = v
	}
	switch group(3) {
	case " y media":
		minute = 30
	case " y cuarto":
		minute = 15
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}

	switch group(4) {
	case "de la tarde", "de la noche", "pm", "p.m.":
		if hour < 12 {
			hour += 12
		} else if hour == 12 && group(4) == "de la noche" {
			hour = 0
		}
	case "de la mañana", "de la manana", "am", "a.m.":
		if hour == 12 {
			hour = 0
		}
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()), nil
}

func extractLabel(lower string, span [2]int) string {
	rest := strings.TrimSpace(lower[span[1]:])
	if rest == "" {
		// "recuérdame sacar la basura en 10 minutos": take what precedes the time.
		rest = strings.TrimSpace(lower[:span[0]])
		for _, cmd := range []string{"recuérdame", "recuerdame", "avísame", "avisame", "despiértame", "despiertame", "pon una alarma", "ponme una alarma", "alarma"} {
			if i := strings.Index(rest, cmd); i >= 0 {
				rest = strings.TrimSpace(rest[i+len(cmd):])
				break
			}
		}
	}
	rest = strings.Trim(rest, " ,.;:!¡?¿")
	for _, p := range labelPrefixes {
		rest = strings.TrimPrefix(rest, p)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return DefaultLabel
	}
	return rest
}

// #endregion parse

// #region book

// Book is the in-memory alarm collection. Alarms keep insertion order.
type Book struct {
	mu     sync.Mutex
	alarms []Alarm
}

// NewBook creates an empty book.
func NewBook() *Book { return &Book{} }

// Add stores an alarm.
func (b *Book) Add(a Alarm) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alarms = append(b.alarms, a)
}

// List returns a copy of pending alarms.
func (b *Book) List() []Alarm {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Alarm(nil), b.alarms...)
}

// Due removes and returns every alarm set for now's minute.
func (b *Book) Due(now time.Time) []Alarm {
	key := now.Format("15:04")
	b.mu.Lock()
	defer b.mu.Unlock()

	var due, keep []Alarm
	for _, a := range b.alarms {
		if a.TriggerTime == key {
			due = append(due, a)
		} else {
			keep = append(keep, a)
		}
	}
	b.alarms = keep
	return due
}

// #endregion book
