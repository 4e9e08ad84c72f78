package conversation

// #region imports
import (
	"strings"
	"time"
)

// #endregion imports

// #region role

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// #endregion role

// #region turn

// Turn is one exchanged message. Ordering in a Log is chronological.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// #endregion turn

// #region utterance

// Utterance is one user input plus its matching form: lowercased with
// whitespace runs collapsed to a single space.
type Utterance struct {
	Raw   string
	Lower string
}

// NewUtterance derives the matching form of raw.
func NewUtterance(raw string) Utterance {
	return Utterance{
		Raw:   raw,
		Lower: strings.Join(strings.Fields(strings.ToLower(raw)), " "),
	}
}

// Empty reports whether the utterance has no content after trimming.
func (u Utterance) Empty() bool {
	return u.Lower == ""
}

// ContainsAny reports whether any keyword is a substring of the lowercased form.
func (u Utterance) ContainsAny(keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(u.Lower, kw) {
			return true
		}
	}
	return false
}

// #endregion utterance

// #region log

// Log is a bounded, append-only sequence of turns. Once the cap is reached the
// oldest turns are dropped.
type Log struct {
	turns []Turn
	cap   int
}

// NewLog creates a log capped at max turns, seeded with existing turns.
// A non-positive max means unbounded.
func NewLog(max int, seed ...Turn) *Log {
	l := &Log{cap: max}
	l.Append(seed...)
	return l
}

// Append adds turns in order and trims the oldest beyond the cap.
func (l *Log) Append(turns ...Turn) {
	l.turns = append(l.turns, turns...)
	if l.cap > 0 && len(l.turns) > l.cap {
		drop := len(l.turns) - l.cap
		l.turns = append([]Turn(nil), l.turns[drop:]...)
	}
}

// Len returns the number of stored turns.
func (l *Log) Len() int {
	return len(l.turns)
}

// Turns returns a copy of every stored turn.
func (l *Log) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Window returns a copy of the last n turns (all of them if fewer are stored).
func (l *Log) Window(n int) []Turn {
	return Tail(l.turns, n)
}

// Clear drops all turns.
func (l *Log) Clear() {
	l.turns = nil
}

// Tail returns a copy of the last n elements of turns.
func Tail(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) < n {
		n = len(turns)
	}
	out := make([]Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}

// #endregion log
