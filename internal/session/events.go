package session

import "sync"

// #region events

// EventKind names one client-facing event.
type EventKind string

const (
	EventSpeak      EventKind = "speak"
	EventStopSpeech EventKind = "stop_speech"
	EventDisplay    EventKind = "display"
	EventEffect     EventKind = "effect"
	EventRadio      EventKind = "radio"
	EventRadioStop  EventKind = "radio_stop"
	EventDial       EventKind = "dial"
	EventImage      EventKind = "image"
	EventAlarm      EventKind = "alarm"
	EventError      EventKind = "error"
	EventThinking   EventKind = "thinking"
)

// Event is one message for the client. Only the fields of its kind are set.
type Event struct {
	Kind    EventKind `json:"type"`
	Text    string    `json:"text,omitempty"`
	Voice   string    `json:"voice,omitempty"`
	Role    string    `json:"role,omitempty"`
	Model   string    `json:"model,omitempty"`
	Tier    string    `json:"tier,omitempty"`
	Emotion string    `json:"emotion,omitempty"`
	Genre   string    `json:"genre,omitempty"`
	Number  string    `json:"number,omitempty"`
	URL     string    `json:"url,omitempty"`
	Label   string    `json:"label,omitempty"`
	Time    string    `json:"time,omitempty"`
	On      *bool     `json:"on,omitempty"`
}

func thinking(on bool) Event { return Event{Kind: EventThinking, On: &on} }

// Sink receives events in emission order. Emit must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Recorder is a Sink that keeps every event, for tests and the REPL.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kind returns the recorded events of one kind.
func (r *Recorder) Kind(k EventKind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// #endregion events
