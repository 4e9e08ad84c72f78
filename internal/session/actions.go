package session

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/metrics"
	"github.com/danielpatrickdp/olga/go-assistant/internal/orchestrator"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
)

// #region confirmations

const (
	confirmStopMusic = "Listo, apagué la música."
	confirmClear     = "Listo, empecemos de cero."
	confirmElevated  = "Modo dios activado. Pregúntame lo que quieras."
	confirmAlternate = "Hola, soy RITA. ¿En qué te puedo complacer?"
	confirmStandard  = "De vuelta al modo normal. Soy OLGA."
	refuseAlternate  = "Lo siento, ese modo es solo para mayores de edad."
)

func playMusicConfirmation(genre string) string {
	if genre == "" {
		return "Poniendo música."
	}
	return "Poniendo música " + genre + "."
}

var modeConfirmations = map[persona.Mode]string{
	persona.ModeElevated:  confirmElevated,
	persona.ModeAlternate: confirmAlternate,
	persona.ModeStandard:  confirmStandard,
}

// #endregion confirmations

// #region short-circuit

// shortCircuit answers a command without calling any model. Every action
// appends a confirmation turn except clear, which empties the log.
func (s *Session) shortCircuit(ctx context.Context, t turn, a orchestrator.Action) (TurnResult, error) {
	res := TurnResult{TurnID: t.id, Outcome: "short_circuit", Action: a.Kind}
	metrics.ShortCircuits.WithLabelValues(string(a.Kind)).Inc()

	var (
		evs      []Event
		reply    string
		mode     = t.mode
		switched bool
	)
	switch a.Kind {
	case orchestrator.ActionPlayMusic:
		reply = playMusicConfirmation(a.Genre)
		evs = append(evs, Event{Kind: EventRadio, Genre: a.Genre})

	case orchestrator.ActionStopMusic:
		reply = confirmStopMusic
		evs = append(evs, Event{Kind: EventRadioStop})

	case orchestrator.ActionClearConversation:
		return s.clear(ctx, t, res)

	default:
		target, ok := a.TargetMode()
		if !ok {
			return res, errors.New("unknown action " + string(a.Kind))
		}
		age, ageKnown := t.profile.Age(t.started)
		next, err := persona.Switch(t.mode, target, age, ageKnown, s.opts.AdultAge)
		if errors.Is(err, persona.ErrUnderage) {
			reply = refuseAlternate
			break
		}
		mode = next
		reply = modeConfirmations[next]
		switched = true
	}

	res.Reply = reply
	res.Speech = reply
	evs = append(evs, Event{Kind: EventDisplay, Role: string(conversation.RoleAssistant), Text: reply})
	evs = append(evs, speak(reply, s.voice(t.profile, mode))...)

	confirm := conversation.Turn{Role: conversation.RoleAssistant, Text: reply, At: s.deps.Now()}
	s.mu.Lock()
	if s.gen != t.gen {
		s.mu.Unlock()
		return s.superseded(t, res)
	}
	s.mode = mode
	s.turns.Append(confirm)
	for _, e := range evs {
		s.sink.Emit(e)
	}
	s.mu.Unlock()

	if switched {
		if err := s.deps.Store.SetPersona(ctx, t.userTag, string(mode)); err != nil {
			s.log.Warn().Err(err).Msg("persist persona failed")
		}
	}
	s.persist(ctx, t.userTag, confirm)
	s.provenance(ctx, t, res, "short_circuit", string(a.Kind))
	metrics.TurnDuration.WithLabelValues("short_circuit").Observe(time.Since(t.started).Seconds())
	return res, nil
}

// clear empties the in-memory and stored log.
func (s *Session) clear(ctx context.Context, t turn, res TurnResult) (TurnResult, error) {
	res.Reply = confirmClear
	res.Speech = confirmClear

	s.mu.Lock()
	if s.gen != t.gen {
		s.mu.Unlock()
		return s.superseded(t, res)
	}
	s.turns.Clear()
	s.sink.Emit(Event{Kind: EventDisplay, Role: string(conversation.RoleAssistant), Text: confirmClear})
	for _, e := range speak(confirmClear, s.voice(t.profile, t.mode)) {
		s.sink.Emit(e)
	}
	s.mu.Unlock()

	if err := s.deps.Store.ClearTurns(ctx, t.userTag); err != nil {
		s.log.Warn().Err(err).Msg("clear stored turns failed")
	}
	s.provenance(ctx, t, res, "short_circuit", string(res.Action))
	metrics.TurnDuration.WithLabelValues("short_circuit").Observe(time.Since(t.started).Seconds())
	return res, nil
}

// #endregion short-circuit
