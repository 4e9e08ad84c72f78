package orchestrator

import (
	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
)

// #region tier
// Tier selects which ordered candidate list serves a turn.
type Tier string

const (
	TierElevated  Tier = "elevated"
	TierPolitical Tier = "political"
	TierTechnical Tier = "technical"
	TierDefault   Tier = "default"
)
// #endregion tier

// #region action
// ActionKind names a command that bypasses the model cascade.
type ActionKind string

const (
	ActionPlayMusic         ActionKind = "play_music"
	ActionStopMusic         ActionKind = "stop_music"
	ActionModeElevated      ActionKind = "mode_elevated"
	ActionModeAlternate     ActionKind = "mode_alternate"
	ActionModeStandard      ActionKind = "mode_standard"
	ActionClearConversation ActionKind = "clear_conversation"
)

// Action is a short-circuit command extracted from an utterance.
type Action struct {
	Kind  ActionKind
	Genre string // play_music only
}

// TargetMode returns the persona a mode-switch action activates.
func (a Action) TargetMode() (persona.Mode, bool) {
	switch a.Kind {
	case ActionModeElevated:
		return persona.ModeElevated, true
	case ActionModeAlternate:
		return persona.ModeAlternate, true
	case ActionModeStandard:
		return persona.ModeStandard, true
	}
	return "", false
}
// #endregion action

// #region classification
// Classification is the routing decision for one utterance.
type Classification struct {
	ShortCircuit *Action
	Enrichers    []string // names in activation order
	Tier         Tier
}

// Has reports whether the named enricher was selected.
func (c Classification) Has(name string) bool {
	for _, n := range c.Enrichers {
		if n == name {
			return true
		}
	}
	return false
}
// #endregion classification

// #region interfaces
// Trigger is the keyword side of an enricher. Triggers sharing a non-empty
// Group are mutually exclusive; the first matching one in catalogue order wins.
type Trigger interface {
	Name() string
	Group() string
	Match(u conversation.Utterance) bool
}

// Classifier routes an utterance. Implementations must be pure: the same
// utterance and mode always yield the same classification.
type Classifier interface {
	Classify(u conversation.Utterance, mode persona.Mode) Classification
}
// #endregion interfaces
