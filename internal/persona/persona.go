// Package persona holds the persona modes and assembles the system
// instruction and message list for a turn.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// #region mode

// Mode is the active persona. Exactly one mode is active at a time; the
// single-valued type makes Elevated and Alternate mutually exclusive.
type Mode string

const (
	ModeStandard  Mode = "standard"
	ModeElevated  Mode = "elevated"
	ModeAlternate Mode = "alternate"
)

// ParseMode maps a stored flag to a Mode, defaulting to Standard.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeElevated, ModeAlternate:
		return Mode(s)
	}
	return ModeStandard
}

// ErrUnderage is returned when the alternate persona is requested by a
// profile without a known age at or above the adult age.
var ErrUnderage = errors.New("alternate persona requires an adult profile")

// Switch returns the mode after a switch request. The alternate persona is
// gated on age; on refusal the current mode is returned unchanged.
func Switch(current, target Mode, age int, ageKnown bool, adultAge int) (Mode, error) {
	if target == ModeAlternate && (!ageKnown || age < adultAge) {
		return current, ErrUnderage
	}
	return target, nil
}

// #endregion mode

// #region templates

//go:embed templates.yaml
var templatesYAML []byte

// Templates is the parsed persona template set.
type Templates struct {
	Identity string            `yaml:"identity"`
	Rules    map[string]string `yaml:"rules"`
	Personas map[Mode]Variant  `yaml:"personas"`
}

// Variant is the per-persona part of the instruction.
type Variant struct {
	Name  string `yaml:"name"`
	Voice string `yaml:"voice"`
}

// LoadTemplates parses the embedded template set.
func LoadTemplates() (*Templates, error) {
	return ParseTemplates(templatesYAML)
}

// ParseTemplates parses a template set and checks every mode is present.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse persona templates: %w", err)
	}
	for _, m := range []Mode{ModeStandard, ModeElevated, ModeAlternate} {
		if _, ok := t.Personas[m]; !ok {
			return nil, fmt.Errorf("persona templates: missing %s", m)
		}
	}
	for _, r := range []string{"greeting", "formatting", "anti_hallucination", "financial_allowed", "financial_denied"} {
		if strings.TrimSpace(t.Rules[r]) == "" {
			return nil, fmt.Errorf("persona templates: missing rule %s", r)
		}
	}
	return &t, nil
}

// Variant returns the template for mode.
func (t *Templates) Variant(m Mode) Variant {
	if v, ok := t.Personas[m]; ok {
		return v
	}
	return t.Personas[ModeStandard]
}

func (t *Templates) rule(name string) string {
	return strings.TrimSpace(t.Rules[name])
}

// #endregion templates
