package orchestrator

// #region imports
import (
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/persona"
)

// #endregion

// #region keywords

var stopMusicKeywords = []string{
	"para la música", "para la musica", "apaga la música", "apaga la musica",
	"apaga la radio", "para la radio", "detén la música", "deten la musica",
	"quita la música", "quita la musica",
}

var playMusicKeywords = []string{
	"pon música", "pon musica", "ponme música", "ponme musica",
	"reproduce música", "reproduce musica", "toca música", "toca musica",
}

// playMusicVerbs start a play request only when what follows is a genre,
// "quiero escuchar tu opinión" stays a question.
var playMusicVerbs = []string{"pon la radio", "pon radio", "quiero escuchar"}

var knownGenres = map[string]bool{
	"salsa": true, "merengue": true, "bachata": true, "reggaeton": true, "reguetón": true,
	"rock": true, "pop": true, "jazz": true, "vallenato": true, "llanera": true,
	"gaita": true, "gaitas": true, "clásica": true, "clasica": true, "baladas": true,
	"electrónica": true, "electronica": true, "cumbia": true, "tango": true,
	"boleros": true, "romántica": true, "romantica": true, "joropo": true,
}

// musicCommandWords are removed from a play request to leave the genre.
var musicCommandWords = []string{
	"ponme", "pon", "reproduce", "toca", "quiero escuchar", "música", "musica",
	"la radio", "radio", "por favor", "un poco de", "algo de",
}

var clearKeywords = []string{
	"nueva conversación", "nueva conversacion", "borra la conversación",
	"borra la conversacion", "borra el historial", "empecemos de cero",
}

var modeKeywords = []struct {
	phrase string
	kind   ActionKind
}{
	{"modo dios", ActionModeElevated},
	{"modo sensual", ActionModeAlternate},
	{"modo rita", ActionModeAlternate},
	{"modo normal", ActionModeStandard},
	{"modo olga", ActionModeStandard},
}

// modeFillers may surround a mode phrase without turning it into a request.
var modeFillers = map[string]bool{
	"activa": true, "activar": true, "actívate": true, "activate": true, "el": true,
	"la": true, "en": true, "pon": true, "ponte": true, "oye": true, "olga": true,
	"rita": true, "por": true, "favor": true, "ya": true, "modo": true, "vuelve": true,
	"al": true, "a": true,
}

var politicalKeywords = []string{
	"maduro", "presidente", "presidenta", "gobierno", "elecciones", "elección",
	"chávez", "chavez", "política", "politica", "ministro", "diputado",
	"asamblea nacional", "oposición", "oposicion", "sanciones", "dictadura",
	"machado", "trump", "biden", "petro", "partido", "constitución",
}

var technicalKeywords = []string{
	"ciencia", "científic", "cientific", "código", "codigo", "programación",
	"programacion", "programa en", "python", "javascript", "algoritmo",
	"física", "fisica", "química", "quimica", "matemática", "matematica",
	"ecuación", "ecuacion", "tecnología", "tecnologia", "inteligencia artificial",
	"guion", "guión", "poema", "cuento", "canción", "cancion", "novela",
}

// #endregion

// #region classifier

// KeywordClassifier evaluates fixed keyword tables plus the trigger set of
// every registered enricher.
type KeywordClassifier struct {
	triggers []Trigger
}

// NewKeywordClassifier builds a classifier over triggers in catalogue order.
func NewKeywordClassifier(triggers ...Trigger) *KeywordClassifier {
	return &KeywordClassifier{triggers: triggers}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(u conversation.Utterance, mode persona.Mode) Classification {
	if action := shortCircuit(u); action != nil {
		return Classification{ShortCircuit: action, Tier: classifyTier(u, mode)}
	}
	return Classification{
		Enrichers: c.selectEnrichers(u),
		Tier:      classifyTier(u, mode),
	}
}

func (c *KeywordClassifier) selectEnrichers(u conversation.Utterance) []string {
	var names []string
	taken := make(map[string]bool)
	for _, t := range c.triggers {
		if g := t.Group(); g != "" && taken[g] {
			continue
		}
		if !t.Match(u) {
			continue
		}
		if g := t.Group(); g != "" {
			taken[g] = true
		}
		names = append(names, t.Name())
	}
	return names
}

// #endregion

// #region short-circuit

func shortCircuit(u conversation.Utterance) *Action {
	lower := u.Lower

	if u.ContainsAny(stopMusicKeywords) {
		return &Action{Kind: ActionStopMusic}
	}
	if u.ContainsAny(clearKeywords) {
		return &Action{Kind: ActionClearConversation}
	}
	for _, mk := range modeKeywords {
		if strings.Contains(lower, mk.phrase) && isBareCommand(lower, mk.phrase) {
			return &Action{Kind: mk.kind}
		}
	}
	if u.ContainsAny(playMusicKeywords) {
		return &Action{Kind: ActionPlayMusic, Genre: extractGenre(lower)}
	}
	if u.ContainsAny(playMusicVerbs) {
		genre := extractGenre(lower)
		if first, _, _ := strings.Cut(genre, " "); genre == "" || knownGenres[first] {
			return &Action{Kind: ActionPlayMusic, Genre: genre}
		}
	}
	return nil
}

// isBareCommand reports whether phrase is the whole request once filler
// words are removed. "activa el modo dios" is a command, "modo dios
// bitcoin" is a question asked in that tier.
func isBareCommand(lower, phrase string) bool {
	rest := strings.Replace(lower, phrase, " ", 1)
	for _, w := range strings.Fields(rest) {
		w = strings.Trim(w, ",.;:!¡?¿")
		if w != "" && !modeFillers[w] {
			return false
		}
	}
	return true
}

func extractGenre(lower string) string {
	genre := " " + lower + " "
	for _, w := range musicCommandWords {
		genre = strings.ReplaceAll(genre, " "+w+" ", " ")
	}
	fields := strings.Fields(strings.Trim(genre, ",.;:!¡?¿ "))
	// Leading connectors left behind by "pon música de salsa".
	for len(fields) > 0 && (fields[0] == "de" || fields[0] == "la" || fields[0] == "el") {
		fields = fields[1:]
	}
	return strings.Trim(strings.Join(fields, " "), ",.;:!¡?¿ ")
}

// #endregion

// #region tier

func classifyTier(u conversation.Utterance, mode persona.Mode) Tier {
	if mode == persona.ModeElevated || strings.Contains(u.Lower, "modo dios") {
		return TierElevated
	}
	if u.ContainsAny(politicalKeywords) {
		return TierPolitical
	}
	if u.ContainsAny(technicalKeywords) {
		return TierTechnical
	}
	return TierDefault
}

// #endregion
