// Package speech turns a model reply into display text, speakable text and
// an emotion tag for the visual-effect collaborator.
package speech

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// #region types

// Emotion is the visual-effect trigger for a reply.
type Emotion string

const (
	EmotionNone  Emotion = "NONE"
	EmotionLove  Emotion = "LOVE"
	EmotionParty Emotion = "PARTY"
	EmotionFire  Emotion = "FIRE"
	EmotionMagic Emotion = "MAGIC"
)

// ImageMarker introduces an image-generation request inside a reply.
const ImageMarker = "GENERAR_IMAGEN:"

// ImagePlaceholder is spoken and displayed while an image is generated.
const ImagePlaceholder = "Dame un momento, estoy creando tu imagen."

// Output is the post-processed reply.
type Output struct {
	Display     string
	Speech      string
	Emotion     Emotion
	ImagePrompt string
}

// #endregion types

// #region process

// Process post-processes raw. Replies carrying the image marker are
// replaced by the placeholder and the extracted prompt.
func Process(raw string) Output {
	if prompt, ok := ExtractImagePrompt(raw); ok {
		return Output{
			Display:     ImagePlaceholder,
			Speech:      ImagePlaceholder,
			Emotion:     EmotionNone,
			ImagePrompt: prompt,
		}
	}
	return Output{
		Display: Display(raw),
		Speech:  Speech(raw),
		Emotion: DetectEmotion(raw),
	}
}

// ExtractImagePrompt returns the text on the marker's line after the marker.
func ExtractImagePrompt(raw string) (string, bool) {
	i := strings.Index(raw, ImageMarker)
	if i < 0 {
		return "", false
	}
	rest := raw[i+len(ImageMarker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		rest = rest[:j]
	}
	prompt := strings.Trim(rest, " \t*\"'`[]")
	if prompt == "" {
		return "", false
	}
	return prompt, true
}

var headingRe = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)

// Display strips emphasis and heading markup and leaves the rest as is.
func Display(raw string) string {
	s := headingRe.ReplaceAllString(raw, "")
	s = strings.NewReplacer("*", "", "`", "", "~~", "").Replace(s)
	return strings.TrimSpace(s)
}

var (
	doubleSpanRe  = regexp.MustCompile(`\*\*[^*]*\*\*`)
	singleSpanRe  = regexp.MustCompile(`\*[^*\n]*\*`)
	bracketSpanRe = regexp.MustCompile(`\[[^\]\n]*\]`)
	spacesRe      = regexp.MustCompile(`[ \t]+`)
	spaceBeforeRe = regexp.MustCompile(` ([,.;:!?])`)
)

// Speech produces text for the speech synthesizer.
func Speech(raw string) string {
	s := doubleSpanRe.ReplaceAllString(raw, "")
	s = singleSpanRe.ReplaceAllString(s, "")
	s = bracketSpanRe.ReplaceAllString(s, "")
	s = headingRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("*", "", "`", "", "#", "").Replace(s)
	s = ExpandAcronyms(s)
	s = CollapseThousands(s)
	s = SpeakCurrency(s)
	s = StripSymbols(s)
	s = spacesRe.ReplaceAllString(s, " ")
	s = spaceBeforeRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// #endregion process

// #region acronyms

// acronyms maps uppercase tokens to their letter-by-letter spelling.
var acronyms = map[string]string{
	"BTC":  "be te ce",
	"ETH":  "e te hache",
	"USDT": "u ese de te",
	"USD":  "u ese de",
	"BCV":  "be ce uve",
	"IA":   "i a",
	"AI":   "ei ai",
	"PDF":  "pe de efe",
	"CNE":  "ce ene e",
	"FBI":  "efe be i",
	"OMS":  "o eme ese",
	"ONG":  "o ene ge",
	"PIB":  "pe i be",
	"IVA":  "i uve a",
	"SMS":  "ese eme ese",
	"GPS":  "ge pe ese",
	"NFT":  "ene efe te",
	"API":  "a pe i",
}

var acronymRe = func() *regexp.Regexp {
	keys := make([]string, 0, len(acronyms))
	for k := range acronyms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return regexp.MustCompile(`\b(` + strings.Join(keys, "|") + `)\b`)
}()

// ExpandAcronyms rewrites known whole-word acronyms phonetically. Unknown
// acronyms pass through unchanged.
func ExpandAcronyms(s string) string {
	return acronymRe.ReplaceAllStringFunc(s, func(m string) string { return acronyms[m] })
}

// #endregion acronyms

// #region numbers

// CollapseThousands merges digit-dot-three-digit groups not followed by
// another digit, so "384.400" becomes "384400" and "1.234.567" becomes
// "1234567". Decimals such as "3.50" are left alone.
func CollapseThousands(s string) string {
	b := []byte(s)
	for {
		changed := false
		for i := 1; i+3 < len(b); i++ {
			if b[i] != '.' || !isDigit(b[i-1]) {
				continue
			}
			if !isDigit(b[i+1]) || !isDigit(b[i+2]) || !isDigit(b[i+3]) {
				continue
			}
			if i+4 < len(b) && isDigit(b[i+4]) {
				continue
			}
			b = append(b[:i], b[i+1:]...)
			changed = true
		}
		if !changed {
			return string(b)
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

var currencyRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`US\$\s?(\d+(?:[.,]\d+)*)`), "$1 dólares"},
	{regexp.MustCompile(`\$\s?(\d+(?:[.,]\d+)*)`), "$1 dólares"},
	{regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s?\$`), "$1 dólares"},
	{regexp.MustCompile(`€\s?(\d+(?:[.,]\d+)*)`), "$1 euros"},
	{regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s?€`), "$1 euros"},
	{regexp.MustCompile(`\bBs\.?(?:S\.?)?\s?(\d+(?:[.,]\d+)*)`), "$1 bolívares"},
	{regexp.MustCompile(`£\s?(\d+(?:[.,]\d+)*)`), "$1 libras"},
}

// SpeakCurrency replaces currency symbols with trailing unit words.
func SpeakCurrency(s string) string {
	for _, r := range currencyRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.NewReplacer("$", "", "€", "", "£", "").Replace(s)
}

// #endregion numbers

// #region symbols

// StripSymbols removes emoji, pictographs and their joiners.
func StripSymbols(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0x200D || (r >= 0xFE00 && r <= 0xFE0F):
			return -1
		case r >= 0x1F000 && r <= 0x1FAFF:
			return -1
		case r >= 0x2600 && r <= 0x27BF:
			return -1
		case unicode.Is(unicode.So, r):
			return -1
		}
		return r
	}, s)
}

// #endregion symbols

// #region emotion

// emotionTable keywords match whole words. A trailing * matches any word
// starting with the stem, and keywords without letters match anywhere.
var emotionTable = []struct {
	emotion  Emotion
	keywords []string
}{
	{EmotionLove, []string{"te quiero", "te amo", "amor", "cariño", "corazón", "besos", "enamora*", "❤"}},
	{EmotionParty, []string{"felicidades", "felicitaciones", "fiesta", "celebr*", "cumpleaños", "brindis", "🎉"}},
	{EmotionFire, []string{"fuego", "pasión", "ardiente", "caliente", "candela", "🔥"}},
	{EmotionMagic, []string{"idea", "ideas", "brillante", "magia", "mágic*", "genial", "increíble", "✨"}},
}

// DetectEmotion returns the first emotion whose keywords appear in raw.
func DetectEmotion(raw string) Emotion {
	lower := strings.ToLower(raw)
	words := " " + strings.Join(strings.FieldsFunc(lower, notWordRune), " ") + " "
	for _, row := range emotionTable {
		for _, k := range row.keywords {
			if matchKeyword(lower, words, k) {
				return row.emotion
			}
		}
	}
	return EmotionNone
}

func matchKeyword(lower, words, k string) bool {
	switch {
	case !strings.ContainsFunc(k, unicode.IsLetter):
		return strings.Contains(lower, k)
	case strings.HasSuffix(k, "*"):
		return strings.Contains(words, " "+strings.TrimSuffix(k, "*"))
	default:
		return strings.Contains(words, " "+k+" ")
	}
}

func notWordRune(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) }

// #endregion emotion
