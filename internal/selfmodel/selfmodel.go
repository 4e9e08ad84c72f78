// Package selfmodel derives the per-user "memory DNA": a short
// natural-language summary of recurring topics and stated interests. A DNA is
// recomputed from history whenever it is needed and never stored.
package selfmodel

// #region imports
import (
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/olga/go-assistant/internal/conversation"
	"github.com/danielpatrickdp/olga/go-assistant/internal/memory"
)

// #endregion imports

// #region types

// DNA is one derived summary.
type DNA struct {
	Text      string   `json:"text"`
	Topics    []string `json:"topics"`
	Interests []string `json:"interests"`
	Exchanges int      `json:"exchanges"`
}

const (
	maxTopics    = 5
	maxInterests = 3
	minTopicHits = 2
)

// #endregion types

// #region derive

// FromTurns summarises the user side of a conversation log.
func FromTurns(turns []conversation.Turn) DNA {
	var texts []string
	for _, t := range turns {
		if t.Role == conversation.RoleUser {
			texts = append(texts, t.Text)
		}
	}
	return Derive(texts)
}

// FromEntries summarises long-term memory exchanges.
func FromEntries(entries []memory.Entry) DNA {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = userSide(e.Content)
	}
	return Derive(texts)
}

// Derive summarises user messages. It returns an empty Text when there is
// nothing worth saying yet. The result depends only on texts.
func Derive(texts []string) DNA {
	dna := DNA{Exchanges: len(texts)}

	counts := make(map[string]int)
	var interests []string
	seenInterest := make(map[string]bool)
	for _, userPart := range texts {
		for _, k := range memory.Keywords(userPart) {
			counts[k]++
		}
		for _, in := range ExtractInterests(userPart) {
			if !seenInterest[in] && len(interests) < maxInterests {
				seenInterest[in] = true
				interests = append(interests, in)
			}
		}
	}

	for k, n := range counts {
		if n >= minTopicHits {
			dna.Topics = append(dna.Topics, k)
		}
	}
	sort.Slice(dna.Topics, func(i, j int) bool {
		a, b := dna.Topics[i], dna.Topics[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return a < b
	})
	if len(dna.Topics) > maxTopics {
		dna.Topics = dna.Topics[:maxTopics]
	}
	dna.Interests = interests

	var parts []string
	if len(dna.Topics) > 0 {
		parts = append(parts, "Temas recurrentes: "+strings.Join(dna.Topics, ", ")+".")
	}
	if len(dna.Interests) > 0 {
		parts = append(parts, "Intereses que ha expresado: "+strings.Join(dna.Interests, "; ")+".")
	}
	if len(parts) > 0 {
		parts = append(parts, fmt.Sprintf("Conversaciones recordadas: %d.", dna.Exchanges))
	}
	dna.Text = strings.Join(parts, " ")
	return dna
}

// userSide returns the user's half of a stored exchange.
func userSide(content string) string {
	const u, a = "Usuario: ", "\nAsistente: "
	if !strings.HasPrefix(content, u) {
		return content
	}
	rest := content[len(u):]
	if i := strings.Index(rest, a); i >= 0 {
		return rest[:i]
	}
	return rest
}

var interestTriggers = []string{
	"me gusta ",
	"me encanta ",
	"me interesa ",
	"quiero aprender ",
	"estoy aprendiendo ",
	"trabajo como ",
	"trabajo en ",
	"estudio ",
}

// ExtractInterests returns short phrases following interest triggers, e.g.
// "me encanta la salsa" yields "me encanta la salsa".
func ExtractInterests(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, t := range interestTriggers {
		i := strings.Index(lower, t)
		if i < 0 {
			continue
		}
		tail := strings.FieldsFunc(lower[i+len(t):], func(r rune) bool {
			return r == '.' || r == ',' || r == '?' || r == '!' || r == ';'
		})
		if len(tail) == 0 {
			continue
		}
		words := strings.Fields(tail[0])
		if len(words) == 0 {
			continue
		}
		if len(words) > 4 {
			words = words[:4]
		}
		found = append(found, strings.TrimSpace(t)+" "+strings.Join(words, " "))
	}
	return found
}

// #endregion derive
