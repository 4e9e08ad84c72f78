package orchestrator

// #region imports
import (
	"fmt"
	"strings"
	"unicode"

	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
)

// #endregion

// #region validate

// validateReply rejects payloads that decoded cleanly but carry nothing a
// speech synthesizer could say. A reply without a single letter or digit
// ("...", "**", whitespace) counts as empty.
func validateReply(reply string) (string, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return "", llm.ErrEmptyReply
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return trimmed, nil
		}
	}
	return "", fmt.Errorf("no speakable content: %w", llm.ErrEmptyReply)
}

// #endregion
