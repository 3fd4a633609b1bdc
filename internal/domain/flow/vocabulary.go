package flow

import (
	"regexp"
	"strings"

	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/textmatch"
)

// Fuzzy cancel matching only applies to words at least this long, so short
// answers like "and" never read as "end".
const minFuzzyLength = 4

var (
	confirmWords = []string{"yes", "y", "confirm", "submit", "ok", "okay", "sure"}
	declineWords = []string{"no", "n"}
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}\s_]+`)
)

// Vocabulary classifies short control answers: cancel, confirm, decline.
type Vocabulary struct {
	cancel    []string
	fuzzy     []string
	threshold float64
}

// NewVocabulary builds a vocabulary from the catalog.
func NewVocabulary(cat *config.Catalog) *Vocabulary {
	if cat == nil {
		cat = config.DefaultCatalog()
	}
	return &Vocabulary{
		cancel:    cat.CancelWords,
		fuzzy:     cat.CancelFuzzyWords,
		threshold: cat.SimilarityThreshold,
	}
}

// IsCancel reports whether the whole message is a cancel command, exactly
// or within the similarity threshold of one.
func (v *Vocabulary) IsCancel(message string) bool {
	text := Clean(message)
	if text == "" {
		return false
	}
	if textmatch.In(text, v.cancel...) {
		return true
	}
	if len([]rune(text)) < minFuzzyLength || strings.Contains(text, " ") {
		return false
	}
	_, ok := textmatch.Closest(text, v.fuzzy, v.threshold)
	return ok
}

// IsDecline reports a cancel command or a bare "no".
func (v *Vocabulary) IsDecline(message string) bool {
	return IsNo(message) || v.IsCancel(message)
}

// IsConfirm reports an affirmative answer.
func IsConfirm(message string) bool {
	return textmatch.In(Clean(message), confirmWords...)
}

// IsNo reports a bare negative answer.
func IsNo(message string) bool {
	return textmatch.In(Clean(message), declineWords...)
}

// Clean lowercases, strips punctuation and collapses whitespace.
func Clean(message string) string {
	return textmatch.Normalize(punctRe.ReplaceAllString(message, " "))
}

// Payload extracts the value of a "key=value" widget reply.
func Payload(message, key string) (string, bool) {
	text := strings.TrimSpace(message)
	prefix := key + "="
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(text[len(prefix):]), true
}

// HasWord reports whether text contains word as a whole token.
func HasWord(text string, words ...string) bool {
	for _, tok := range strings.Fields(Clean(text)) {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

// Mentions matches single words as whole tokens and multi-word phrases as
// substrings of the cleaned text.
func Mentions(text string, phrases ...string) bool {
	cleaned := Clean(text)
	for _, p := range phrases {
		if strings.Contains(p, " ") {
			if strings.Contains(cleaned, p) {
				return true
			}
			continue
		}
		if HasWord(cleaned, p) {
			return true
		}
	}
	return false
}
