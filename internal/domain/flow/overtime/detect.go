package overtime

import (
	"github.com/prezlab/nasma/backend/internal/domain/flow"
)

// IntentThreshold is the score DetectStart requires.
const IntentThreshold = 0.5

var (
	anchorPhrases = []string{"overtime", "over time", "ot", "extra hours", "extra time", "work overtime"}
	policyMarkers = []string{
		"policy", "policies", "rule", "rules", "guideline", "guidelines",
		"what is", "how does", "how do", "tell me about", "explain", "information about", "details about",
	}
	actionMarkers = []string{
		"request", "apply", "submit", "book", "file", "log", "record", "claim",
		"enter", "register", "start", "ask", "need", "want",
	}
)

// Score rates message as a request to file overtime. Questions about the
// overtime policy score zero so they fall through to the assistant.
func Score(message string) float64 {
	text := flow.Clean(message)
	if text == "" || !flow.Mentions(text, anchorPhrases...) {
		return 0
	}
	if flow.Mentions(text, policyMarkers...) {
		return 0
	}
	if flow.Mentions(text, actionMarkers...) {
		return 0.7
	}
	return 0
}
