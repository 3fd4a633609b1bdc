package reimbursement

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// IntentThreshold is the score DetectStart requires.
const IntentThreshold = 0.3

// The first three patterns are the most specific and weigh more.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:i\s+)?(?:want|need|would like)(?:\s+to)?\s+(?:request|submit|file|create|make)\s+(?:a\s*|an\s*)?(?:reimbursement|expense|expense report)`),
	regexp.MustCompile(`(?:i\s+)?(?:want|need|would like)(?:\s+to)?\s+(?:get|claim)\s+(?:reimbursed|reimbursement)`),
	regexp.MustCompile(`(?:i\s+)?(?:want|need|would like)\s+(?:a\s*|an\s*)?reimbursement`),
	regexp.MustCompile(`(?:request|submit|file|create).{0,20}(?:expense|reimbursement)`),
	regexp.MustCompile(`(?:expense|reimbursement).{0,10}(?:request|report|claim)`),
	regexp.MustCompile(`(?:can i|may i|could i).{0,20}(?:request|submit|file).{0,10}(?:expense|reimbursement)`),
	regexp.MustCompile(`(?:can i|may i|could i).{0,20}(?:get|have).{0,10}(?:a\s*|an\s*)?reimbursement`),
	regexp.MustCompile(`(?:how do i|how to).{0,20}(?:request|submit|file).{0,10}(?:expense|reimbursement)`),
	regexp.MustCompile(`(?:i spent|i paid|i bought).{0,20}(?:for work|for company|on business)`),
	regexp.MustCompile(`(?:business expense|work expense|company expense)`),
	regexp.MustCompile(`(?:i want to|i need to|i would like to).{0,20}(?:request|submit|file).{0,10}(?:expense|reimbursement)`),
	regexp.MustCompile(`(?:submit|file).{0,10}(?:expense report|reimbursement request)`),
	regexp.MustCompile(`(?:expense report|reimbursement request|\breimbursement\b)`),
}

const strongPatterns = 3

var (
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)`),
		regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(?:dollars?|usd|jod|aed|sar)\b`),
		regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)`),
	}
	dateRe = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?`)

	intentWords   = []string{"want", "need", "request", "submit", "file", "create", "get", "claim"}
	businessWords = []string{"work", "company", "business", "office", "meeting", "client"}

	categoryWords = []struct {
		key   string
		words []string
	}{
		{types.ExpenseMiscellaneous, []string{"miscellaneous", "general", "other", "misc"}},
		{types.ExpensePerDiem, []string{"per diem", "perdiem", "daily allowance"}},
		{types.ExpenseTravel, []string{"travel", "accommodation", "hotel", "flight", "transport"}},
	}

	categoryAnswers = map[string]string{
		"miscellaneous": types.ExpenseMiscellaneous, "misc": types.ExpenseMiscellaneous,
		"general": types.ExpenseMiscellaneous, "other": types.ExpenseMiscellaneous,
		"per_diem": types.ExpensePerDiem, "per diem": types.ExpensePerDiem, "perdiem": types.ExpensePerDiem,
		"daily allowance": types.ExpensePerDiem, "daily_allowance": types.ExpensePerDiem,
		"travel_accommodation": types.ExpenseTravel, "travel & accommodation": types.ExpenseTravel,
		"travel accommodation": types.ExpenseTravel, "trans & acc": types.ExpenseTravel,
		"travel": types.ExpenseTravel, "accommodation": types.ExpenseTravel, "hotel": types.ExpenseTravel,
		"flight": types.ExpenseTravel, "transport": types.ExpenseTravel, "transportation": types.ExpenseTravel,
	}
)

// Intent is the graded reading of a message as an expense claim.
type Intent struct {
	Confidence float64
	Category   string
	Amount     float64
}

// Detected reports whether the confidence clears the start threshold.
func (i Intent) Detected() bool {
	return i.Confidence >= IntentThreshold
}

// DetectIntent scores message against the claim patterns. Category,
// amount and date hints only add weight once a pattern or the
// "reimburs" stem is present, so a bare date or number never starts a
// claim.
func DetectIntent(message string) Intent {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Intent{}
	}

	var (
		score   float64
		matches int
	)
	for i, re := range patterns {
		if !re.MatchString(text) {
			continue
		}
		matches++
		if i < strongPatterns {
			score += 0.5
		} else {
			score += 0.3
		}
	}
	if strings.Contains(text, "reimburs") {
		score += 0.25
	}
	if score == 0 {
		return Intent{}
	}

	intent := Intent{Category: extractCategory(text)}
	if intent.Category != "" {
		score += 0.4
	}
	if amount, ok := ParseAmount(text); ok {
		intent.Amount = amount
		score += 0.3
	}
	if dateRe.MatchString(text) {
		score += 0.2
	}
	if matches > 1 {
		score += 0.2
	}
	if flow.Mentions(text, intentWords...) {
		score += 0.1
	}
	if flow.Mentions(text, businessWords...) {
		score += 0.1
	}
	intent.Confidence = math.Min(score, 1)
	return intent
}

func extractCategory(text string) string {
	for _, c := range categoryWords {
		if flow.Mentions(text, c.words...) {
			return c.key
		}
	}
	return ""
}

// matchCategory reads a category button or typed answer.
func matchCategory(message string) (string, bool) {
	key, ok := categoryAnswers[strings.ToLower(strings.TrimSpace(message))]
	return key, ok
}

// ParseAmount extracts a positive amount, preferring currency-marked
// numbers over bare ones.
func ParseAmount(text string) (float64, bool) {
	lower := strings.ToLower(text)
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || v <= 0 {
			continue
		}
		return math.Round(v*100) / 100, true
	}
	return 0, false
}
