package timeoff

import (
	"regexp"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/textmatch"
)

// Intent thresholds.
const (
	IntentThreshold = 0.4
	StrongIntent    = 0.7
)

// Leave kinds recognised in free text.
const (
	KindAnnual = "annual"
	KindSick   = "sick"
	KindUnpaid = "unpaid"
)

var strongPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:i\s+)?(?:want|need|would like)(?:\s+to)?\s+(?:take|have|request|apply for|get)?\s*(?:an?|some)?\s*(?:annual|sick|vacation|holiday|time off|leave|day off|day)`),
	regexp.MustCompile(`(?:i\s+)?(?:want|need|would like)(?:\s+to)?\s*(?:an?|some)?\s*(?:annual\s+leave|sick\s+leave|sick\s+day|vacation\s+day|holiday)`),
	regexp.MustCompile(`(?:request|apply|take|need|want).{0,20}(?:time off|leave|vacation|holiday|day off)`),
}

var weakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:sick|ill|unwell).{0,10}(?:day|leave|time)`),
	regexp.MustCompile(`(?:annual|vacation|holiday).{0,10}(?:leave|day)`),
	regexp.MustCompile(`(?:unpaid|without pay).{0,10}(?:leave|day)`),
	regexp.MustCompile(`(?:can i|may i|could i).{0,20}(?:take|have|get).{0,10}(?:time off|leave|day|day off)`),
	regexp.MustCompile(`(?:how do i|how to).{0,20}(?:request|apply).{0,10}(?:leave|time off)`),
	regexp.MustCompile(`(?:off work|absent|away).{0,10}(?:tomorrow|next week|monday)`),
	regexp.MustCompile(`(?:doctor|appointment|medical).{0,20}(?:day|leave)`),
	regexp.MustCompile(`(?:i want to|i need to|i would like to).{0,20}(?:request|apply|take).{0,10}(?:time off|leave|day off)`),
	regexp.MustCompile(`(?:book|schedule).{0,10}(?:time off|leave|vacation)`),
	regexp.MustCompile(`(?:submit|put in).{0,10}(?:leave request|time off request)`),
	regexp.MustCompile(`(?:take|have).{0,10}(?:a day|some days|few days).{0,10}(?:off)`),
	regexp.MustCompile(`(?:day off|days off)`),
	regexp.MustCompile(`(?:sick day|annual leave|vacation day|holiday day)`),
}

var negativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:not|don't|won't).{0,10}(?:need|want|take)`),
	regexp.MustCompile(`(?:already|have).{0,10}(?:requested|applied)`),
}

var kindKeywords = []struct {
	kind     string
	keywords []string
}{
	{KindAnnual, []string{"annual", "vacation", "holiday", "pto", "paid time off"}},
	{KindSick, []string{"sick", "ill", "medical", "doctor", "unwell", "health"}},
	{KindUnpaid, []string{"unpaid", "without pay", "no pay", "personal"}},
}

var (
	dateTokenRe  = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?`)
	shortDigitRe = regexp.MustCompile(`^\d{1,2}$`)

	startKeywords = []string{"time off", "day off", "leave", "vacation", "holiday", "rest day"}
	startVerbs    = []string{"i want", "i need", "i would like", "request", "apply", "book", "submit", "take", "get", "start", "begin"}
	startPhrases  = []string{"time off", "request time off", "apply for leave", "submit leave request"}
	controlWords  = []string{"cancel", "stop", "exit", "quit", "abort", "undo", "no", "n", "yes", "y", "confirm", "submit", "ok", "sure"}
	resumeMarkers = []string{"annual", "sick", "custom hours", "work from home", "full days"}
	rangeMarkers  = []string{" to ", " until ", " till ", "-", " next ", " tomorrow", " today"}
	restartWords  = []string{"time off", "leave", "annual leave", "sick leave", "request time off"}
)

// Intent is the graded reading of a message as a time-off request.
type Intent struct {
	Confidence float64
	Kind       string
	HasDates   bool
}

// Detected reports whether the confidence clears the start threshold.
func (i Intent) Detected() bool {
	return i.Confidence >= IntentThreshold
}

// DetectIntent scores message against the time-off phrasing patterns.
func DetectIntent(message string) Intent {
	text := textmatch.Normalize(message)
	if text == "" {
		return Intent{}
	}

	var in Intent
	score := 0.0
	matched := 0
	for _, p := range strongPatterns {
		if p.MatchString(text) {
			score += 0.5
			matched++
		}
	}
	for _, p := range weakPatterns {
		if p.MatchString(text) {
			score += 0.3
			matched++
		}
	}

	if kind := extractKind(text); kind != "" {
		in.Kind = kind
		score += 0.4
	}
	if dateTokenRe.MatchString(text) || strings.Contains(text, "tomorrow") {
		in.HasDates = true
		score += 0.3
	}
	if matched > 1 {
		score += 0.2
	}
	if flow.HasWord(text, "want", "need", "request", "apply", "submit") {
		score += 0.1
	}
	for _, p := range negativePatterns {
		if p.MatchString(text) {
			score -= 0.3
		}
	}

	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	in.Confidence = score
	return in
}

func extractKind(text string) string {
	for _, k := range kindKeywords {
		for _, kw := range k.keywords {
			if flow.HasWord(text, kw) || (strings.Contains(kw, " ") && strings.Contains(text, kw)) {
				return k.kind
			}
		}
	}
	return ""
}

// isStartPhrase reports an explicit request to begin: a leave keyword plus
// a request verb, or one of the canonical phrases. Bare control answers
// never count.
func isStartPhrase(message string) bool {
	text := flow.Clean(message)
	if text == "" || flow.HasWord(text, controlWords...) && len(strings.Fields(text)) <= 2 {
		return false
	}
	if textmatch.In(text, startPhrases...) {
		return true
	}
	return flow.Mentions(text, startKeywords...) && flow.Mentions(text, startVerbs...)
}

// isContinuation reports input shaped like an answer to one of the flow's
// prompts rather than a fresh request.
func isContinuation(message string) bool {
	raw := strings.ToLower(strings.TrimSpace(message))
	text := flow.Clean(message)
	if text == "" {
		return false
	}
	if strings.Contains(raw, "=") {
		return true
	}
	if textmatch.In(text, controlWords...) || shortDigitRe.MatchString(text) {
		return true
	}
	if dateTokenRe.MatchString(raw) {
		return true
	}
	if flow.Mentions(text, restartWords...) {
		return false
	}
	if flow.Mentions(text, resumeMarkers...) {
		return true
	}
	padded := " " + raw + " "
	for _, m := range rangeMarkers {
		if strings.Contains(padded, m) {
			return true
		}
	}
	return false
}
