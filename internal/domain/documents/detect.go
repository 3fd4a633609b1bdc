package documents

import (
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/textmatch"
)

// Intent is the kind of document a message asks for.
type Intent string

const (
	IntentNone       Intent = ""
	IntentEmployment Intent = "employment_letter"
	IntentExperience Intent = "experience_letter"
	IntentEmbassy    Intent = "embassy_letter"
	IntentPicker     Intent = "document_request"
)

const anchorThreshold = 0.85

var (
	employmentPhrases = []string{
		"employment letter", "employment certificate", "employment verification",
		"employment confirmation", "work certificate", "work letter",
		"proof of employment", "salary certificate",
	}
	experiencePhrases = []string{
		"experience letter", "experience certificate", "work experience letter",
		"certificate of experience",
	}
	embassyPhrases = []string{
		"embassy", "embassy letter", "travel letter", "travel document",
		"travel documents", "travel papers",
	}
	visaWords     = []string{"consulate", "visa", "schengen"}
	documentWords = []string{"document", "documents", "letter", "letters", "certificate", "paper", "papers"}
	requestWords  = []string{"generate", "make", "create", "prepare", "issue", "download", "need", "want", "get"}
	produceWords  = []string{"generate", "make", "create", "prepare", "issue", "download"}
	arabicWords   = []string{"arabic", "ar", "عربي", "العربية"}
)

// Detection is the outcome of Detect.
type Detection struct {
	Intent   Intent
	Language string
}

// Detect classifies a free-text message with typo tolerant phrase scores.
// Experience letters win over embassy letters, which win over plain
// employment letters; visa and consulate cues only count alongside a
// document or request word so policy questions stay with the assistant.
func Detect(message string) Detection {
	text := flow.Clean(message)
	if text == "" {
		return Detection{}
	}
	score := func(phrases []string) bool {
		return textmatch.BestPhrase(text, phrases) >= anchorThreshold
	}
	documentHint := score(documentWords)

	switch {
	case score(experiencePhrases):
		return Detection{Intent: IntentExperience}
	case score(embassyPhrases) || score(visaWords) && (documentHint || score(requestWords)):
		return Detection{Intent: IntentEmbassy}
	case score(employmentPhrases):
		d := Detection{Intent: IntentEmployment}
		if flow.HasWord(text, arabicWords...) {
			d.Language = "ar"
		}
		return d
	case documentHint && score(produceWords):
		return Detection{Intent: IntentPicker}
	}
	return Detection{}
}
