// Package textmatch scores free text against fixed vocabularies: typo
// tolerant keyword matching and ranking of option labels.
package textmatch

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

// Normalize lowercases, trims and collapses internal whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Ratio returns a similarity in [0,1]: the combined length minus the edit
// distance, over the combined length. "cancle" and "cancel" score 0.83.
func Ratio(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	r := float64(total-d) / float64(total)
	if r < 0 {
		return 0
	}
	return r
}

// Closest returns the vocabulary word most similar to input when the
// similarity reaches threshold.
func Closest(input string, vocab []string, threshold float64) (string, bool) {
	input = Normalize(input)
	best, bestScore := "", 0.0
	for _, w := range vocab {
		if s := Ratio(input, w); s > bestScore {
			best, bestScore = w, s
		}
	}
	if bestScore >= threshold {
		return best, true
	}
	return "", false
}

// In reports whether the normalized input equals one of words.
func In(input string, words ...string) bool {
	input = Normalize(input)
	for _, w := range words {
		if input == w {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the normalized input contains any phrase.
func ContainsAny(input string, phrases ...string) bool {
	input = Normalize(input)
	for _, p := range phrases {
		if strings.Contains(input, p) {
			return true
		}
	}
	return false
}

// Rank orders option labels by fuzzy match quality against query and
// returns their indexes, best first.
func Rank(query string, labels []string) []int {
	matches := fuzzy.Find(Normalize(query), lowerAll(labels))
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Index
	}
	return out
}

// Pick resolves a typed answer to one of labels: exact label, containment
// in either direction, then the best fuzzy match.
func Pick(input string, labels []string) (int, bool) {
	q := Normalize(input)
	if q == "" {
		return -1, false
	}
	lowered := lowerAll(labels)
	for i, l := range lowered {
		if l == q {
			return i, true
		}
	}
	for i, l := range lowered {
		if l != "" && (strings.Contains(l, q) || strings.Contains(q, l)) {
			return i, true
		}
	}
	if ranked := Rank(q, labels); len(ranked) > 0 {
		return ranked[0], true
	}
	return -1, false
}

// WordOverlap scores how well message refers to name: one point per word
// of name found in message, plus the word count again when one contains
// the other outright.
func WordOverlap(message, name string) int {
	msg := Normalize(message)
	n := Normalize(name)
	if n == "" {
		return 0
	}
	words := strings.Fields(n)
	score := 0
	for _, w := range words {
		if strings.Contains(msg, w) {
			score++
		}
	}
	if strings.Contains(msg, n) || strings.Contains(n, msg) {
		score += len(words)
	}
	return score
}

func lowerAll(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = Normalize(l)
	}
	return out
}

// Similarity is the better of Ratio on the normalized strings and Ratio on
// their words sorted, so word order counts less.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return 0
	}
	raw := Ratio(a, b)
	if sorted := Ratio(sortWords(a), sortWords(b)); sorted > raw {
		return sorted
	}
	return raw
}

// PhraseScore rates how well phrase occurs in text: the best Similarity
// between phrase and the whole text or any run of as many words.
func PhraseScore(text, phrase string) float64 {
	words := strings.Fields(Normalize(text))
	n := len(strings.Fields(phrase))
	best := Similarity(text, phrase)
	if n == 0 || n > len(words) {
		return best
	}
	for i := 0; i+n <= len(words); i++ {
		if s := Similarity(strings.Join(words[i:i+n], " "), phrase); s > best {
			best = s
		}
	}
	return best
}

// BestPhrase returns the highest PhraseScore of text against phrases.
func BestPhrase(text string, phrases []string) float64 {
	best := 0.0
	for _, p := range phrases {
		if s := PhraseScore(text, p); s > best {
			best = s
		}
	}
	return best
}

func sortWords(s string) string {
	words := strings.Fields(s)
	sort.Strings(words)
	return strings.Join(words, " ")
}
