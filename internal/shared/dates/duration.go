package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var numberWords = []struct {
	word  string
	value float64
}{
	{"zero", 0}, {"one", 1}, {"two", 2}, {"three", 3}, {"four", 4}, {"five", 5},
	{"six", 6}, {"seven", 7}, {"eight", 8}, {"nine", 9}, {"ten", 10},
	{"eleven", 11}, {"twelve", 12}, {"thirteen", 13}, {"fourteen", 14},
	{"fifteen", 15}, {"sixteen", 16}, {"seventeen", 17}, {"eighteen", 18},
	{"nineteen", 19}, {"twenty", 20}, {"thirty", 30}, {"forty", 40}, {"fifty", 50},
	{"sixty", 60},
}

var (
	fillerRe   = regexp.MustCompile(`\b(spent|on|this|task|work|for)\b`)
	numberAlt  = wordAlternation()
	hoursRe    = regexp.MustCompile(`\b(\d+(?:\.\d+)?|` + numberAlt + `)\s*(?:hours?|hrs?|h)`)
	minutesRe  = regexp.MustCompile(`\b(?:and\s+)?(\d+(?:\.\d+)?|` + numberAlt + `)\s*(?:minutes?|mins?|m)`)
	minuteWord = regexp.MustCompile(`\b(minutes?|mins?|m)\b`)
	anyNumber  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	clockRe    = regexp.MustCompile(`(\d+):(\d+)`)
	hourWordRe = regexp.MustCompile(`\b(hours?|hrs?|h|minutes?|mins?|m)\b`)
)

func wordAlternation() string {
	// Longest first so "seventeen" is not read as "seven".
	words := make([]string, 0, len(numberWords))
	for i := len(numberWords) - 1; i >= 0; i-- {
		words = append(words, numberWords[i].word)
	}
	return strings.Join(words, "|")
}

func wordValue(w string) (float64, bool) {
	for _, nw := range numberWords {
		if nw.word == w {
			return nw.value, true
		}
	}
	return 0, false
}

func numberValue(s string) (float64, bool) {
	if v, ok := wordValue(s); ok {
		return v, true
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// ParseDuration reads a worked duration such as "five", "5.5",
// "five hours and 30 minutes", "45 mins", "half an hour" or "5:30".
func ParseDuration(text string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, false
	}
	s = strings.TrimSpace(fillerRe.ReplaceAllString(s, ""))

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if strings.Contains(s, "half") && (strings.Contains(s, "hour") || strings.Contains(s, "hr")) {
		return 0.5, true
	}

	var hours, minutes *float64
	if m := hoursRe.FindStringSubmatch(s); m != nil {
		if v, ok := numberValue(m[1]); ok {
			hours = &v
		}
	}
	if m := minutesRe.FindStringSubmatch(s); m != nil {
		if v, ok := numberValue(m[1]); ok {
			minutes = &v
		}
	}

	if hours == nil && minutes == nil {
		hasMinuteWord := minuteWord.MatchString(s)
		if n := anyNumber.FindString(s); n != "" {
			v, _ := strconv.ParseFloat(n, 64)
			if hasMinuteWord {
				minutes = &v
			} else {
				hours = &v
			}
		}
		if hours == nil && minutes == nil {
			for _, nw := range numberWords {
				if strings.Contains(s, nw.word) {
					v := nw.value
					if hasMinuteWord {
						minutes = &v
					} else {
						hours = &v
					}
					break
				}
			}
		}
	}

	switch {
	case hours != nil && minutes != nil:
		return *hours + *minutes/60, true
	case hours != nil:
		return *hours, true
	case minutes != nil:
		return *minutes / 60, true
	}

	if m := clockRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		return float64(h) + float64(mins)/60, true
	}
	return 0, false
}

// LooksLikeDuration reports whether text reads like an hours answer rather
// than an option name.
func LooksLikeDuration(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	if !hourWordRe.MatchString(s) {
		return false
	}
	if anyNumber.MatchString(s) || strings.Contains(s, "half") {
		return true
	}
	for _, nw := range numberWords {
		if strings.Contains(s, nw.word) {
			return true
		}
	}
	return false
}

// DurationOptions lists dropdown choices in half-hour steps up to max.
func DurationOptions(max float64) []HourOption {
	var opts []HourOption
	for v := 0.0; v <= max+1e-9; v += 0.5 {
		opts = append(opts, HourOption{Value: fmt.Sprintf("%.1f", v), Label: durationLabel(v)})
	}
	return opts
}

func durationLabel(v float64) string {
	h := int(v)
	m := int((v - float64(h)) * 60)
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case h == 0 && m == 0:
		return "0 hours"
	case h == 0:
		return fmt.Sprintf("%d minutes", m)
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " " + plural(m, "minute")
	}
}
