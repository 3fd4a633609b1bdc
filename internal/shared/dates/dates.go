// Package dates parses the free-form dates, date ranges, clock hours and
// durations employees type into chat. Day-first (DD/MM) is assumed, missing
// years default to the current year, and a second date inherits month and
// year from the first.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// ISOLayout is how dates are stored in flow contexts and sent to the ERP.
	ISOLayout = "2006-01-02"
	// DisplayLayout is how dates are shown to employees.
	DisplayLayout = "02/01/2006"
)

var weekdays = map[string]int{
	"monday": 0, "mon": 0,
	"tuesday": 1, "tue": 1, "tues": 1,
	"wednesday": 2, "wed": 2,
	"thursday": 3, "thu": 3, "thur": 3, "thurs": 3,
	"friday": 4, "fri": 4,
	"saturday": 5, "sat": 5,
	"sunday": 6, "sun": 6,
}

var months = map[string]time.Month{
	"january": 1, "jan": 1,
	"february": 2, "feb": 2,
	"march": 3, "mar": 3,
	"april": 4, "apr": 4,
	"may":  5,
	"june": 6, "jun": 6,
	"july": 7, "jul": 7,
	"august": 8, "aug": 8,
	"september": 9, "sep": 9, "sept": 9,
	"october": 10, "oct": 10,
	"november": 11, "nov": 11,
	"december": 12, "dec": 12,
}

const (
	weekdayAlt = `monday|mon|tuesday|tues|tue|wednesday|wed|thursday|thurs|thur|thu|friday|fri|saturday|sat|sunday|sun`
	monthAlt   = `january|jan|february|feb|march|mar|april|apr|may|june|jun|july|jul|august|aug|september|sept|sep|october|oct|november|nov|december|dec`
	connector  = `(?:\bto\b|\btill\b|\buntil\b|\bthrough\b|--|-)`
	ordinal    = `(?:st|nd|rd|th)?`
)

var (
	dashRe         = regexp.MustCompile(`\s*(?:–|—)\s*`)
	connectorRe    = regexp.MustCompile(connector)
	splitRe        = regexp.MustCompile(`\s*` + connector + `\s*`)
	singleWeekday  = regexp.MustCompile(`^(?:(this|next)\s+)?(` + weekdayAlt + `)$`)
	weekdayRangeRe = regexp.MustCompile(`\b(?:(this|next)\s+)?(` + weekdayAlt + `)\s*` + connector + `\s*(?:(this|next)\s+)?(` + weekdayAlt + `)\b`)
	numericRangeRe = regexp.MustCompile(`\b(\d{1,2})[./\-](\d{1,2})(?:[./\-](\d{2,4}))?\s*` + connector + `\s*(\d{1,2})[./\-](\d{1,2})(?:[./\-](\d{2,4}))?\b`)
	monthRangeRe   = regexp.MustCompile(`(\d{1,2})` + ordinal + `\s*(?:of\s*)?(` + monthAlt + `)(?:\s*,?\s*(\d{4}))?\s*` + connector + `\s*(\d{1,2})` + ordinal + `\s*(?:of\s*)?(` + monthAlt + `)?(?:\s*,?\s*(\d{4}))?`)
	dayRangeRe     = regexp.MustCompile(`(\d{1,2})` + ordinal + `\s*` + connector + `\s*(\d{1,2})` + ordinal + `\s*(` + monthAlt + `)(?:\s*,?\s*(\d{4}))?`)
	numericDateRe  = regexp.MustCompile(`\b(\d{1,2})[./\-](\d{1,2})(?:[./\-](\d{2,4}))?\b`)
	monthDateRe    = regexp.MustCompile(`\b(\d{1,2})` + ordinal + `\s*(?:of\s*)?(` + monthAlt + `)(?:\s*,?\s*(\d{4}))?\b`)
	ordinalDayRe   = regexp.MustCompile(`^(\d{1,2})` + ordinal + `$`)
	leadingTheRe   = regexp.MustCompile(`^the\s+`)
	trailingPunct  = regexp.MustCompile(`[.,]$`)
)

var dateLayouts = []string{
	"2/1/2006", "2-1-2006", "2.1.2006",
	"2/1/06", "2-1-06", "2.1.06",
	"2006-1-2", "2006/1/2",
	"1/2/2006", "1-2-2006",
}

// Parser resolves relative expressions against a clock.
type Parser struct {
	now func() time.Time
	loc *time.Location
}

// NewParser creates a parser using the wall clock in loc (UTC when nil).
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{now: time.Now, loc: loc}
}

// WithClock returns a copy of p that reads the time from now.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	cp := *p
	cp.now = now
	return &cp
}

func (p *Parser) today() time.Time {
	n := p.now().In(p.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, p.loc)
}

// Today returns the current date at midnight.
func (p *Parser) Today() time.Time {
	return p.today()
}

// ParseDate parses one date: this/next weekday names or numeric layouts.
func (p *Parser) ParseDate(input string) (time.Time, bool) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "" {
		return time.Time{}, false
	}

	if m := singleWeekday.FindStringSubmatch(text); m != nil {
		return nextWeekday(p.today(), weekdays[m[2]], false), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, p.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseRange parses a start/end pair from free text. A lone date yields a
// one-day range. It fails when the end precedes the start or any part is
// not a real calendar date.
func (p *Parser) ParseRange(input string) (time.Time, time.Time, bool) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "" {
		return time.Time{}, time.Time{}, false
	}
	text = dashRe.ReplaceAllString(text, "-")
	today := p.today()

	if m := weekdayRangeRe.FindStringSubmatch(text); m != nil {
		first := nextWeekday(today, weekdays[m[2]], m[1] != "next")
		weekStart := first.AddDate(0, 0, -pyWeekday(first))
		end := weekStart.AddDate(0, 0, weekdays[m[4]])
		if end.Before(first) {
			end = end.AddDate(0, 0, 7)
		}
		return first, end, true
	}

	if m := numericRangeRe.FindStringSubmatch(text); m != nil {
		y1 := yearOr(m[3], today.Year())
		y2 := yearOr(m[6], y1)
		start, err1 := p.date(y1, atoi(m[2]), atoi(m[1]))
		end, err2 := p.date(y2, atoi(m[5]), atoi(m[4]))
		return ordered(start, end, err1, err2)
	}

	if m := monthRangeRe.FindStringSubmatch(text); m != nil {
		mon1 := months[m[2]]
		y1 := yearOr(m[3], today.Year())
		mon2 := mon1
		if m[5] != "" {
			mon2 = months[m[5]]
		}
		y2 := yearOr(m[6], y1)
		start, err1 := p.date(y1, int(mon1), atoi(m[1]))
		end, err2 := p.date(y2, int(mon2), atoi(m[4]))
		return ordered(start, end, err1, err2)
	}

	if m := dayRangeRe.FindStringSubmatch(text); m != nil {
		mon := int(months[m[3]])
		y := yearOr(m[4], today.Year())
		start, err1 := p.date(y, mon, atoi(m[1]))
		end, err2 := p.date(y, mon, atoi(m[2]))
		return ordered(start, end, err1, err2)
	}

	if tokens := splitRe.Split(text, -1); len(tokens) == 2 {
		first, ok1 := p.parseToken(tokens[0], today)
		inherit := today
		if ok1 {
			inherit = first
		}
		second, ok2 := p.parseToken(tokens[1], inherit)
		if ok1 && ok2 {
			if second.Before(first) {
				return time.Time{}, time.Time{}, false
			}
			return first, second, true
		}
	}

	if m := numericDateRe.FindStringSubmatch(text); m != nil {
		d, err := p.date(yearOr(m[3], today.Year()), atoi(m[2]), atoi(m[1]))
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		return d, d, true
	}

	if !connectorRe.MatchString(text) {
		if strings.Contains(text, "tomorrow") {
			d := today.AddDate(0, 0, 1)
			return d, d, true
		}
		if strings.Contains(text, "today") {
			return today, today, true
		}
	}

	return time.Time{}, time.Time{}, false
}

func (p *Parser) parseToken(token string, base time.Time) (time.Time, bool) {
	token = strings.TrimSpace(token)
	token = leadingTheRe.ReplaceAllString(token, "")
	token = trailingPunct.ReplaceAllString(token, "")

	if m := numericDateRe.FindStringSubmatch(token); m != nil {
		d, err := p.date(yearOr(m[3], base.Year()), atoi(m[2]), atoi(m[1]))
		return d, err == nil
	}
	if m := monthDateRe.FindStringSubmatch(token); m != nil {
		d, err := p.date(yearOr(m[3], base.Year()), int(months[m[2]]), atoi(m[1]))
		return d, err == nil
	}
	switch token {
	case "today":
		return base, true
	case "tomorrow":
		return base.AddDate(0, 0, 1), true
	}
	if m := singleWeekday.FindStringSubmatch(token); m != nil {
		return nextWeekday(base, weekdays[m[2]], m[1] != "next"), true
	}
	if m := ordinalDayRe.FindStringSubmatch(token); m != nil {
		d, err := p.date(base.Year(), int(base.Month()), atoi(m[1]))
		return d, err == nil
	}
	return time.Time{}, false
}

// date builds a calendar date, rejecting values time.Date would normalize.
func (p *Parser) date(year, month, day int) (time.Time, error) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, p.loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid date %02d/%02d/%d", day, month, year)
	}
	return t, nil
}

func ordered(start, end time.Time, errs ...error) (time.Time, time.Time, bool) {
	for _, err := range errs {
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// pyWeekday maps time.Weekday onto Monday=0 .. Sunday=6.
func pyWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func nextWeekday(base time.Time, target int, includeToday bool) time.Time {
	ahead := (target - pyWeekday(base) + 7) % 7
	if ahead == 0 && !includeToday {
		ahead = 7
	}
	return base.AddDate(0, 0, ahead)
}

func yearOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	y := atoi(raw)
	if y < 100 {
		y += 2000
	}
	return y
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ISO formats t as YYYY-MM-DD.
func ISO(t time.Time) string {
	return t.Format(ISOLayout)
}

// Display formats t as DD/MM/YYYY.
func Display(t time.Time) string {
	return t.Format(DisplayLayout)
}

// DisplayISO reformats a stored YYYY-MM-DD date as DD/MM/YYYY, returning
// the input untouched when it does not parse.
func DisplayISO(iso string) string {
	t, err := time.Parse(ISOLayout, iso)
	if err != nil {
		return iso
	}
	return Display(t)
}

// FromDisplay parses a DD/MM/YYYY value.
func FromDisplay(s string) (time.Time, error) {
	return time.Parse(DisplayLayout, strings.TrimSpace(s))
}

// LooksLikeDate reports whether text contains a DD/MM style date.
func LooksLikeDate(text string) bool {
	return numericDateRe.MatchString(text)
}
