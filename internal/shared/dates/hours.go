package dates

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	hourTokenRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	hourSplitRe = regexp.MustCompile(`\s*(?:to|till|until|-)\s*`)
)

// HourOption is one entry of the hour range picker widget.
type HourOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ParseHour parses a clock time like "9", "9:30", "2pm" or "14.30" into
// decimal hours snapped to the nearest half hour, capped at 23:30.
func ParseHour(token string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(token))
	s = strings.ReplaceAll(s, ".", ":")
	m := hourTokenRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	h, _ := strconv.Atoi(m[1])
	mins := 0
	if m[2] != "" {
		mins, _ = strconv.Atoi(m[2])
		if mins > 59 {
			return 0, false
		}
	}
	switch m[3] {
	case "am":
		if h == 12 {
			h = 0
		}
	case "pm":
		if h != 12 {
			h += 12
		}
	}
	if h > 23 {
		h = 23
	}

	v := Snap(float64(h) + float64(mins)/60)
	if v > 23.5 {
		v = 23.5
	}
	return v, true
}

// ParseHourRange parses "9am to 1pm" style text. The end must be after
// the start.
func ParseHourRange(text string) (float64, float64, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, 0, false
	}
	s = dashRe.ReplaceAllString(s, "-")
	parts := hourSplitRe.Split(s, -1)
	if len(parts) != 2 {
		return 0, 0, false
	}
	from, ok1 := ParseHour(parts[0])
	to, ok2 := ParseHour(parts[1])
	if !ok1 || !ok2 || to <= from {
		return 0, 0, false
	}
	return from, to, true
}

// ParseHourPayload parses the picker payload "hour_from=9.0&hour_to=13.0".
// The end must still be after the start once both are snapped.
func ParseHourPayload(text string) (float64, float64, bool) {
	if !strings.Contains(text, "hour_from=") || !strings.Contains(text, "hour_to=") {
		return 0, 0, false
	}
	values, err := url.ParseQuery(strings.TrimSpace(text))
	if err != nil {
		return 0, 0, false
	}
	from, err1 := strconv.ParseFloat(values.Get("hour_from"), 64)
	to, err2 := strconv.ParseFloat(values.Get("hour_to"), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	from, to = Snap(from), Snap(to)
	if to <= from {
		return 0, 0, false
	}
	return from, to, true
}

// Snap rounds to the nearest half hour.
func Snap(v float64) float64 {
	return math.Round(v*2) / 2
}

// HourKey renders decimal hours the way the ERP selection fields expect:
// "9" for whole hours and "9.5" for half hours.
func HourKey(v float64) string {
	v = Snap(v)
	if v == math.Trunc(v) {
		return strconv.Itoa(int(v))
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// ParseHourKey is the inverse of HourKey.
func ParseHourKey(key string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(key), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Format12 renders decimal hours as "2:30 PM".
func Format12(v float64) string {
	h := int(v)
	m := 0
	if math.Abs(v-float64(h)-0.5) < 1e-6 {
		m = 30
	}
	ampm := "AM"
	if h >= 12 {
		ampm = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, ampm)
}

// HourOptions lists the picker choices: 9:00 through 23:30, then the
// after-midnight slots 0:00 through 1:00.
func HourOptions() []HourOption {
	var opts []HourOption
	push := func(v float64) {
		opts = append(opts, HourOption{Value: fmt.Sprintf("%.1f", Snap(v)), Label: Format12(v)})
	}
	for v := 9.0; v <= 23.5+1e-9; v += 0.5 {
		push(v)
	}
	for v := 0.0; v <= 1.0+1e-9; v += 0.5 {
		push(v)
	}
	return opts
}
