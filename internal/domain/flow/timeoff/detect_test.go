package timeoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		message  string
		detected bool
		kind     string
		hasDates bool
	}{
		{"I want time off", true, "", false},
		{"I need sick leave", true, KindSick, false},
		{"can I take a day off tomorrow", true, "", true},
		{"I would like to request annual leave from 20/10 to 22/10", true, KindAnnual, true},
		{"book unpaid leave", true, KindUnpaid, false},
		{"what's the weather like", false, "", false},
		{"tell me a joke", false, "", false},
		{"", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			in := DetectIntent(tt.message)
			assert.Equal(t, tt.detected, in.Detected(), "confidence %.2f", in.Confidence)
			assert.Equal(t, tt.kind, in.Kind)
			assert.Equal(t, tt.hasDates, in.HasDates)
			assert.GreaterOrEqual(t, in.Confidence, 0.0)
			assert.LessOrEqual(t, in.Confidence, 1.0)
		})
	}
}

func TestIsStartPhrase(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"time off", true},
		{"request time off", true},
		{"I want to take leave", true},
		{"can you book my vacation", true},
		{"yes", false},
		{"no", false},
		{"leave", false},
		{"I forgot my password", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, isStartPhrase(tt.message))
		})
	}
}

func TestIsContinuation(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"timeoff_date_range=20/10/2025 to 22/10/2025", true},
		{"yes", true},
		{"2", true},
		{"20/10/2025", true},
		{"full days", true},
		{"from monday to wednesday", true},
		{"I want to request annual leave", false},
		{"time off", false},
		{"hello there", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, isContinuation(tt.message))
		})
	}
}
