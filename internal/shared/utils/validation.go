package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxMessageSize  = 16 * 1024        // single chat message
	MaxDocumentSize = 10 * 1024 * 1024 // supporting document upload
	MaxSheetSize    = 5 * 1024 * 1024  // onboarding spreadsheet upload
)

// MaxThreadIDLength bounds client supplied thread identifiers.
const MaxThreadIDLength = 128

// ThreadIDPattern allows alphanumeric, hyphens, underscores and dots.
var ThreadIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateThreadID checks a client supplied thread id. Thread ids become
// file names in the file session store, so path separators are rejected.
func ValidateThreadID(threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if len(threadID) > MaxThreadIDLength {
		return fmt.Errorf("thread_id exceeds %d characters", MaxThreadIDLength)
	}
	if !ThreadIDPattern.MatchString(threadID) {
		return fmt.Errorf("thread_id contains invalid characters")
	}
	return nil
}

// ValidateMessage checks an inbound chat message.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is empty")
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	}
	if !utf8.ValidString(message) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	return nil
}

// ValidateLink checks a receipt or supporting document URL.
func ValidateLink(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("link must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("link has no host")
	}
	return nil
}
