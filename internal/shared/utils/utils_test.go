package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasher(t *testing.T) {
	h := DefaultHasher()

	a := h.Fingerprint("t1", []byte("certificate"))
	b := h.Fingerprint("t1", []byte("certificate"))
	c := h.Fingerprint("t2", []byte("certificate"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	assert.NotEqual(t, h.Hash([]byte("certificate")), a)
	assert.Len(t, h.Hash(nil), 64)
	assert.Equal(t, a[:8], Short(a))
}

func TestValidateThreadID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"ulid", "thr_01J9ZX4Q3V6R8K2M5N7P9T1W3Y", false},
		{"empty", "", true},
		{"path traversal", "../etc/passwd", true},
		{"too long", strings.Repeat("a", MaxThreadIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThreadID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("I want to take time off"))
	assert.Error(t, ValidateMessage("   "))
	assert.Error(t, ValidateMessage(strings.Repeat("x", MaxMessageSize+1)))
	assert.Error(t, ValidateMessage(string([]byte{0xff, 0xfe})))
}

func TestValidateLink(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"https://drive.google.com/file/d/abc", false},
		{"http://receipts.example.com/r/1", false},
		{"www.example.com/receipt", true},
		{"ftp://files.example.com/r.pdf", true},
		{"https://", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, ValidateLink(tt.input) != nil)
		})
	}
}
