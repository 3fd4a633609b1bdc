// Package id mints the identifiers that appear in sessions, events and logs.
//
// Every identifier is a ULID behind a short kind prefix (thr_, req_, evt_,
// att_). ULIDs sort by creation time, which the session and audit tables
// rely on for time-ordered listings.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type (
	ThreadID     string
	RequestID    string
	EventID      string
	AttachmentID string
)

func (v ThreadID) String() string     { return string(v) }
func (v RequestID) String() string    { return string(v) }
func (v EventID) String() string      { return string(v) }
func (v AttachmentID) String() string { return string(v) }

const (
	ThreadPrefix     = "thr"
	RequestPrefix    = "req"
	EventPrefix      = "evt"
	AttachmentPrefix = "att"
)

// Generator mints ULIDs. Ids minted within the same millisecond are still
// strictly increasing.
type Generator struct {
	now func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// NewGenerator returns a generator reading from entropy, or from
// crypto/rand when entropy is nil.
func NewGenerator(entropy io.Reader) *Generator {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Generator{now: time.Now, entropy: ulid.Monotonic(entropy, 0)}
}

// New mints a bare ULID.
func (g *Generator) New() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// Prefixed mints "<prefix>_<ulid>".
func (g *Generator) Prefixed(prefix string) string {
	return prefix + "_" + g.New().String()
}

var std = NewGenerator(nil)

func NewThreadID() ThreadID         { return ThreadID(std.Prefixed(ThreadPrefix)) }
func NewRequestID() RequestID       { return RequestID(std.Prefixed(RequestPrefix)) }
func NewEventID() EventID           { return EventID(std.Prefixed(EventPrefix)) }
func NewAttachmentID() AttachmentID { return AttachmentID(std.Prefixed(AttachmentPrefix)) }

// Split separates a prefixed id into its kind and ULID. A bare ULID has an
// empty kind.
func Split(value string) (kind string, u ulid.ULID, err error) {
	raw := value
	if i := strings.LastIndexByte(value, '_'); i >= 0 {
		kind, raw = value[:i], value[i+1:]
	}
	u, err = ulid.ParseStrict(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", value, err)
	}
	return kind, u, nil
}

// MintedAt returns when a prefixed or bare id was created.
func MintedAt(value string) (time.Time, error) {
	_, u, err := Split(value)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
