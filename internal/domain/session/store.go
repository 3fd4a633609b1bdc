package session

import (
	"context"
	"errors"
	"time"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

var (
	// ErrNotFound is returned when no record exists for a thread.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned when a record exists but cannot be decoded or
	// fails validation.
	ErrCorrupt = errors.New("session record corrupt")
)

// Store persists sessions keyed by thread id.
type Store interface {
	Save(ctx context.Context, s *types.Session) error
	Load(ctx context.Context, threadID string) (*types.Session, error)
	Delete(ctx context.Context, threadID string) error
	SweepExpired(ctx context.Context, policy SweepPolicy) (SweepReport, error)
	// List returns every decodable record; corrupt ones are skipped.
	List(ctx context.Context) ([]*types.Session, error)
}

// SweepPolicy decides which records a sweep removes.
type SweepPolicy struct {
	TTL           time.Duration
	TerminalGrace time.Duration
	Now           time.Time
}

// DefaultTerminalGrace keeps finished sessions queryable for an hour.
const DefaultTerminalGrace = time.Hour

// Stale reports whether s should be removed under the policy.
func (p SweepPolicy) Stale(s *types.Session) bool {
	now := p.now()
	if s.State.IsTerminal() {
		finished := s.UpdatedAt
		if s.FinishedAt != nil {
			finished = *s.FinishedAt
		}
		return now.Sub(finished) > p.grace()
	}
	if s.Expired(now) {
		return true
	}
	return p.TTL > 0 && now.Sub(s.UpdatedAt) > p.TTL
}

func (p SweepPolicy) now() time.Time {
	if p.Now.IsZero() {
		return time.Now().UTC()
	}
	return p.Now
}

func (p SweepPolicy) grace() time.Duration {
	if p.TerminalGrace <= 0 {
		return DefaultTerminalGrace
	}
	return p.TerminalGrace
}

// SweepReport counts what a sweep removed.
type SweepReport struct {
	Expired  int `json:"expired"`
	Terminal int `json:"terminal"`
	Corrupt  int `json:"corrupt"`
}

// Total returns the number of removed records.
func (r SweepReport) Total() int {
	return r.Expired + r.Terminal + r.Corrupt
}

// Add folds other into r.
func (r *SweepReport) Add(other SweepReport) {
	r.Expired += other.Expired
	r.Terminal += other.Terminal
	r.Corrupt += other.Corrupt
}

// prepare sanitizes the free-form part of the context before a write.
func prepare(s *types.Session) {
	s.Context.Extra = types.SanitizeMap(s.Context.Extra)
}

// decode validates a freshly decoded record.
func decode(s *types.Session) (*types.Session, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	return s, nil
}
