package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// DefaultTTL is the sliding inactivity window of an open session.
const DefaultTTL = 15 * time.Minute

// Patch describes one Update. Zero fields are ignored. Context is merged
// additively; Mutate runs last and is the only way to clear or replace
// values that are already set.
type Patch struct {
	State   types.State
	Step    int
	Context *types.Context
	Mutate  func(s *types.Session)
}

// Match is an open session found by FindActiveOfType.
type Match struct {
	ThreadID   string    `json:"thread_id"`
	EmployeeID int64     `json:"employee_id"`
	Step       int       `json:"step"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Observer is notified of lifecycle transitions after the manager lock
// is released.
type Observer interface {
	SessionStarted(s *types.Session)
	SessionFinished(s *types.Session)
	SessionsSwept(removed int)
}

// ActiveObserver additionally receives the open session count per flow
// whenever Stats is computed.
type ActiveObserver interface {
	SessionsActive(byFlow map[types.FlowType]int)
}

// Stats summarizes the sessions currently held by the store.
type Stats struct {
	Total   int            `json:"total"`
	Active  int            `json:"active"`
	ByFlow  map[string]int `json:"by_flow"`
	ByState map[string]int `json:"by_state"`
	Age     AgeStats       `json:"age_seconds"`
}

// AgeStats describes the age distribution of open sessions.
type AgeStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// Manager is the only writer of sessions. Every operation holds one
// manager-wide mutex across load, merge and persist, and hands out deep
// copies so callers never share memory with the cache.
type Manager struct {
	store     Store
	ttl       time.Duration
	grace     time.Duration
	now       func() time.Time
	log       *zap.Logger
	observers []Observer

	mu    sync.Mutex
	cache map[string]*types.Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the sliding inactivity window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTerminalGrace sets how long finished sessions stay queryable.
func WithTerminalGrace(grace time.Duration) Option {
	return func(m *Manager) {
		if grace > 0 {
			m.grace = grace
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithObserver registers lifecycle observers.
func WithObserver(observers ...Observer) Option {
	return func(m *Manager) {
		for _, o := range observers {
			if o != nil {
				m.observers = append(m.observers, o)
			}
		}
	}
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		grace: DefaultTerminalGrace,
		now:   func() time.Time { return time.Now().UTC() },
		log:   zap.NewNop(),
		cache: make(map[string]*types.Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the sliding inactivity window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Open sweeps records left over from a previous run.
func (m *Manager) Open(ctx context.Context) error {
	report, err := m.Sweep(ctx)
	if err != nil {
		return err
	}
	if report.Total() > 0 {
		m.log.Info("removed stale sessions at startup",
			zap.Int("expired", report.Expired),
			zap.Int("terminal", report.Terminal),
			zap.Int("corrupt", report.Corrupt))
	}
	return nil
}

// Start creates (or replaces) the session for threadID.
func (m *Manager) Start(ctx context.Context, threadID string, flow types.FlowType, initial types.Context) (*types.Session, error) {
	if !flow.Valid() {
		return nil, errors.New("cannot start session for unknown flow " + string(flow))
	}

	now := m.now()
	s := &types.Session{
		ThreadID:  threadID,
		FlowType:  flow,
		State:     types.StateStarted,
		Step:      1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := s.Context.Merge(initial); err != nil {
		return nil, err
	}
	// initial may share pointers with the caller; persist a private copy.
	s, err := s.Clone()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if err := m.persist(ctx, s); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.log.Debug("session started",
		zap.String("thread_id", threadID),
		zap.String("flow", string(flow)),
		zap.Int64("employee_id", s.EmployeeID()))

	out := m.snapshot(s)
	m.notify(func(o Observer) { o.SessionStarted(m.snapshot(s)) })
	return out, nil
}

// Get returns the session for threadID, open or recently finished.
func (m *Manager) Get(ctx context.Context, threadID string) (*types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.load(ctx, threadID)
	if s == nil {
		return nil, false
	}
	return m.snapshot(s), true
}

// GetActive returns the session for threadID only if it is still open.
func (m *Manager) GetActive(ctx context.Context, threadID string) (*types.Session, bool) {
	s, ok := m.Get(ctx, threadID)
	if !ok || !s.State.IsOpen() {
		return nil, false
	}
	return s, true
}

// Update applies patch to an open session and slides its TTL. It reports
// false when no open session exists or the write fails.
func (m *Manager) Update(ctx context.Context, threadID string, patch Patch) bool {
	var merged *types.Context
	if patch.Context != nil {
		cp, err := cloneContext(*patch.Context)
		if err != nil {
			m.log.Warn("rejecting unserializable context patch", zap.String("thread_id", threadID), zap.Error(err))
			return false
		}
		merged = &cp
	}

	return m.mutate(ctx, threadID, func(s *types.Session) error {
		if merged != nil {
			if err := s.Context.Merge(*merged); err != nil {
				return err
			}
		}
		if patch.Step > s.Step {
			s.Step = patch.Step
		}
		if patch.State.IsOpen() {
			s.State = patch.State
		}
		if patch.Mutate != nil {
			patch.Mutate(s)
		}
		return nil
	})
}

// AdvanceStep moves to the next step, recording the current one as
// completed, and optionally merges stepCtx.
func (m *Manager) AdvanceStep(ctx context.Context, threadID string, stepCtx *types.Context) bool {
	return m.Update(ctx, threadID, Patch{
		Context: stepCtx,
		Mutate: func(s *types.Session) {
			s.CompletedSteps = append(s.CompletedSteps, s.Step)
			s.Step++
		},
	})
}

// Rewind moves an open session back to step, forgetting completed steps
// at or after it. Context is left untouched.
func (m *Manager) Rewind(ctx context.Context, threadID string, step int) bool {
	if step < 1 {
		return false
	}
	return m.mutate(ctx, threadID, func(s *types.Session) error {
		if step > s.Step {
			return errors.New("rewind target is ahead of the current step")
		}
		s.Step = step
		kept := s.CompletedSteps[:0]
		for _, done := range s.CompletedSteps {
			if done < step {
				kept = append(kept, done)
			}
		}
		s.CompletedSteps = kept
		s.State = types.StateActive
		return nil
	}, allowRewind)
}

// Cancel ends an open session, recording reason.
func (m *Manager) Cancel(ctx context.Context, threadID, reason string) bool {
	return m.finish(ctx, threadID, types.StateCancelled, types.Result{CancelReason: reason})
}

// Complete ends an open session with result.
func (m *Manager) Complete(ctx context.Context, threadID string, result types.Result) bool {
	return m.finish(ctx, threadID, types.StateCompleted, result)
}

// Clear deletes the session from cache and store.
func (m *Manager) Clear(ctx context.Context, threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(ctx, threadID)
}

// FindActiveOfType lists open, unexpired sessions of flow across all
// threads, most recently updated first.
func (m *Manager) FindActiveOfType(ctx context.Context, flow types.FlowType) []Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findActive(ctx, flow)
}

// ClearForIdentity removes open sessions of flow owned by employeeID,
// except keep. Nothing is removed when employeeID is unknown.
func (m *Manager) ClearForIdentity(ctx context.Context, flow types.FlowType, employeeID int64, keep string) int {
	if employeeID == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := 0
	for _, match := range m.findActive(ctx, flow) {
		if match.ThreadID == keep || match.EmployeeID != employeeID {
			continue
		}
		m.purge(ctx, match.ThreadID)
		cleared++
	}
	if cleared > 0 {
		m.log.Info("cleared sessions for identity",
			zap.String("flow", string(flow)),
			zap.Int64("employee_id", employeeID),
			zap.Int("count", cleared))
	}
	return cleared
}

// Rebind finds an orphaned session the caller may resume from a new
// thread: it must be the only open session of flow system-wide and belong
// to employeeID.
func (m *Manager) Rebind(ctx context.Context, flow types.FlowType, employeeID int64) (string, bool) {
	if employeeID == 0 {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := m.findActive(ctx, flow)
	if len(matches) != 1 || matches[0].EmployeeID != employeeID {
		return "", false
	}
	return matches[0].ThreadID, true
}

// Stats summarizes stored sessions.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.Lock()
	sessions := m.all(ctx)
	m.mu.Unlock()

	now := m.now()
	st := Stats{
		ByFlow:  make(map[string]int),
		ByState: make(map[string]int),
	}
	active := make(map[types.FlowType]int)
	var ages []float64
	for _, s := range sessions {
		st.Total++
		st.ByState[string(s.State)]++
		if !s.IsActive(now) {
			continue
		}
		st.Active++
		st.ByFlow[string(s.FlowType)]++
		active[s.FlowType]++
		ages = append(ages, now.Sub(s.CreatedAt).Seconds())
	}

	if len(ages) > 0 {
		sort.Float64s(ages)
		st.Age.Mean = stat.Mean(ages, nil)
		if len(ages) > 1 {
			st.Age.StdDev = stat.StdDev(ages, nil)
		}
		st.Age.Median = stat.Quantile(0.5, stat.Empirical, ages, nil)
		st.Age.P90 = stat.Quantile(0.9, stat.Empirical, ages, nil)
		st.Age.Max = ages[len(ages)-1]
	}

	for _, o := range m.observers {
		if ao, ok := o.(ActiveObserver); ok {
			ao.SessionsActive(active)
		}
	}
	return st
}

// Sweep removes expired, long-finished and corrupt records.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	m.mu.Lock()
	policy := SweepPolicy{TTL: m.ttl, TerminalGrace: m.grace, Now: m.now()}
	report, err := m.store.SweepExpired(ctx, policy)
	for id, s := range m.cache {
		if policy.Stale(s) {
			delete(m.cache, id)
		}
	}
	m.mu.Unlock()

	if err != nil {
		return report, err
	}
	if n := report.Total(); n > 0 {
		m.notify(func(o Observer) { o.SessionsSwept(n) })
	}
	return report, nil
}

// ============================================================================
// Internals; callers hold m.mu.
// ============================================================================

type mutateOption int

const allowRewind mutateOption = 1

// mutate loads the open session, applies fn to a private copy, enforces
// the step and flow invariants, and persists with a fresh TTL.
func (m *Manager) mutate(ctx context.Context, threadID string, fn func(s *types.Session) error, opts ...mutateOption) bool {
	rewind := len(opts) > 0 && opts[0] == allowRewind

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.load(ctx, threadID)
	if current == nil || !current.State.IsOpen() {
		return false
	}
	next, err := current.Clone()
	if err != nil {
		m.log.Error("failed to copy session", zap.String("thread_id", threadID), zap.Error(err))
		return false
	}
	if err := fn(next); err != nil {
		m.log.Warn("session update rejected", zap.String("thread_id", threadID), zap.Error(err))
		return false
	}

	next.ThreadID = current.ThreadID
	next.FlowType = current.FlowType
	next.CreatedAt = current.CreatedAt
	if !rewind && next.Step < current.Step {
		next.Step = current.Step
	}
	if next.Step < 1 {
		next.Step = 1
	}
	if !next.State.IsOpen() {
		next.State = current.State
	}
	if next.State == types.StateStarted {
		next.State = types.StateActive
	}

	now := m.now()
	next.UpdatedAt = now
	next.ExpiresAt = now.Add(m.ttl)
	if err := m.persist(ctx, next); err != nil {
		m.log.Error("failed to persist session", zap.String("thread_id", threadID), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) finish(ctx context.Context, threadID string, state types.State, result types.Result) bool {
	m.mu.Lock()
	current := m.load(ctx, threadID)
	if current == nil || !current.State.IsOpen() {
		m.mu.Unlock()
		return false
	}
	next, err := current.Clone()
	if err != nil {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	res := result
	res.Payload = types.SanitizeMap(res.Payload)
	next.State = state
	next.Result = &res
	next.UpdatedAt = now
	next.FinishedAt = &now
	next.ExpiresAt = now.Add(m.grace)
	if err := m.persist(ctx, next); err != nil {
		m.mu.Unlock()
		m.log.Error("failed to persist finished session", zap.String("thread_id", threadID), zap.Error(err))
		return false
	}
	m.mu.Unlock()

	m.log.Debug("session finished",
		zap.String("thread_id", threadID),
		zap.String("flow", string(next.FlowType)),
		zap.String("state", string(state)))
	m.notify(func(o Observer) { o.SessionFinished(m.snapshot(next)) })
	return true
}

// load returns the cached or stored session, purging expired and corrupt
// records.
func (m *Manager) load(ctx context.Context, threadID string) *types.Session {
	now := m.now()
	if s, ok := m.cache[threadID]; ok {
		if !s.Expired(now) {
			return s
		}
		m.purge(ctx, threadID)
		return nil
	}

	s, err := m.store.Load(ctx, threadID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil
	case errors.Is(err, ErrCorrupt):
		m.log.Warn("purging corrupt session", zap.String("thread_id", threadID), zap.Error(err))
		m.purge(ctx, threadID)
		return nil
	default:
		m.log.Error("failed to load session", zap.String("thread_id", threadID), zap.Error(err))
		return nil
	}
	if s.ThreadID != threadID || s.Expired(now) {
		m.purge(ctx, threadID)
		return nil
	}
	m.cache[threadID] = s
	return s
}

func (m *Manager) persist(ctx context.Context, s *types.Session) error {
	if err := m.store.Save(ctx, s); err != nil {
		return err
	}
	m.cache[s.ThreadID] = s
	return nil
}

func (m *Manager) purge(ctx context.Context, threadID string) {
	delete(m.cache, threadID)
	if err := m.store.Delete(ctx, threadID); err != nil {
		m.log.Warn("failed to delete session", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// all merges stored records with the cache, the cache taking precedence.
func (m *Manager) all(ctx context.Context) []*types.Session {
	byThread := make(map[string]*types.Session)
	stored, err := m.store.List(ctx)
	if err != nil {
		m.log.Warn("failed to list sessions", zap.Error(err))
	}
	for _, s := range stored {
		byThread[s.ThreadID] = s
	}
	for id, s := range m.cache {
		byThread[id] = s
	}
	out := make([]*types.Session, 0, len(byThread))
	for _, s := range byThread {
		out = append(out, s)
	}
	return out
}

func (m *Manager) findActive(ctx context.Context, flow types.FlowType) []Match {
	now := m.now()
	var matches []Match
	for _, s := range m.all(ctx) {
		if s.FlowType != flow || !s.IsActive(now) {
			continue
		}
		matches = append(matches, Match{
			ThreadID:   s.ThreadID,
			EmployeeID: s.EmployeeID(),
			Step:       s.Step,
			UpdatedAt:  s.UpdatedAt,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	return matches
}

func (m *Manager) snapshot(s *types.Session) *types.Session {
	out, err := s.Clone()
	if err != nil {
		m.log.Error("failed to copy session", zap.String("thread_id", s.ThreadID), zap.Error(err))
		return s
	}
	return out
}

func (m *Manager) notify(fn func(o Observer)) {
	for _, o := range m.observers {
		fn(o)
	}
}

func cloneContext(c types.Context) (types.Context, error) {
	s := &types.Session{Context: c}
	cp, err := s.Clone()
	if err != nil {
		return types.Context{}, err
	}
	return cp.Context, nil
}
