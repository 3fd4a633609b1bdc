// Package timeoff runs the leave request conversation: leave type, optional
// full-days/custom-hours mode, dates, hours for single-day requests, a
// supporting document for sick days, then confirmation and submission.
package timeoff

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Steps. The document step is skipped unless the leave type and mode
// require an attachment.
const (
	StepLeaveType    = 1
	StepDates        = 2
	StepDocument     = 3
	StepConfirmation = 4
)

// Mode values stored per leave type session key.
const (
	ModeFullDays    = "full_days"
	ModeCustomHours = "custom_hours"
)

// CustomHoursName is the synthetic half-day leave type.
const CustomHoursName = "Custom Hours"

const (
	annualLeave = "Annual Leave"
	unpaidLeave = "Unpaid Leave"
)

const submitDescription = "Time off request submitted via Nasma chatbot"

var errSessionLost = errors.New("time-off session disappeared mid-step")

// ERP is the slice of the HR system the flow needs.
type ERP interface {
	LeaveTypes(ctx context.Context) ([]types.LeaveType, error)
	SubmitLeave(ctx context.Context, req types.LeaveRequest) (int64, error)
	LeaveBalance(ctx context.Context, employeeID int64, lt types.LeaveType) (types.LeaveBalance, error)
}

// Flow implements flow.Flow for leave requests.
type Flow struct {
	sessions *session.Manager
	erp      ERP
	catalog  *config.Catalog
	vocab    *flow.Vocabulary
	dates    *dates.Parser
	log      *zap.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithDateParser overrides the parser used for typed dates.
func WithDateParser(p *dates.Parser) Option {
	return func(f *Flow) {
		if p != nil {
			f.dates = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(f *Flow) {
		if log != nil {
			f.log = log
		}
	}
}

// New creates the time-off flow.
func New(sessions *session.Manager, erp ERP, catalog *config.Catalog, opts ...Option) *Flow {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	f := &Flow{
		sessions: sessions,
		erp:      erp,
		catalog:  catalog,
		vocab:    flow.NewVocabulary(catalog),
		dates:    dates.NewParser(nil),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Type returns types.FlowTimeOff.
func (f *Flow) Type() types.FlowType {
	return types.FlowTimeOff
}

// DetectStart reports an explicit request phrase or a confident intent.
func (f *Flow) DetectStart(message string) bool {
	return isStartPhrase(message) || DetectIntent(message).Detected()
}

// Score returns the graded intent confidence.
func (f *Flow) Score(message string) float64 {
	return DetectIntent(message).Confidence
}

// DetectContinuation reports whether message answers the active step. A
// leave type name the session offered always counts, so re-selecting a
// type at confirmation is not mistaken for a new request.
func (f *Flow) DetectContinuation(message string, s *types.Session) bool {
	if s != nil && s.Context.TimeOff != nil {
		if _, ok := matchExact(message, s.Context.TimeOff.LeaveTypes); ok {
			return true
		}
	}
	return isContinuation(message)
}

// Restart drops the caller's time-off sessions and starts over.
func (f *Flow) Restart(ctx context.Context, req flow.Request, _ *types.Session) (*types.Response, error) {
	return flow.Restart(ctx, f.sessions, f, req)
}

// Start loads the leave catalog and asks for a leave type, or jumps ahead
// when the opening message already names one.
func (f *Flow) Start(ctx context.Context, req flow.Request) (*types.Response, error) {
	if !req.Identity.Known() {
		return flow.VerifyEmployee(req.ThreadID, types.FlowTimeOff), nil
	}

	raw, err := f.erp.LeaveTypes(ctx)
	if err != nil {
		f.log.Warn("failed to load leave types", zap.String("thread_id", req.ThreadID), zap.Error(err))
		f.sessions.Clear(ctx, req.ThreadID)
		return flow.Reply(req.ThreadID, msgCatalogDown), nil
	}
	if len(raw) == 0 {
		return flow.Reply(req.ThreadID, msgCatalogEmpty), nil
	}
	leaveTypes := f.prepareCatalog(raw)
	if len(leaveTypes) == 0 {
		return flow.Reply(req.ThreadID, msgCatalogCorrupt), nil
	}

	s, err := flow.Begin(ctx, f.sessions, req, types.FlowTimeOff, types.Context{
		TimeOff: &types.TimeOffContext{LeaveTypes: leaveTypes},
	})
	if err != nil {
		return nil, err
	}
	t := f.turn(req, s)

	intent := DetectIntent(req.Message)
	if intent.HasDates {
		if start, end, ok := f.dates.ParseRange(req.Message); ok {
			if err := t.save(ctx, 0, &types.TimeOffContext{StartDate: dates.ISO(start), EndDate: dates.ISO(end)}, nil); err != nil {
				return nil, err
			}
		}
	}
	if intent.Kind != "" {
		if lt, ok := byKind(intent.Kind, leaveTypes); ok {
			return t.choose(ctx, lt, "Great!")
		}
	}
	return leaveTypeReply(req.ThreadID, msgSelectType, t.offered()), nil
}

// Step advances the conversation by one message.
func (f *Flow) Step(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	t := f.turn(req, s)
	msg := req.Text()

	if f.vocab.IsDecline(msg) {
		return flow.Cancelled(ctx, f.sessions, req.ThreadID, "user cancelled time-off request"), nil
	}
	if flow.IsConfirm(msg) {
		return t.confirm(ctx)
	}

	if s.Step <= StepLeaveType || t.tc.Selected == nil {
		return t.selectLeaveType(ctx, msg)
	}
	if m, ok := t.mode(); ok && t.modeValue(m) == "" {
		return t.selectMode(ctx, msg, m)
	}
	if lt, ok := matchExact(msg, t.tc.LeaveTypes); ok && lt.Key() != t.tc.Selected.Key() {
		return t.choose(ctx, lt, "Perfect!")
	}

	switch {
	case s.Step == StepDates || !t.hasDates():
		return t.captureDates(ctx, msg)
	case s.Step == StepDocument || t.awaitingDocument():
		return t.document(ctx, msg)
	default:
		return t.review(ctx, msg)
	}
}

// AttachDocument records an uploaded supporting document on the thread's
// open time-off session.
func AttachDocument(ctx context.Context, sessions *session.Manager, threadID string, doc types.Attachment) error {
	s, ok := sessions.GetActive(ctx, threadID)
	if !ok || s.FlowType != types.FlowTimeOff {
		return session.ErrNotFound
	}
	ok = sessions.Update(ctx, threadID, session.Patch{
		Mutate: func(s *types.Session) {
			if s.Context.TimeOff == nil {
				s.Context.TimeOff = &types.TimeOffContext{}
			}
			tc := s.Context.TimeOff
			for _, existing := range tc.Documents {
				if doc.Checksum != "" && existing.Checksum == doc.Checksum {
					return
				}
			}
			tc.Documents = append(tc.Documents, doc)
		},
	})
	if !ok {
		return session.ErrNotFound
	}
	return nil
}

// prepareCatalog drops malformed and duplicate entries and injects the
// Custom Hours type after Unpaid Leave when Annual Leave exists.
func (f *Flow) prepareCatalog(raw []types.LeaveType) []types.LeaveType {
	seen := make(map[string]bool)
	var out []types.LeaveType
	var annual *types.LeaveType
	for _, lt := range raw {
		name := strings.TrimSpace(lt.Name)
		if lt.ID <= 0 || name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		lt.Name = name
		out = append(out, lt)
		if strings.EqualFold(name, annualLeave) {
			cp := lt
			annual = &cp
		}
	}
	if annual == nil || seen[strings.ToLower(CustomHoursName)] {
		return out
	}

	halfday := types.LeaveType{
		ID:              annual.ID,
		Name:            CustomHoursName,
		SpecialCode:     types.Halfday,
		BaseLeaveTypeID: annual.ID,
	}
	for i, lt := range out {
		if strings.EqualFold(lt.Name, unpaidLeave) {
			out = append(out[:i+1], append([]types.LeaveType{halfday}, out[i+1:]...)...)
			return out
		}
	}
	return append(out, halfday)
}

func byKind(kind string, leaveTypes []types.LeaveType) (types.LeaveType, bool) {
	for _, lt := range leaveTypes {
		if !lt.IsHalfday() && strings.Contains(strings.ToLower(lt.Name), kind) {
			return lt, true
		}
	}
	return types.LeaveType{}, false
}

var _ flow.Flow = (*Flow)(nil)
