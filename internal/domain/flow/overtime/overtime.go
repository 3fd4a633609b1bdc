// Package overtime files overtime approval requests: one date, an hour
// range, the related project, then confirmation.
package overtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Steps.
const (
	StepDate         = 1
	StepHours        = 2
	StepProject      = 3
	StepConfirmation = 4
)

// DefaultTimeZone applies when the employee profile has none.
const DefaultTimeZone = "Asia/Amman"

const (
	requestTitle = "Overtime request via Nasma chatbot"
	erpTimestamp = "2006-01-02 15:04:05"
)

// ERP is the slice of the HR system the flow needs.
type ERP interface {
	OvertimeCategory(ctx context.Context, company string) (int64, string, error)
	Projects(ctx context.Context) ([]types.Project, error)
	SubmitOvertime(ctx context.Context, req types.OvertimeRequest) (int64, error)
}

// Flow implements flow.Flow for overtime requests.
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

// New creates the overtime flow.
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

// Type returns types.FlowOvertime.
func (f *Flow) Type() types.FlowType {
	return types.FlowOvertime
}

// DetectStart reports an overtime phrase paired with an action word.
func (f *Flow) DetectStart(message string) bool {
	return Score(message) >= IntentThreshold
}

// DetectContinuation reports widget payloads, dates, hour ranges, yes/no
// and project names the session offered.
func (f *Flow) DetectContinuation(message string, s *types.Session) bool {
	text := strings.TrimSpace(message)
	if text == "" {
		return false
	}
	if strings.Contains(text, "=") || flow.IsConfirm(text) || flow.IsNo(text) || dates.LooksLikeDate(text) {
		return true
	}
	if _, _, ok := dates.ParseHourRange(text); ok {
		return true
	}
	if s != nil && s.Context.Overtime != nil {
		if _, ok := matchProject(text, s.Context.Overtime.Projects); ok {
			return true
		}
	}
	return false
}

// Restart drops the caller's overtime sessions and starts over.
func (f *Flow) Restart(ctx context.Context, req flow.Request, _ *types.Session) (*types.Response, error) {
	return flow.Restart(ctx, f.sessions, f, req)
}

// Start resolves the company's overtime category and the project list,
// then asks for the date.
func (f *Flow) Start(ctx context.Context, req flow.Request) (*types.Response, error) {
	if !req.Identity.Known() {
		return flow.VerifyEmployee(req.ThreadID, types.FlowOvertime), nil
	}
	emp := req.Employee()
	if emp == nil {
		emp = &types.Employee{ID: req.Identity.EmployeeID()}
	}

	company := emp.CompanyName
	if company == "" {
		company = f.catalog.Company
	}
	categoryID, categoryName, err := f.erp.OvertimeCategory(ctx, company)
	if err != nil || categoryID == 0 {
		f.log.Warn("overtime category lookup failed",
			zap.String("thread_id", req.ThreadID),
			zap.String("company", company),
			zap.Error(err))
		f.sessions.Clear(ctx, req.ThreadID)
		return flow.Replyf(req.ThreadID, msgNoCategory, company), nil
	}

	projects, err := f.erp.Projects(ctx)
	if err != nil {
		f.log.Warn("failed to load projects", zap.String("thread_id", req.ThreadID), zap.Error(err))
		projects = nil
	}

	tz := emp.TimeZone
	if tz == "" {
		tz = DefaultTimeZone
	}
	_, err = flow.Begin(ctx, f.sessions, req, types.FlowOvertime, types.Context{
		Overtime: &types.OvertimeContext{
			CategoryID:   categoryID,
			CategoryName: categoryName,
			Company:      company,
			TimeZone:     tz,
			Projects:     projects,
		},
	})
	if err != nil {
		return nil, err
	}
	return datePrompt(req.ThreadID, msgPickDate), nil
}

// Step advances the conversation by one message.
func (f *Flow) Step(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	msg := req.Text()
	if f.vocab.IsDecline(msg) {
		return flow.Cancelled(ctx, f.sessions, req.ThreadID, "user cancelled overtime request"), nil
	}
	oc := s.Context.Overtime
	if oc == nil {
		oc = &types.OvertimeContext{}
	}

	switch s.Step {
	case StepDate:
		return f.captureDate(ctx, req.ThreadID, msg)
	case StepHours:
		return f.captureHours(ctx, req.ThreadID, msg, oc)
	case StepProject:
		return f.captureProject(ctx, req.ThreadID, msg, oc)
	default:
		if flow.IsConfirm(msg) {
			return f.submit(ctx, req.ThreadID, oc)
		}
		return confirmation(req.ThreadID, oc), nil
	}
}

func (f *Flow) captureDate(ctx context.Context, threadID, msg string) (*types.Response, error) {
	text := msg
	if v, ok := flow.Payload(msg, dateContextKey); ok {
		text = v
	}
	start, end, ok := f.dates.ParseRange(text)
	switch {
	case !ok:
		return datePrompt(threadID, msgBadDate), nil
	case !start.Equal(end):
		return datePrompt(threadID, msgOneDay), nil
	}
	patch := &types.Context{Overtime: &types.OvertimeContext{Date: dates.ISO(start)}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepHours, patch); err != nil {
		return nil, err
	}
	return hoursPrompt(threadID, msgPickHours), nil
}

func (f *Flow) captureHours(ctx context.Context, threadID, msg string, oc *types.OvertimeContext) (*types.Response, error) {
	from, to, ok := dates.ParseHourPayload(msg)
	if !ok {
		from, to, ok = dates.ParseHourRange(msg)
	}
	if !ok || to <= from {
		return hoursPrompt(threadID, msgBadHours), nil
	}

	patch := &types.OvertimeContext{HourFrom: dates.HourKey(from), HourTo: dates.HourKey(to)}
	if len(oc.Projects) == 0 {
		s, err := flow.Advance(ctx, f.sessions, threadID, StepConfirmation, &types.Context{Overtime: patch})
		if err != nil {
			return nil, err
		}
		return confirmation(threadID, s.Context.Overtime), nil
	}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepProject, &types.Context{Overtime: patch}); err != nil {
		return nil, err
	}
	return projectPrompt(threadID, msgPickProject, oc.Projects), nil
}

func (f *Flow) captureProject(ctx context.Context, threadID, msg string, oc *types.OvertimeContext) (*types.Response, error) {
	p, ok := matchProject(msg, oc.Projects)
	if !ok {
		return projectPrompt(threadID, msgBadProject, oc.Projects), nil
	}
	patch := &types.OvertimeContext{ProjectID: p.ID, ProjectName: p.Name}
	s, err := flow.Advance(ctx, f.sessions, threadID, StepConfirmation, &types.Context{Overtime: patch})
	if err != nil {
		return nil, err
	}
	return confirmation(threadID, s.Context.Overtime), nil
}

// matchProject resolves a dropdown payload or an exact project name.
func matchProject(msg string, projects []types.Project) (types.Project, bool) {
	if v, ok := flow.Payload(msg, projectContextKey); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return types.Project{}, false
		}
		for _, p := range projects {
			if p.ID == id {
				return p, true
			}
		}
		return types.Project{}, false
	}
	text := flow.Clean(msg)
	for _, p := range projects {
		if text != "" && text == flow.Clean(p.Name) {
			return p, true
		}
	}
	return types.Project{}, false
}

// Window converts the local date and hour range to ERP UTC timestamps.
func Window(oc *types.OvertimeContext) (string, string, error) {
	loc, err := time.LoadLocation(oc.TimeZone)
	if err != nil || oc.TimeZone == "" {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", oc.Date, loc)
	if err != nil {
		return "", "", fmt.Errorf("invalid overtime date %q: %w", oc.Date, err)
	}
	from, ok1 := dates.ParseHourKey(oc.HourFrom)
	to, ok2 := dates.ParseHourKey(oc.HourTo)
	if !ok1 || !ok2 || to <= from {
		return "", "", fmt.Errorf("invalid overtime hours %q-%q", oc.HourFrom, oc.HourTo)
	}
	at := func(h float64) string {
		return day.Add(time.Duration(h * float64(time.Hour))).UTC().Format(erpTimestamp)
	}
	return at(from), at(to), nil
}

func (f *Flow) submit(ctx context.Context, threadID string, oc *types.OvertimeContext) (*types.Response, error) {
	start, end, err := Window(oc)
	if err != nil {
		return nil, err
	}
	req := types.OvertimeRequest{
		CategoryID: oc.CategoryID,
		Start:      start,
		End:        end,
		ProjectID:  oc.ProjectID,
		Title:      requestTitle,
	}

	id, err := f.erp.SubmitOvertime(ctx, req)
	if err != nil {
		f.log.Warn("overtime submission failed", zap.String("thread_id", threadID), zap.Error(err))
		f.sessions.Complete(ctx, threadID, types.Result{Submitted: false, Error: err.Error()})
		return flow.Replyf(threadID, msgSubmitFailed, err.Error()), nil
	}

	message := fmt.Sprintf(msgSubmitted, id)
	f.sessions.Complete(ctx, threadID, types.Result{
		Submitted: true,
		RecordID:  id,
		Message:   message,
		Payload: map[string]any{
			"date_start": start,
			"date_end":   end,
			"project":    oc.ProjectName,
		},
	})
	f.log.Info("overtime request submitted", zap.String("thread_id", threadID), zap.Int64("request_id", id))
	return flow.Reply(threadID, message), nil
}

var _ flow.Flow = (*Flow)(nil)
