// Package loghours logs timesheet hours against the employee's planned
// tasks for the current month.
package loghours

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
	StepTask         = 1
	StepActivity     = 2
	StepHours        = 3
	StepDescription  = 4
	StepConfirmation = 5
)

var triggers = []string{
	"log my hours", "log my task", "log my tasks", "show my tasks", "log my projects",
	"log my project", "log hours", "my tasks", "view my tasks", "see my tasks", "show tasks",
}

// ERP is the slice of the HR system the flow needs. PlanningSlots returns
// one entry per planned day not yet logged.
type ERP interface {
	PlanningSlots(ctx context.Context, employee types.Employee, from, to time.Time) ([]types.PlanningTask, error)
	TaskActivities(ctx context.Context) ([]types.Option, error)
	LogTimesheet(ctx context.Context, entry types.TimesheetEntry) (int64, error)
}

// Flow implements flow.Flow for timesheet logging.
type Flow struct {
	sessions *session.Manager
	erp      ERP
	vocab    *flow.Vocabulary
	dates    *dates.Parser
	log      *zap.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithDateParser sets the parser whose clock defines the current month.
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

// New creates the log hours flow.
func New(sessions *session.Manager, erp ERP, catalog *config.Catalog, opts ...Option) *Flow {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	f := &Flow{
		sessions: sessions,
		erp:      erp,
		vocab:    flow.NewVocabulary(catalog),
		dates:    dates.NewParser(nil),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Type returns types.FlowLogHours.
func (f *Flow) Type() types.FlowType {
	return types.FlowLogHours
}

// DetectStart reports one of the task listing phrases.
func (f *Flow) DetectStart(message string) bool {
	text := strings.ToLower(strings.TrimSpace(message))
	for _, t := range triggers {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// DetectContinuation treats any free text as an answer while a
// description is expected.
func (f *Flow) DetectContinuation(message string, s *types.Session) bool {
	text := strings.TrimSpace(message)
	if text == "" {
		return false
	}
	if s != nil && s.Step == StepDescription {
		return true
	}
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "log_hours_") || strings.Contains(text, "=") {
		return true
	}
	if flow.IsConfirm(text) || flow.IsNo(text) || dates.LooksLikeDuration(text) {
		return true
	}
	if _, err := strconv.ParseFloat(text, 64); err == nil {
		return true
	}
	if s != nil && s.Context.LogHours != nil {
		if _, ok := matchActivity(text, s.Context.LogHours.Activities); ok {
			return true
		}
	}
	return false
}

// Restart drops the caller's log hours sessions and starts over.
func (f *Flow) Restart(ctx context.Context, req flow.Request, _ *types.Session) (*types.Response, error) {
	return flow.Restart(ctx, f.sessions, f, req)
}

// Start lists this month's unlogged planned days.
func (f *Flow) Start(ctx context.Context, req flow.Request) (*types.Response, error) {
	if !req.Identity.Known() {
		return flow.VerifyEmployee(req.ThreadID, types.FlowLogHours), nil
	}
	emp := req.Employee()
	if emp == nil || emp.Name == "" {
		return flow.Reply(req.ThreadID, msgNoProfile), nil
	}

	today := f.dates.Today()
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	monthEnd := monthStart.AddDate(0, 1, -1)
	month := monthStart.Format("January 2006")

	tasks, err := f.erp.PlanningSlots(ctx, *emp, monthStart, monthEnd)
	if err != nil {
		f.log.Warn("failed to load planning slots", zap.String("thread_id", req.ThreadID), zap.Error(err))
		return flow.Replyf(req.ThreadID, "Failed to retrieve your tasks: %s", err.Error()), nil
	}
	if len(tasks) == 0 {
		return flow.Replyf(req.ThreadID, "You have no tasks assigned for %s.", month), nil
	}

	_, err = flow.Begin(ctx, f.sessions, req, types.FlowLogHours, types.Context{
		LogHours: &types.LogHoursContext{Tasks: tasks},
	})
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("**Your tasks for %s:**\n\n*What would you like to do next?*", month)
	return tasksReply(req.ThreadID, message, tasks, today), nil
}

// Step advances the conversation by one message.
func (f *Flow) Step(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	msg := req.Text()
	if strings.EqualFold(msg, cancelValue) || f.vocab.IsDecline(msg) {
		return flow.Cancelled(ctx, f.sessions, req.ThreadID, "user cancelled log hours"), nil
	}
	lc := s.Context.LogHours
	if lc == nil {
		lc = &types.LogHoursContext{}
	}

	switch s.Step {
	case StepTask:
		return f.pickTask(ctx, req.ThreadID, msg, lc)
	case StepActivity:
		return f.pickActivity(ctx, req.ThreadID, msg, lc)
	case StepHours:
		return f.captureHours(ctx, req.ThreadID, msg)
	case StepDescription:
		return f.captureDescription(ctx, req.ThreadID, msg)
	default:
		if flow.IsConfirm(msg) || strings.EqualFold(msg, confirmValue) {
			return f.submit(ctx, req, s.EmployeeID(), lc)
		}
		return summary(req.ThreadID, lc), nil
	}
}

func (f *Flow) pickTask(ctx context.Context, threadID, msg string, lc *types.LogHoursContext) (*types.Response, error) {
	task, ok := matchTask(msg, lc.Tasks)
	if !ok {
		return tasksReply(threadID, msgPickTask, lc.Tasks, f.dates.Today()), nil
	}

	activities, err := f.erp.TaskActivities(ctx)
	if err != nil {
		f.log.Warn("failed to load task activities", zap.String("thread_id", threadID), zap.Error(err))
		return flow.Replyf(threadID, "Failed to fetch task activity options: %s", err.Error()), nil
	}
	patch := &types.Context{LogHours: &types.LogHoursContext{Task: &task, Activities: activities}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepActivity, patch); err != nil {
		return nil, err
	}

	day := task.Date
	if t, err := time.Parse("2006-01-02", task.Date); err == nil {
		day = ordinalDate(t, false)
	}
	return activityPrompt(threadID, fmt.Sprintf(
		"**Logging hours for %s on %s**\n\nPlease select the task activity from the dropdown below, or type the activity name in chat:",
		task.Name, day), activities), nil
}

// matchTask resolves a table action payload or a 1-based row number.
func matchTask(msg string, tasks []types.PlanningTask) (types.PlanningTask, bool) {
	if v, ok := flow.Payload(msg, taskKey); ok {
		for _, t := range tasks {
			if t.SubtaskID != 0 && taskValue(t) == v {
				return t, true
			}
		}
		return types.PlanningTask{}, false
	}
	if n, err := strconv.Atoi(strings.TrimSpace(msg)); err == nil && n >= 1 && n <= len(tasks) {
		if t := tasks[n-1]; t.SubtaskID != 0 {
			return t, true
		}
	}
	return types.PlanningTask{}, false
}

func (f *Flow) pickActivity(ctx context.Context, threadID, msg string, lc *types.LogHoursContext) (*types.Response, error) {
	if dates.LooksLikeDuration(msg) {
		return activityPrompt(threadID, msgHoursFirst, lc.Activities), nil
	}
	activity, ok := matchActivity(msg, lc.Activities)
	if !ok {
		return activityPrompt(threadID, fmt.Sprintf(
			"I couldn't find %q in the activity list. Please select an activity from the dropdown below:", msg), lc.Activities), nil
	}
	patch := &types.Context{LogHours: &types.LogHoursContext{ActivityID: activity.Value, ActivityName: activity.Label}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepHours, patch); err != nil {
		return nil, err
	}
	return hoursPrompt(threadID, msgAskHours), nil
}

// matchActivity resolves a dropdown payload, an option id, the exact
// label, then a label containing or contained in the text.
func matchActivity(msg string, activities []types.Option) (types.Option, bool) {
	text := strings.TrimSpace(msg)
	if v, ok := flow.Payload(text, activityKey); ok {
		text = v
	}
	if text == "" {
		return types.Option{}, false
	}
	for _, a := range activities {
		if a.Value == text {
			return a, true
		}
	}
	lower := strings.ToLower(text)
	for _, a := range activities {
		if strings.ToLower(strings.TrimSpace(a.Label)) == lower {
			return a, true
		}
	}
	for _, a := range activities {
		label := strings.ToLower(strings.TrimSpace(a.Label))
		if label != "" && (strings.Contains(label, lower) || strings.Contains(lower, label)) {
			return a, true
		}
	}
	return types.Option{}, false
}

func (f *Flow) captureHours(ctx context.Context, threadID, msg string) (*types.Response, error) {
	text := msg
	if v, ok := flow.Payload(msg, hoursKey); ok {
		text = v
	}
	hours, ok := dates.ParseDuration(text)
	if !ok || hours <= 0 || hours > maxHours {
		return hoursPrompt(threadID, msgBadHours), nil
	}
	patch := &types.Context{LogHours: &types.LogHoursContext{Hours: hours}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepDescription, patch); err != nil {
		return nil, err
	}
	return descriptionPrompt(threadID), nil
}

func (f *Flow) captureDescription(ctx context.Context, threadID, msg string) (*types.Response, error) {
	description := msg
	if strings.EqualFold(msg, skipValue) {
		description = ""
	}
	patch := &types.Context{LogHours: &types.LogHoursContext{Description: description}}
	s, err := flow.Advance(ctx, f.sessions, threadID, StepConfirmation, patch)
	if err != nil {
		return nil, err
	}
	return summary(threadID, s.Context.LogHours), nil
}

func (f *Flow) submit(ctx context.Context, req flow.Request, employeeID int64, lc *types.LogHoursContext) (*types.Response, error) {
	threadID := req.ThreadID
	if employeeID == 0 {
		employeeID = req.Identity.EmployeeID()
	}
	if lc.Task == nil || lc.Task.SubtaskID == 0 || lc.Task.Date == "" || employeeID == 0 {
		if !f.sessions.Rewind(ctx, threadID, StepTask) {
			return nil, flow.ErrSessionLost
		}
		return tasksReply(threadID, "Missing required information to create timesheet entry. "+msgPickTask, lc.Tasks, f.dates.Today()), nil
	}

	description := lc.Description
	if description == "" {
		description = defaultSummary
	}
	entry := types.TimesheetEntry{
		EmployeeID:  employeeID,
		TaskID:      lc.Task.SubtaskID,
		Date:        lc.Task.Date,
		Hours:       lc.Hours,
		Description: description,
		ActivityID:  lc.ActivityID,
	}

	id, err := f.erp.LogTimesheet(ctx, entry)
	if err != nil {
		f.log.Warn("timesheet entry failed", zap.String("thread_id", threadID), zap.Error(err))
		f.sessions.Complete(ctx, threadID, types.Result{Submitted: false, Error: err.Error()})
		return flow.Replyf(threadID, "Failed to create timesheet entry: %s", err.Error()), nil
	}

	message := fmt.Sprintf("✅ Successfully logged %.1f hours for %s!", lc.Hours, lc.Task.Name)
	f.sessions.Complete(ctx, threadID, types.Result{
		Submitted: true,
		RecordID:  id,
		Message:   message,
		Payload: map[string]any{
			"task_id": entry.TaskID,
			"date":    entry.Date,
			"hours":   entry.Hours,
		},
	})
	f.log.Info("timesheet entry created", zap.String("thread_id", threadID), zap.Int64("line_id", id))
	return flow.Reply(threadID, message), nil
}

var _ flow.Flow = (*Flow)(nil)
