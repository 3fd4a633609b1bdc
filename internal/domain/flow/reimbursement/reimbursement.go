// Package reimbursement files expense claims: miscellaneous expenses,
// per diem trips and travel & accommodation.
package reimbursement

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
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// Steps. The details and additions steps hold several stages each.
const (
	StepCategory     = 1
	StepDetails      = 2
	StepAdditions    = 3
	StepConfirmation = 4
)

var (
	menuDescription = []string{"descriptions", "description", "add_description", addDescription}
	menuLink        = []string{"links", "link", "add_link", addLink}
	menuNext        = []string{"next", "continue", "proceed", addNext}
	skipWords       = []string{"skip", "none"}
)

// ERP is the slice of the HR system the flow needs. SubmitExpense
// resolves the category's expense product itself.
type ERP interface {
	CountryStates(ctx context.Context) ([]types.Option, error)
	SubmitExpense(ctx context.Context, claim types.ExpenseClaim) (int64, error)
}

// Flow implements flow.Flow for expense claims.
type Flow struct {
	sessions *session.Manager
	erp      ERP
	vocab    *flow.Vocabulary
	dates    *dates.Parser
	log      *zap.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithDateParser sets the parser used for expense dates.
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

// New creates the reimbursement flow.
func New(sessions *session.Manager, erp ERP, catalog *config.Catalog, opts ...Option) *Flow {
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

// Type returns types.FlowReimbursement.
func (f *Flow) Type() types.FlowType {
	return types.FlowReimbursement
}

// DetectStart reports a claim request scoring above IntentThreshold.
func (f *Flow) DetectStart(message string) bool {
	return DetectIntent(message).Detected()
}

// DetectContinuation recognises widget payloads, buttons and answers
// that fit the current stage.
func (f *Flow) DetectContinuation(message string, s *types.Session) bool {
	text := strings.TrimSpace(message)
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, key := range []string{dateKey, perDiemKey, destinationKey} {
		if _, ok := flow.Payload(text, key); ok {
			return true
		}
	}
	if lower == confirmSubmit || lower == cancelSubmit || flow.IsConfirm(text) || flow.IsNo(text) {
		return true
	}
	if _, ok := matchCategory(text); ok {
		return true
	}
	if oneOf(lower, menuDescription, menuLink, menuNext) {
		return true
	}
	if s == nil || s.Context.Reimbursement == nil {
		return false
	}
	switch s.Context.Reimbursement.Stage {
	case stageDestination, stageDestinationText, stageAddDescription, stageAddLink:
		return true
	case stageAmount:
		_, ok := ParseAmount(text)
		return ok
	case stageDate, stagePerDiemDates:
		return dates.LooksLikeDate(text)
	}
	return false
}

// Restart drops the caller's reimbursement sessions and starts over.
func (f *Flow) Restart(ctx context.Context, req flow.Request, _ *types.Session) (*types.Response, error) {
	return flow.Restart(ctx, f.sessions, f, req)
}

// Start opens a claim. A category named in the opening message is
// selected right away.
func (f *Flow) Start(ctx context.Context, req flow.Request) (*types.Response, error) {
	if !req.Identity.Known() {
		return flow.VerifyEmployee(req.ThreadID, types.FlowReimbursement), nil
	}
	if _, err := flow.Begin(ctx, f.sessions, req, types.FlowReimbursement, types.Context{
		Reimbursement: &types.ReimbursementContext{Stage: stageCategory},
	}); err != nil {
		return nil, err
	}

	intent := DetectIntent(req.Message)
	f.log.Debug("reimbursement started",
		zap.String("thread_id", req.ThreadID),
		zap.Float64("confidence", intent.Confidence),
		zap.String("category", intent.Category))
	if intent.Category != "" {
		return f.selectCategory(ctx, req.ThreadID, intent.Category)
	}
	return categoryPrompt(req.ThreadID, msgStart), nil
}

// Step advances the conversation by one message.
func (f *Flow) Step(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	msg := req.Text()
	if strings.EqualFold(msg, cancelSubmit) || f.vocab.IsDecline(msg) {
		return flow.Cancelled(ctx, f.sessions, req.ThreadID, "user cancelled reimbursement"), nil
	}
	rc := s.Context.Reimbursement
	if rc == nil {
		rc = &types.ReimbursementContext{}
	}

	switch s.Step {
	case StepCategory:
		key, ok := matchCategory(msg)
		if !ok {
			return categoryPrompt(req.ThreadID, msgBadCategory), nil
		}
		return f.selectCategory(ctx, req.ThreadID, key)
	case StepDetails:
		return f.details(ctx, req.ThreadID, msg, rc)
	case StepAdditions:
		return f.additions(ctx, req.ThreadID, msg, rc)
	default:
		if flow.IsConfirm(msg) || strings.EqualFold(msg, confirmSubmit) {
			return f.submit(ctx, req, s)
		}
		return summary(req.ThreadID, rc), nil
	}
}

func (f *Flow) selectCategory(ctx context.Context, threadID, key string) (*types.Response, error) {
	stage := stageAmount
	if key == types.ExpensePerDiem {
		stage = stagePerDiemDates
	}
	patch := &types.Context{Reimbursement: &types.ReimbursementContext{Category: key, Stage: stage}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepDetails, patch); err != nil {
		return nil, err
	}
	return detailsPrompt(threadID, key), nil
}

// detailsPrompt asks for the first detail of a category.
func detailsPrompt(threadID, category string) *types.Response {
	switch category {
	case types.ExpensePerDiem:
		return rangePrompt(threadID, msgPickRange)
	case types.ExpenseTravel:
		return flow.Reply(threadID, msgTravelAmount)
	default:
		return flow.Reply(threadID, msgMiscAmount)
	}
}

func (f *Flow) details(ctx context.Context, threadID, msg string, rc *types.ReimbursementContext) (*types.Response, error) {
	switch rc.Stage {
	case stageAmount:
		return f.captureAmount(ctx, threadID, msg, rc)
	case stageDate:
		return f.captureDate(ctx, threadID, msg)
	case stagePerDiemDates:
		return f.captureRange(ctx, threadID, msg)
	case stageDestination, stageDestinationText:
		return f.captureDestination(ctx, threadID, msg, rc)
	default:
		return detailsPrompt(threadID, rc.Category), nil
	}
}

func (f *Flow) captureAmount(ctx context.Context, threadID, msg string, rc *types.ReimbursementContext) (*types.Response, error) {
	amount, ok := ParseAmount(msg)
	if rc.Category == types.ExpenseTravel {
		if !ok {
			return flow.Reply(threadID, msgBadTravelAmount), nil
		}
		patch := &types.Context{Reimbursement: &types.ReimbursementContext{
			Amount:      amount,
			ExpenseDate: dates.ISO(f.dates.Today()),
			Stage:       stageMenu,
		}}
		if _, err := flow.Advance(ctx, f.sessions, threadID, StepAdditions, patch); err != nil {
			return nil, err
		}
		return additionsMenu(threadID), nil
	}

	if !ok {
		return flow.Reply(threadID, msgBadMiscAmount), nil
	}
	patch := &types.Context{Reimbursement: &types.ReimbursementContext{Amount: amount, Stage: stageDate}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, 0, patch); err != nil {
		return nil, err
	}
	return datePrompt(threadID, msgPickDate), nil
}

func (f *Flow) captureDate(ctx context.Context, threadID, msg string) (*types.Response, error) {
	text := msg
	if v, ok := flow.Payload(msg, dateKey); ok {
		text = v
	}
	if first, _, found := strings.Cut(text, " to "); found {
		text = first
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return datePrompt(threadID, "Please select a date using the calendar widget above."), nil
	}
	day, ok := f.dates.ParseDate(text)
	if !ok {
		return datePrompt(threadID, fmt.Sprintf(
			"Invalid date format: '%s'. Please select a valid date using the calendar widget above.", text)), nil
	}
	patch := &types.Context{Reimbursement: &types.ReimbursementContext{ExpenseDate: dates.ISO(day), Stage: stageMenu}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepAdditions, patch); err != nil {
		return nil, err
	}
	return additionsMenu(threadID), nil
}

// captureRange records the trip dates. A trip ending on or before its
// first day is stretched to the next day, since the ERP divides by the
// trip length.
func (f *Flow) captureRange(ctx context.Context, threadID, msg string) (*types.Response, error) {
	text := msg
	if v, ok := flow.Payload(msg, perDiemKey); ok {
		text = v
	}
	from, to, ok := f.dates.ParseRange(text)
	if !ok {
		return rangePrompt(threadID, msgBadRange), nil
	}
	if !to.After(from) {
		to = from.AddDate(0, 0, 1)
	}

	rc := &types.ReimbursementContext{PerDiemFrom: dates.ISO(from), PerDiemTo: dates.ISO(to)}
	states, err := f.erp.CountryStates(ctx)
	if err != nil || len(states) == 0 {
		if err != nil {
			f.log.Warn("failed to load destinations", zap.String("thread_id", threadID), zap.Error(err))
		}
		rc.Stage = stageDestinationText
		if _, err := flow.Advance(ctx, f.sessions, threadID, 0, &types.Context{Reimbursement: rc}); err != nil {
			return nil, err
		}
		return flow.Reply(threadID, msgTypeDestination), nil
	}

	rc.Stage = stageDestination
	if _, err := flow.Advance(ctx, f.sessions, threadID, 0, &types.Context{Reimbursement: rc}); err != nil {
		return nil, err
	}
	return destinationPrompt(threadID, states), nil
}

func (f *Flow) captureDestination(ctx context.Context, threadID, msg string, rc *types.ReimbursementContext) (*types.Response, error) {
	patch := &types.ReimbursementContext{Stage: stageMenu}
	if v, ok := flow.Payload(msg, destinationKey); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return flow.Reply(threadID, msgBadDestination), nil
		}
		patch.DestinationID = id
		patch.DestinationName = fmt.Sprintf("ID %d", id)
		if opt, ok := f.findState(ctx, func(o types.Option) bool { return o.Value == v }); ok {
			patch.DestinationName = opt.Label
		}
	} else {
		name := strings.TrimSpace(msg)
		if name == "" {
			return flow.Reply(threadID, msgNoDestination), nil
		}
		patch.DestinationName = name
		if rc.Stage == stageDestination {
			if opt, ok := f.findState(ctx, func(o types.Option) bool { return strings.EqualFold(o.Label, name) }); ok {
				if id, err := strconv.ParseInt(opt.Value, 10, 64); err == nil {
					patch.DestinationID = id
					patch.DestinationName = opt.Label
				}
			}
		}
	}
	if _, err := flow.Advance(ctx, f.sessions, threadID, StepAdditions, &types.Context{Reimbursement: patch}); err != nil {
		return nil, err
	}
	return additionsMenu(threadID), nil
}

func (f *Flow) findState(ctx context.Context, match func(types.Option) bool) (types.Option, bool) {
	states, err := f.erp.CountryStates(ctx)
	if err != nil {
		return types.Option{}, false
	}
	for _, o := range states {
		if match(o) {
			return o, true
		}
	}
	return types.Option{}, false
}

func (f *Flow) additions(ctx context.Context, threadID, msg string, rc *types.ReimbursementContext) (*types.Response, error) {
	lower := strings.ToLower(strings.TrimSpace(msg))
	switch rc.Stage {
	case stageAddDescription:
		if lower == "" {
			return flow.Reply(threadID, msgAskDescription), nil
		}
		return f.backToMenu(ctx, threadID, &types.ReimbursementContext{Description: strings.TrimSpace(msg)})
	case stageAddLink:
		if lower == "" || oneOf(lower, skipWords) {
			return f.backToMenu(ctx, threadID, &types.ReimbursementContext{})
		}
		if err := utils.ValidateLink(msg); err != nil {
			return flow.Reply(threadID, msgBadLink), nil
		}
		return f.backToMenu(ctx, threadID, &types.ReimbursementContext{AttachedLink: strings.TrimSpace(msg)})
	}

	switch {
	case oneOf(lower, menuDescription):
		return f.setStage(ctx, threadID, stageAddDescription, msgAskDescription)
	case oneOf(lower, menuLink):
		return f.setStage(ctx, threadID, stageAddLink, msgAskLink)
	case oneOf(lower, menuNext):
		patch := &types.Context{Reimbursement: &types.ReimbursementContext{Stage: stageConfirmation}}
		s, err := flow.Advance(ctx, f.sessions, threadID, StepConfirmation, patch)
		if err != nil {
			return nil, err
		}
		return summary(threadID, s.Context.Reimbursement), nil
	default:
		return additionsMenu(threadID), nil
	}
}

func (f *Flow) setStage(ctx context.Context, threadID, stage, prompt string) (*types.Response, error) {
	patch := &types.Context{Reimbursement: &types.ReimbursementContext{Stage: stage}}
	if _, err := flow.Advance(ctx, f.sessions, threadID, 0, patch); err != nil {
		return nil, err
	}
	return flow.Reply(threadID, prompt), nil
}

func (f *Flow) backToMenu(ctx context.Context, threadID string, rc *types.ReimbursementContext) (*types.Response, error) {
	rc.Stage = stageMenu
	if _, err := flow.Advance(ctx, f.sessions, threadID, 0, &types.Context{Reimbursement: rc}); err != nil {
		return nil, err
	}
	return additionsMenu(threadID), nil
}

// rewind sends the conversation back to the first stage still missing.
func (f *Flow) rewind(ctx context.Context, threadID string, step int, stage string) error {
	if !f.sessions.Rewind(ctx, threadID, step) {
		return flow.ErrSessionLost
	}
	patch := &types.Context{Reimbursement: &types.ReimbursementContext{Stage: stage}}
	if !f.sessions.Update(ctx, threadID, session.Patch{Context: patch}) {
		return flow.ErrSessionLost
	}
	return nil
}

func (f *Flow) submit(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	threadID := req.ThreadID
	rc := s.Context.Reimbursement
	if rc == nil {
		rc = &types.ReimbursementContext{}
	}

	employeeID := s.EmployeeID()
	if employeeID == 0 {
		employeeID = req.Identity.EmployeeID()
	}
	if employeeID == 0 {
		f.sessions.Complete(ctx, threadID, types.Result{Error: msgNoProfile})
		return flow.Reply(threadID, msgNoProfile), nil
	}

	if _, ok := types.LookupExpenseCategory(rc.Category); !ok {
		if err := f.rewind(ctx, threadID, StepCategory, stageCategory); err != nil {
			return nil, err
		}
		return categoryPrompt(threadID, msgStart), nil
	}
	if missingDetails(rc) {
		stage := stageAmount
		if rc.Category == types.ExpensePerDiem {
			stage = stagePerDiemDates
		}
		if err := f.rewind(ctx, threadID, StepDetails, stage); err != nil {
			return nil, err
		}
		return detailsPrompt(threadID, rc.Category), nil
	}

	claim := types.ExpenseClaim{
		EmployeeID:   employeeID,
		Category:     rc.Category,
		Amount:       rc.Amount,
		Date:         rc.ExpenseDate,
		Description:  defaultDescription(rc),
		AttachedLink: rc.AttachedLink,
	}
	if s.Context.Employee != nil {
		claim.CompanyID = s.Context.Employee.CompanyID
	}
	if rc.Category == types.ExpensePerDiem {
		claim.Date = rc.PerDiemFrom
		claim.DateFrom = rc.PerDiemFrom
		claim.DateTo = rc.PerDiemTo
		claim.DaysAbroad = daysAbroad(rc.PerDiemFrom, rc.PerDiemTo)
		claim.DestinationID = rc.DestinationID
		claim.DestinationName = rc.DestinationName
	}

	id, err := f.erp.SubmitExpense(ctx, claim)
	if err != nil {
		f.log.Warn("expense submission failed", zap.String("thread_id", threadID), zap.String("category", rc.Category), zap.Error(err))
		f.sessions.Complete(ctx, threadID, types.Result{Submitted: false, Error: err.Error()})
		return flow.Reply(threadID, failedMessage(rc.Category, err)), nil
	}

	message := submittedMessage(rc.Category, id)
	f.sessions.Complete(ctx, threadID, types.Result{
		Submitted: true,
		RecordID:  id,
		Message:   message,
		Payload: map[string]any{
			"category": rc.Category,
			"amount":   rc.Amount,
		},
	})
	f.log.Info("expense submitted", zap.String("thread_id", threadID), zap.Int64("expense_id", id), zap.String("category", rc.Category))
	return flow.Reply(threadID, message), nil
}

func missingDetails(rc *types.ReimbursementContext) bool {
	switch rc.Category {
	case types.ExpensePerDiem:
		return rc.PerDiemFrom == "" || rc.PerDiemTo == "" || rc.DestinationName == ""
	case types.ExpenseTravel:
		return rc.Amount <= 0
	default:
		return rc.Amount <= 0 || rc.ExpenseDate == ""
	}
}

// daysAbroad counts both ends of the trip.
func daysAbroad(from, to string) int {
	start, err1 := time.Parse(dates.ISOLayout, from)
	end, err2 := time.Parse(dates.ISOLayout, to)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 1
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func oneOf(value string, sets ...[]string) bool {
	for _, set := range sets {
		for _, s := range set {
			if value == s {
				return true
			}
		}
	}
	return false
}

var _ flow.Flow = (*Flow)(nil)
