package timeoff

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/textmatch"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

var (
	fullDaysRe    = regexp.MustCompile(`\bfull\s*[- ]?\s*days?\b`)
	customHoursRe = regexp.MustCompile(`\bcustom\s*[- ]?\s*hours?\b`)
	numberRe      = regexp.MustCompile(`^\d{1,2}$`)
	dayWordRe     = regexp.MustCompile(`\b(?:to|till|until|through|today|tomorrow|next|this|mon|tue|wed|thu|fri|sat|sun)`)

	widgetPrefixes = []string{"timeoff_date_range", "overtime_date_range", "reimbursement_expense_date", "embassy_date_range"}
	uploadAcks     = []string{"supporting_document_uploaded", "supporting document uploaded", "document uploaded", "uploaded", "done", "finished"}
)

// turn carries one message through the flow, keeping the latest session
// snapshot after every write.
type turn struct {
	f   *Flow
	req flow.Request
	s   *types.Session
	tc  *types.TimeOffContext
}

func (f *Flow) turn(req flow.Request, s *types.Session) *turn {
	t := &turn{f: f, req: req}
	t.reset(s)
	return t
}

func (t *turn) reset(s *types.Session) {
	t.s = s
	t.tc = s.Context.TimeOff
	if t.tc == nil {
		t.tc = &types.TimeOffContext{}
	}
}

func (t *turn) thread() string {
	return t.req.ThreadID
}

// save moves the session to step (0 keeps it), merges patch and applies
// mutate, then refreshes the snapshot. Moving backwards goes through
// Rewind so the step never decreases silently.
func (t *turn) save(ctx context.Context, step int, patch *types.TimeOffContext, mutate func(tc *types.TimeOffContext)) error {
	sessions := t.f.sessions
	if step > 0 && step < t.s.Step {
		if !sessions.Rewind(ctx, t.thread(), step) {
			return errSessionLost
		}
	}

	from := t.s.Step
	var ctxPatch *types.Context
	if patch != nil {
		ctxPatch = &types.Context{TimeOff: patch}
	}
	ok := sessions.Update(ctx, t.thread(), session.Patch{
		Step:    step,
		Context: ctxPatch,
		Mutate: func(s *types.Session) {
			if s.Context.TimeOff == nil {
				s.Context.TimeOff = &types.TimeOffContext{}
			}
			if mutate != nil {
				mutate(s.Context.TimeOff)
			}
			if step > from {
				s.CompletedSteps = append(s.CompletedSteps, from)
			}
		},
	})
	if !ok {
		return errSessionLost
	}
	s, ok := sessions.GetActive(ctx, t.thread())
	if !ok {
		return errSessionLost
	}
	t.reset(s)
	return nil
}

// offered lists the leave types shown as buttons: the primary ones the
// catalog names, or everything when none of them exist.
func (t *turn) offered() []types.LeaveType {
	var out []types.LeaveType
	for _, name := range t.f.catalog.PrimaryLeaveTypes {
		for _, lt := range t.tc.LeaveTypes {
			if strings.EqualFold(lt.Name, name) {
				out = append(out, lt)
				break
			}
		}
	}
	if len(out) == 0 {
		return t.tc.LeaveTypes
	}
	return out
}

func (t *turn) mode() (config.LeaveMode, bool) {
	if t.tc.Selected == nil || t.tc.Selected.IsHalfday() {
		return config.LeaveMode{}, false
	}
	return t.f.catalog.LeaveMode(t.tc.Selected.Name)
}

func (t *turn) modeValue(m config.LeaveMode) string {
	return t.tc.Modes[m.SessionKey]
}

func (t *turn) modePending() bool {
	m, ok := t.mode()
	return ok && t.modeValue(m) == ""
}

// single reports a one-day request measured in hours.
func (t *turn) single() bool {
	if t.tc.Selected == nil {
		return false
	}
	if t.tc.Selected.IsHalfday() {
		return true
	}
	m, ok := t.mode()
	return ok && t.modeValue(m) == ModeCustomHours
}

func (t *turn) requiresDocument() bool {
	m, ok := t.mode()
	return ok && m.RequiresDocument && t.modeValue(m) == ModeFullDays
}

func (t *turn) awaitingDocument() bool {
	return t.requiresDocument() && !t.tc.DocumentUploaded
}

func (t *turn) hasDates() bool {
	return t.tc.StartDate != "" && t.tc.EndDate != ""
}

func (t *turn) hasHours() bool {
	_, _, ok := hoursOf(t.tc)
	return ok
}

func (t *turn) label() string {
	if m, ok := t.mode(); ok && m.PromptLabel != "" {
		return m.PromptLabel
	}
	if t.tc.Selected != nil {
		return t.tc.Selected.Name
	}
	return ""
}

// ----------------------------------------------------------------------------
// Leave type and mode
// ----------------------------------------------------------------------------

// selectLeaveType reads a leave type answer. A session that reached a
// later step without one was damaged: it is rewound and only a leave type
// answer is accepted.
func (t *turn) selectLeaveType(ctx context.Context, msg string) (*types.Response, error) {
	rewound := t.s.Step > StepLeaveType
	if rewound {
		if err := t.save(ctx, StepLeaveType, nil, nil); err != nil {
			return nil, err
		}
	}

	offered := t.offered()
	if numberRe.MatchString(msg) {
		if n, _ := strconv.Atoi(msg); n >= 1 && n <= len(offered) {
			return t.choose(ctx, offered[n-1], "Great!")
		}
	}
	if lt, ok := matchLeaveType(msg, t.tc.LeaveTypes); ok {
		return t.choose(ctx, lt, "Perfect!")
	}
	if rewound {
		return leaveTypeReply(t.thread(), msgLostType, offered), nil
	}

	if start, end, ok := t.parseRange(msg); ok {
		if err := t.save(ctx, 0, &types.TimeOffContext{StartDate: dates.ISO(start), EndDate: dates.ISO(end)}, nil); err != nil {
			return nil, err
		}
		return leaveTypeReply(t.thread(), msgDatesNoType, offered), nil
	}
	return leaveTypeReply(t.thread(), msgUnknownType, offered), nil
}

// choose selects lt. A type with modes asks for the mode first; otherwise
// known dates jump straight to the summary.
func (t *turn) choose(ctx context.Context, lt types.LeaveType, opener string) (*types.Response, error) {
	changed := t.tc.Selected == nil || t.tc.Selected.Key() != lt.Key()
	selected := lt
	err := t.save(ctx, StepDates, nil, func(tc *types.TimeOffContext) {
		tc.Selected = &selected
		if changed {
			tc.HourFrom, tc.HourTo = "", ""
			tc.DocumentRequired = false
			tc.DocumentUploaded = false
		}
	})
	if err != nil {
		return nil, err
	}

	if m, ok := t.mode(); ok && t.modeValue(m) == "" {
		return modeReply(t.thread(), m), nil
	}
	if t.hasDates() && !(t.single() && t.tc.StartDate != t.tc.EndDate) {
		return t.afterDates(ctx, summaryRepeat)
	}
	return selectedPrompt(t.thread(), opener, lt, t.single()), nil
}

func (t *turn) selectMode(ctx context.Context, msg string, m config.LeaveMode) (*types.Response, error) {
	value, ok := parseMode(msg, m)
	if !ok {
		return modeReply(t.thread(), m), nil
	}
	patch := &types.TimeOffContext{Modes: map[string]string{m.SessionKey: value}}
	if err := t.save(ctx, StepDates, patch, nil); err != nil {
		return nil, err
	}
	if t.hasDates() && !(t.single() && t.tc.StartDate != t.tc.EndDate) {
		return t.afterDates(ctx, summaryRepeat)
	}
	return modeChosenPrompt(t.thread(), t.label(), value == ModeCustomHours), nil
}

func parseMode(msg string, m config.LeaveMode) (string, bool) {
	raw := strings.TrimSpace(msg)
	if v, ok := flow.Payload(raw, m.SessionKey); ok {
		raw = v
	}
	upper := strings.ToUpper(raw)
	upper = strings.TrimPrefix(upper, strings.ToUpper(m.ButtonPrefix)+"_")
	switch upper {
	case "FULL_DAYS":
		return ModeFullDays, true
	case "CUSTOM_HOURS":
		return ModeCustomHours, true
	}
	lower := strings.ToLower(raw)
	switch {
	case fullDaysRe.MatchString(lower):
		return ModeFullDays, true
	case customHoursRe.MatchString(lower):
		return ModeCustomHours, true
	}
	return "", false
}

// matchExact resolves a message that names a leave type outright.
func matchExact(msg string, leaveTypes []types.LeaveType) (types.LeaveType, bool) {
	text := flow.Clean(msg)
	for _, lt := range leaveTypes {
		if text != "" && text == flow.Clean(lt.Name) {
			return lt, true
		}
	}
	return types.LeaveType{}, false
}

// matchLeaveType tries the exact name, then the unique best word overlap,
// then a fuzzy match that only one name satisfies.
func matchLeaveType(msg string, leaveTypes []types.LeaveType) (types.LeaveType, bool) {
	if lt, ok := matchExact(msg, leaveTypes); ok {
		return lt, true
	}

	best, bestScore, tie := -1, 0, false
	for i, lt := range leaveTypes {
		score := textmatch.WordOverlap(msg, lt.Name)
		switch {
		case score > bestScore:
			best, bestScore, tie = i, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if best >= 0 && bestScore >= 2 && !tie {
		return leaveTypes[best], true
	}

	names := make([]string, len(leaveTypes))
	for i, lt := range leaveTypes {
		names[i] = lt.Name
	}
	if ranked := textmatch.Rank(msg, names); len(ranked) == 1 && len(flow.Clean(msg)) >= 3 {
		return leaveTypes[ranked[0]], true
	}
	return types.LeaveType{}, false
}

// ----------------------------------------------------------------------------
// Dates and hours
// ----------------------------------------------------------------------------

// parseRange reads a widget payload or typed dates.
func (t *turn) parseRange(msg string) (time.Time, time.Time, bool) {
	text := msg
	for _, key := range widgetPrefixes {
		if v, found := flow.Payload(msg, key); found {
			text = v
			break
		}
	}
	return t.f.dates.ParseRange(text)
}

func (t *turn) captureDates(ctx context.Context, msg string) (*types.Response, error) {
	for _, key := range widgetPrefixes {
		if v, found := flow.Payload(msg, key); found && v == "" {
			return t.datesPrompt(msgEmptyWidget), nil
		}
	}
	if !mentionsDates(msg) {
		return t.datesPrompt(msgSendBothDates), nil
	}

	start, end, ok := t.parseRange(msg)
	if !ok {
		if t.single() {
			return singlePrompt(t.thread(), msgBadSingleDate), nil
		}
		return rangePrompt(t.thread(), msgBadRange), nil
	}
	if t.single() && !start.Equal(end) {
		text := "Custom Hours are limited to one day. Please pick a single date."
		if !t.tc.Selected.IsHalfday() {
			text = t.label() + " " + text
		}
		return singlePrompt(t.thread(), text), nil
	}

	err := t.save(ctx, 0, &types.TimeOffContext{StartDate: dates.ISO(start), EndDate: dates.ISO(end)}, nil)
	if err != nil {
		return nil, err
	}
	prefix := summaryNoted
	if t.single() {
		prefix = summaryNotedSingle
	}
	return t.afterDates(ctx, prefix)
}

func (t *turn) datesPrompt(message string) *types.Response {
	if t.single() {
		return singlePrompt(t.thread(), message)
	}
	return rangePrompt(t.thread(), message)
}

// afterDates routes to whatever the request still lacks once dates are
// known: the supporting document, the hours, or the summary.
func (t *turn) afterDates(ctx context.Context, prefix string) (*types.Response, error) {
	if t.awaitingDocument() {
		err := t.save(ctx, StepDocument, nil, func(tc *types.TimeOffContext) { tc.DocumentRequired = true })
		if err != nil {
			return nil, err
		}
		return documentPrompt(t.thread(), msgDocumentNeeded, t.f.catalog.DocumentAccept), nil
	}
	if err := t.save(ctx, StepConfirmation, nil, nil); err != nil {
		return nil, err
	}
	if t.single() && !t.hasHours() {
		return hoursPrompt(t.thread(), msgChooseHours), nil
	}
	return t.summary(ctx, prefix, t.single()), nil
}

// captureHours stores an hour range for a single-day request, enforcing
// the policy cap.
func (t *turn) captureHours(ctx context.Context, from, to float64) (*types.Response, error) {
	limit := t.f.catalog.MaxCustomHours
	if limit > 0 && to-from > limit+1e-9 {
		return hoursPrompt(t.thread(), fmt.Sprintf(
			"Per %s policy, the maximum Half Day leave duration is %s hours. Please enter hours less than or equal to %s.",
			t.f.catalog.Company, trimFloat(limit), trimFloat(limit))), nil
	}
	patch := &types.TimeOffContext{HourFrom: dates.HourKey(from), HourTo: dates.HourKey(to)}
	if err := t.save(ctx, 0, patch, nil); err != nil {
		return nil, err
	}
	return t.summary(ctx, summaryHours, true), nil
}

func (t *turn) summary(ctx context.Context, prefix string, single bool) *types.Response {
	return summary(t.thread(), prefix, t.tc, single, t.req.Employee(), t.balance(ctx))
}

// balance describes what is left of the selected leave type's allowance.
// It is empty for unpaid leave, an unknown employee or a failed lookup.
func (t *turn) balance(ctx context.Context) string {
	emp := t.req.Employee()
	lt := t.tc.Selected
	if emp == nil || emp.ID == 0 || lt == nil || strings.EqualFold(lt.Name, unpaidLeave) {
		return ""
	}
	target := *lt
	if lt.IsHalfday() {
		target = types.LeaveType{ID: lt.BaseLeaveTypeID, Name: annualLeave}
	}
	bal, err := t.f.erp.LeaveBalance(ctx, emp.ID, target)
	if err != nil {
		t.f.log.Warn("leave balance lookup failed",
			zap.String("thread_id", t.thread()),
			zap.Int64("leave_type_id", target.ID),
			zap.Error(err))
		return ""
	}
	return fmt.Sprintf("Available %s: %s", bal.LeaveType, bal.Describe())
}

func parseHours(msg string) (float64, float64, bool) {
	if from, to, ok := dates.ParseHourPayload(msg); ok {
		return from, to, true
	}
	return dates.ParseHourRange(msg)
}

// mentionsDates reports text that could plausibly hold a date.
func mentionsDates(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.ContainsAny(lower, "0123456789") || dayWordRe.MatchString(lower) || strings.Contains(lower, "-")
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return strconv.Itoa(int(v))
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// ----------------------------------------------------------------------------
// Supporting document
// ----------------------------------------------------------------------------

func (t *turn) document(ctx context.Context, msg string) (*types.Response, error) {
	accept := t.f.catalog.DocumentAccept
	if textmatch.In(flow.Clean(msg), uploadAcks...) {
		if !t.tc.HasDocument() {
			return documentPrompt(t.thread(), msgNoDocumentYet, accept), nil
		}
		err := t.save(ctx, StepConfirmation, nil, func(tc *types.TimeOffContext) { tc.DocumentUploaded = true })
		if err != nil {
			return nil, err
		}
		return t.summary(ctx, summaryReady, t.single()), nil
	}
	if dates.LooksLikeDate(msg) {
		return t.captureDates(ctx, msg)
	}
	return documentPrompt(t.thread(), msgDocumentWaiting, accept), nil
}

// ----------------------------------------------------------------------------
// Confirmation and submission
// ----------------------------------------------------------------------------

// review handles anything but yes/no at the confirmation step: new hours,
// new dates, or a repeat of the summary.
func (t *turn) review(ctx context.Context, msg string) (*types.Response, error) {
	if t.single() {
		if from, to, ok := parseHours(msg); ok {
			return t.captureHours(ctx, from, to)
		}
	}
	if mentionsDates(msg) {
		if _, _, ok := t.parseRange(msg); ok {
			return t.captureDates(ctx, msg)
		}
	}
	if t.single() && !t.hasHours() {
		return hoursPrompt(t.thread(), msgBadHours), nil
	}
	return t.summary(ctx, summaryRepeat, t.single()), nil
}

// confirm submits only with a complete context; otherwise it sends the
// user back to the first step that is missing data.
func (t *turn) confirm(ctx context.Context) (*types.Response, error) {
	switch {
	case t.tc.Selected == nil:
		if err := t.save(ctx, StepLeaveType, nil, nil); err != nil {
			return nil, err
		}
		return leaveTypeReply(t.thread(), msgLostType, t.offered()), nil
	case t.modePending():
		m, _ := t.mode()
		if err := t.save(ctx, StepDates, nil, nil); err != nil {
			return nil, err
		}
		return modeReply(t.thread(), m), nil
	case !t.hasDates():
		if err := t.save(ctx, StepDates, nil, nil); err != nil {
			return nil, err
		}
		return t.datesPrompt(msgNeedBothDates), nil
	case t.awaitingDocument():
		if err := t.save(ctx, StepDocument, nil, func(tc *types.TimeOffContext) { tc.DocumentRequired = true }); err != nil {
			return nil, err
		}
		if t.tc.HasDocument() {
			return documentPrompt(t.thread(), msgDocumentWaiting, t.f.catalog.DocumentAccept), nil
		}
		return documentPrompt(t.thread(), msgDocAtSubmit, t.f.catalog.DocumentAccept), nil
	case t.single() && !t.hasHours():
		return hoursPrompt(t.thread(), msgChooseHours), nil
	}
	return t.submit(ctx)
}

func (t *turn) request() types.LeaveRequest {
	tc := t.tc
	req := types.LeaveRequest{
		EmployeeID:  t.s.EmployeeID(),
		LeaveTypeID: tc.Selected.ID,
		DateFrom:    tc.StartDate,
		DateTo:      tc.EndDate,
		Description: submitDescription,
	}
	if req.EmployeeID == 0 {
		req.EmployeeID = t.req.Identity.EmployeeID()
	}
	if tc.Selected.IsHalfday() {
		req.LeaveTypeID = tc.Selected.BaseLeaveTypeID
	}
	if t.single() {
		req.UnitHours = true
		req.DateTo = tc.StartDate
		if from, to, ok := hoursOf(tc); ok {
			req.HourFrom = dates.HourKey(from)
			req.HourTo = dates.HourKey(to)
			req.Hours = to - from
		}
	}
	for _, d := range tc.Documents {
		if d.Data != "" {
			req.Attachments = append(req.Attachments, d)
		}
	}
	return req
}

func (t *turn) submit(ctx context.Context) (*types.Response, error) {
	req := t.request()
	id, err := t.f.erp.SubmitLeave(ctx, req)
	if err != nil {
		t.f.log.Warn("leave submission failed",
			zap.String("thread_id", t.thread()),
			zap.Int64("employee_id", req.EmployeeID),
			zap.Error(err))
		t.f.sessions.Complete(ctx, t.thread(), types.Result{
			Submitted: false,
			Error:     err.Error(),
		})
		return flow.Replyf(t.thread(),
			"❌ **Submission Failed:** %s\n\nPlease try again later or contact your HR department for assistance.", err.Error()), nil
	}

	message := fmt.Sprintf("Leave request #%d submitted successfully and is pending approval.", id)
	t.f.sessions.Complete(ctx, t.thread(), types.Result{
		Submitted: true,
		RecordID:  id,
		Message:   message,
		Payload: map[string]any{
			"leave_type": t.tc.Selected.Name,
			"start_date": req.DateFrom,
			"end_date":   req.DateTo,
			"hours":      req.Hours,
		},
	})
	t.f.log.Info("leave request submitted",
		zap.String("thread_id", t.thread()),
		zap.Int64("leave_id", id))
	return flow.Replyf(t.thread(),
		"✅ **Success!** %s\n\nYour request is now pending approval from your manager. You should receive a notification once it's reviewed.", message), nil
}
