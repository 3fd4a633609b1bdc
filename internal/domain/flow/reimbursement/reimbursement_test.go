package reimbursement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const thread = "thread-reimbursement"

type fakeERP struct {
	statesErr error
	submitErr error
	claims    []types.ExpenseClaim
}

func (e *fakeERP) CountryStates(context.Context) ([]types.Option, error) {
	if e.statesErr != nil {
		return nil, e.statesErr
	}
	return []types.Option{{Value: "11", Label: "Dubai"}, {Value: "12", Label: "Amman"}}, nil
}

func (e *fakeERP) SubmitExpense(_ context.Context, claim types.ExpenseClaim) (int64, error) {
	if e.submitErr != nil {
		return 0, e.submitErr
	}
	e.claims = append(e.claims, claim)
	return 77, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	sessions *session.Manager
	erp      *fakeERP
	flow     *Flow
	identity types.Identity
}

func newHarness(t *testing.T, erp *fakeERP) *harness {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	mgr := session.NewManager(store, session.WithTTL(time.Hour))
	parser := dates.NewParser(time.UTC).WithClock(func() time.Time {
		return time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)
	})
	return &harness{
		t:        t,
		ctx:      context.Background(),
		sessions: mgr,
		erp:      erp,
		flow:     New(mgr, erp, nil, WithDateParser(parser)),
		identity: types.Identity{Employee: &types.Employee{ID: 42, Name: "Yara Mansour", CompanyID: 2}},
	}
}

func (h *harness) request(msg string) flow.Request {
	return flow.Request{ThreadID: thread, Message: msg, Identity: h.identity}
}

func (h *harness) start(msg string) *types.Response {
	h.t.Helper()
	resp, err := h.flow.Start(h.ctx, h.request(msg))
	require.NoError(h.t, err)
	return resp
}

func (h *harness) send(msg string) *types.Response {
	h.t.Helper()
	s, ok := h.sessions.GetActive(h.ctx, thread)
	require.True(h.t, ok, "no open session before %q", msg)
	resp, err := h.flow.Step(h.ctx, h.request(msg), s)
	require.NoError(h.t, err)
	require.NotNil(h.t, resp)
	return resp
}

func (h *harness) session() *types.Session {
	h.t.Helper()
	s, ok := h.sessions.Get(h.ctx, thread)
	require.True(h.t, ok)
	return s
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		message  string
		detected bool
		category string
	}{
		{"I want to request a reimbursement", true, ""},
		{"I need to submit an expense report for the client dinner", true, ""},
		{"can I get reimbursed for a hotel", true, types.ExpenseTravel},
		{"per diem reimbursement please", true, types.ExpensePerDiem},
		{"I need leave on 20/10", false, ""},
		{"book a hotel for the offsite", false, ""},
		{"what's the weather like", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := DetectIntent(tt.message)
			assert.Equal(t, tt.detected, got.Detected(), "confidence %.2f", got.Confidence)
			assert.Equal(t, tt.category, got.Category)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"$45.50", 45.5, true},
		{"120 JOD", 120, true},
		{"1,250.75", 1250.75, true},
		{"about 30 for the taxi", 30, true},
		{"none", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseAmount(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestMiscellaneousClaim(t *testing.T) {
	h := newHarness(t, &fakeERP{})

	resp := h.start("I want to request a reimbursement")
	assert.Equal(t, msgStart, resp.Message)
	require.Len(t, resp.Buttons, 3)
	assert.Equal(t, types.ExpenseMiscellaneous, resp.Buttons[0].Value)

	assert.Equal(t, msgBadCategory, h.send("groceries").Message)
	assert.Equal(t, msgMiscAmount, h.send("miscellaneous").Message)
	assert.Equal(t, msgBadMiscAmount, h.send("lots").Message)

	resp = h.send("$45.50")
	assert.Equal(t, msgPickDate, resp.Message)
	assert.Equal(t, true, resp.Widgets[flow.WidgetSingleDate])

	resp = h.send("reimbursement_expense_date=12/10/2025 to 12/10/2025")
	assert.Equal(t, msgAdditions, resp.Message)
	require.Len(t, resp.Buttons, 3)

	assert.Equal(t, msgAskDescription, h.send(addDescription).Message)
	assert.Equal(t, msgAdditions, h.send("Team lunch with client").Message)
	assert.Equal(t, msgAskLink, h.send(addLink).Message)
	assert.Equal(t, msgBadLink, h.send("receipt.pdf").Message)
	assert.Equal(t, msgAdditions, h.send("https://drive.example.com/r/1").Message)

	resp = h.send(addNext)
	assert.Contains(t, resp.Message, "📂 **Category:** [EXP_GEN] Miscellaneous")
	assert.Contains(t, resp.Message, "📝 **Description:** Team lunch with client")
	assert.Contains(t, resp.Message, "💰 **Amount:** $45.50")
	assert.Contains(t, resp.Message, "📅 **Date:** 12/10/2025")
	assert.Contains(t, resp.Message, "🔗 **Receipt Link:** https://drive.example.com/r/1")
	assert.Equal(t, StepConfirmation, h.session().Step)

	resp = h.send(confirmSubmit)
	assert.Equal(t, "✅ Your reimbursement request has been submitted successfully! Expense ID: 77", resp.Message)

	require.Len(t, h.erp.claims, 1)
	assert.Equal(t, types.ExpenseClaim{
		EmployeeID:   42,
		CompanyID:    2,
		Category:     types.ExpenseMiscellaneous,
		Amount:       45.5,
		Date:         "2025-10-12",
		Description:  "Team lunch with client",
		AttachedLink: "https://drive.example.com/r/1",
	}, h.erp.claims[0])

	s := h.session()
	assert.Equal(t, types.StateCompleted, s.State)
	assert.Equal(t, []int{StepCategory, StepDetails, StepAdditions}, s.CompletedSteps)
}

func TestTravelClaimIsDatedToday(t *testing.T) {
	h := newHarness(t, &fakeERP{})

	resp := h.start("I need a reimbursement for my flight")
	assert.Equal(t, msgTravelAmount, resp.Message)
	assert.Equal(t, StepDetails, h.session().Step)

	assert.Equal(t, msgAdditions, h.send("150").Message)

	resp = h.send("next")
	assert.Contains(t, resp.Message, "📝 **Description:** [TRANS & ACC] Travel & Accommodation")
	assert.Contains(t, resp.Message, "💰 **Amount:** $150.00")
	assert.Contains(t, resp.Message, "📅 **Date:** 15/10/2025")
	assert.Contains(t, resp.Message, "🔗 **Receipt Link:** None")

	resp = h.send("yes")
	assert.Equal(t, "✅ Your Travel & Accommodation request has been submitted! Expense ID: 77", resp.Message)
	require.Len(t, h.erp.claims, 1)
	assert.Equal(t, "2025-10-15", h.erp.claims[0].Date)
}

func TestPerDiemClaim(t *testing.T) {
	h := newHarness(t, &fakeERP{})
	h.start("I want to request a reimbursement")

	resp := h.send("per diem")
	assert.Equal(t, msgPickRange, resp.Message)
	assert.Equal(t, true, resp.Widgets[flow.WidgetDateRange])

	assert.Equal(t, msgBadRange, h.send("someday").Message)

	resp = h.send("per_diem_date_range=20/10/2025 to 22/10/2025")
	assert.Equal(t, msgPickDestination, resp.Message)
	assert.Equal(t, destinationKey, resp.Widgets["context_key"])

	assert.Equal(t, msgBadDestination, h.send("per_diem_destination=abc").Message)
	assert.Equal(t, msgAdditions, h.send("per_diem_destination=11").Message)

	resp = h.send("next")
	assert.Contains(t, resp.Message, "📝 **Description:** [PER_DIEM] Per Diem flow")
	assert.Contains(t, resp.Message, "📅 **From:** 20/10/2025")
	assert.Contains(t, resp.Message, "📅 **To:** 22/10/2025")
	assert.Contains(t, resp.Message, "🗺️ **Destination:** Dubai")

	resp = h.send("yes")
	assert.Equal(t, "✅ Your [PER_DIEM] request has been submitted! Expense ID: 77", resp.Message)

	require.Len(t, h.erp.claims, 1)
	claim := h.erp.claims[0]
	assert.Equal(t, "2025-10-20", claim.DateFrom)
	assert.Equal(t, "2025-10-22", claim.DateTo)
	assert.Equal(t, 3, claim.DaysAbroad)
	assert.Equal(t, int64(11), claim.DestinationID)
	assert.Equal(t, "[PER_DIEM] Per Diem", claim.Description)
}

func TestPerDiemSingleDayAndTypedDestination(t *testing.T) {
	h := newHarness(t, &fakeERP{statesErr: errors.New("states unavailable")})
	h.start("I want to request a reimbursement")
	h.send("per_diem")

	resp := h.send("20/10/2025")
	assert.Equal(t, msgTypeDestination, resp.Message)

	assert.Equal(t, msgAdditions, h.send("Riyadh").Message)

	rc := h.session().Context.Reimbursement
	assert.Equal(t, "2025-10-20", rc.PerDiemFrom)
	assert.Equal(t, "2025-10-21", rc.PerDiemTo)
	assert.Equal(t, "Riyadh", rc.DestinationName)
	assert.Zero(t, rc.DestinationID)
}

func TestSubmissionFailure(t *testing.T) {
	h := newHarness(t, &fakeERP{submitErr: errors.New("expense product EXP_GEN not found")})
	h.start("I want to request a reimbursement")
	h.send("misc")
	h.send("20")
	h.send("14/10/2025")
	h.send("support_next")

	resp := h.send("confirm")
	assert.Equal(t, "❌ There was an error submitting your reimbursement request: expense product EXP_GEN not found", resp.Message)
	s := h.session()
	assert.Equal(t, types.StateCompleted, s.State)
	require.NotNil(t, s.Result)
	assert.False(t, s.Result.Submitted)
	assert.Equal(t, "expense product EXP_GEN not found", s.Result.Error)
}

func TestCancelAtConfirmation(t *testing.T) {
	h := newHarness(t, &fakeERP{})
	h.start("I need a reimbursement for my flight")
	h.send("150")
	h.send("next")

	resp := h.send(cancelSubmit)
	assert.Equal(t, flow.CancelAck, resp.Message)
	assert.Equal(t, types.StateCancelled, h.session().State)
	assert.Empty(t, h.erp.claims)
}

func TestStartWithoutEmployee(t *testing.T) {
	h := newHarness(t, &fakeERP{})
	h.identity = types.Identity{}

	resp := h.start("I want to request a reimbursement")
	assert.Contains(t, resp.Message, "verify your employee information")
	_, ok := h.sessions.Get(h.ctx, thread)
	assert.False(t, ok)
}

func TestDetectContinuation(t *testing.T) {
	f := New(nil, nil, nil)
	amount := &types.Session{Context: types.Context{Reimbursement: &types.ReimbursementContext{Stage: stageAmount}}}
	link := &types.Session{Context: types.Context{Reimbursement: &types.ReimbursementContext{Stage: stageAddLink}}}

	assert.True(t, f.DetectContinuation("per_diem_destination=11", amount))
	assert.True(t, f.DetectContinuation("support_next", amount))
	assert.True(t, f.DetectContinuation("travel", amount))
	assert.True(t, f.DetectContinuation("$30", amount))
	assert.True(t, f.DetectContinuation("https://drive.example.com", link))
	assert.False(t, f.DetectContinuation("what's the overtime policy", amount))
}
