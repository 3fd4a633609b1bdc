// Package newuser onboards a batch of employees from an uploaded sheet.
// It is restricted to the departments listed in the catalog.
package newuser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// Steps.
const (
	StepUpload = 1
	StepReview = 2
)

var triggers = map[string]bool{
	"set up new users": true, "setup new users": true, "create new users": true, "new users": true,
	"set up new user": true, "setup new user": true, "set up a new user": true, "setup a new user": true,
	"create a new user": true, "create new user": true, "new user": true, "create employee": true,
	"add employee": true, "new joiner": true,
}

// ERP is the slice of the HR system the flow needs.
type ERP interface {
	FindEmployeesByName(ctx context.Context, name string) ([]types.EmployeeMatch, error)
	Company(ctx context.Context, name string) (types.Company, error)
	CreateEmployee(ctx context.Context, rec types.NewUserRecord) (int64, error)
}

// Agreements drafts a service agreement for a newly created employee and
// returns where the file can be downloaded.
type Agreements interface {
	ServiceAgreement(ctx context.Context, employee, street, company string) (types.Attachment, error)
}

// Flow implements flow.Flow for employee onboarding.
type Flow struct {
	sessions    *session.Manager
	erp         ERP
	agreements  Agreements
	departments []string
	companies   []string
	vocab       *flow.Vocabulary
	hasher      *utils.Hasher
	log         *zap.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithAgreements enables service agreement drafts for created employees.
func WithAgreements(a Agreements) Option {
	return func(f *Flow) {
		f.agreements = a
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

// New creates the onboarding flow.
func New(sessions *session.Manager, erp ERP, catalog *config.Catalog, opts ...Option) *Flow {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}
	f := &Flow{
		sessions:    sessions,
		erp:         erp,
		departments: catalog.NewUserDepartments,
		companies:   catalog.NewUserCompanies,
		vocab:       flow.NewVocabulary(catalog),
		hasher:      utils.DefaultHasher(),
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Type returns types.FlowNewUser.
func (f *Flow) Type() types.FlowType {
	return types.FlowNewUser
}

// DetectStart matches the onboarding phrases exactly.
func (f *Flow) DetectStart(message string) bool {
	return triggers[flow.Clean(message)]
}

// DetectContinuation accepts the widget actions and yes/no answers.
func (f *Flow) DetectContinuation(message string, _ *types.Session) bool {
	text := strings.ToLower(strings.TrimSpace(message))
	switch {
	case text == uploadValue, text == confirmValue, text == cancelValue:
		return true
	case strings.HasPrefix(text, assignPrefix):
		return true
	}
	return flow.IsConfirm(message) || flow.IsNo(message)
}

// Restart drops the caller's onboarding sessions and starts over.
func (f *Flow) Restart(ctx context.Context, req flow.Request, _ *types.Session) (*types.Response, error) {
	return flow.Restart(ctx, f.sessions, f, req)
}

// Allowed reports whether the caller's department may onboard employees.
func (f *Flow) Allowed(id types.Identity) bool {
	if id.Employee == nil {
		return false
	}
	dept := strings.TrimSpace(id.Employee.Department)
	for _, d := range f.departments {
		if strings.EqualFold(dept, strings.TrimSpace(d)) {
			return true
		}
	}
	return false
}

// Start opens the upload widget.
func (f *Flow) Start(ctx context.Context, req flow.Request) (*types.Response, error) {
	if !f.Allowed(req.Identity) {
		return flow.Reply(req.ThreadID, msgDenied), nil
	}
	if _, err := flow.Begin(ctx, f.sessions, req, types.FlowNewUser, types.Context{
		NewUser: &types.NewUserContext{},
	}); err != nil {
		return nil, err
	}
	return uploadPrompt(req.ThreadID, ""), nil
}

// Step handles the review actions.
func (f *Flow) Step(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	msg := req.Text()
	lower := strings.ToLower(msg)
	if lower == cancelValue || f.vocab.IsDecline(msg) {
		return flow.Cancelled(ctx, f.sessions, req.ThreadID, "user cancelled new user upload"), nil
	}

	nc := s.Context.NewUser
	if s.Step < StepReview || nc == nil || len(nc.Records) == 0 {
		if lower == uploadValue {
			return uploadPrompt(req.ThreadID, ""), nil
		}
		return uploadPrompt(req.ThreadID, msgUploadFirst), nil
	}

	switch {
	case strings.HasPrefix(lower, assignPrefix):
		return f.assignCompany(ctx, req.ThreadID, msg[len(assignPrefix):], nc)
	case lower == confirmValue || flow.IsConfirm(msg):
		return f.create(ctx, req.ThreadID, nc)
	case lower == uploadValue:
		return uploadPrompt(req.ThreadID, ""), nil
	default:
		return review(req.ThreadID, "", nc, f.companies), nil
	}
}

// LoadSheet parses an uploaded sheet into the thread's onboarding
// session, flagging names that already exist in the ERP. A session is
// opened when the upload arrives without one.
func (f *Flow) LoadSheet(ctx context.Context, req flow.Request, filename string, data []byte) (*types.Response, error) {
	if !f.Allowed(req.Identity) {
		return flow.Reply(req.ThreadID, msgDenied), nil
	}
	s, ok := f.sessions.GetActive(ctx, req.ThreadID)
	if ok && s.FlowType != types.FlowNewUser {
		return flow.Busy(req.ThreadID, s.FlowType, types.FlowNewUser), nil
	}
	if !ok {
		if _, err := flow.Begin(ctx, f.sessions, req, types.FlowNewUser, types.Context{
			NewUser: &types.NewUserContext{},
		}); err != nil {
			return nil, err
		}
	}

	checksum := f.hasher.Fingerprint(req.ThreadID, data)
	if ok && s.Context.NewUser != nil && s.Context.NewUser.Checksum == checksum && len(s.Context.NewUser.Records) > 0 {
		return review(req.ThreadID, "This sheet is already loaded.", s.Context.NewUser, f.companies), nil
	}

	records, err := ParseSheet(data)
	if err != nil {
		f.log.Info("rejected onboarding sheet",
			zap.String("thread_id", req.ThreadID),
			zap.String("file", filename),
			zap.Error(err))
		return uploadPrompt(req.ThreadID, err.Error()), nil
	}
	f.flagDuplicates(ctx, records)

	nc := &types.NewUserContext{SheetName: filename, Checksum: checksum, Records: records}
	ok = f.sessions.Update(ctx, req.ThreadID, session.Patch{
		Step: StepReview,
		Mutate: func(s *types.Session) {
			if s.Step == StepReview && len(s.CompletedSteps) == 0 {
				s.CompletedSteps = append(s.CompletedSteps, StepUpload)
			}
			s.Context.NewUser = nc
		},
	})
	if !ok {
		return nil, flow.ErrSessionLost
	}
	f.log.Info("onboarding sheet loaded",
		zap.String("thread_id", req.ThreadID),
		zap.String("file", filename),
		zap.Int("rows", len(records)))
	return review(req.ThreadID, "", nc, f.companies), nil
}

func (f *Flow) flagDuplicates(ctx context.Context, records []types.NewUserRecord) {
	for i := range records {
		name := strings.TrimSpace(records[i].Name())
		if name == "" {
			continue
		}
		matches, err := f.erp.FindEmployeesByName(ctx, name)
		if err != nil {
			f.log.Warn("duplicate check failed", zap.String("name", name), zap.Error(err))
			continue
		}
		if len(matches) > 0 {
			records[i].Duplicate = true
			records[i].Error = "Duplicate name"
		}
	}
}

// assignCompany handles "assign_company:{index}:{label}", index being the
// 0-based row of the batch.
func (f *Flow) assignCompany(ctx context.Context, threadID, arg string, nc *types.NewUserContext) (*types.Response, error) {
	rawIndex, label, _ := strings.Cut(arg, ":")
	index, err := strconv.Atoi(strings.TrimSpace(rawIndex))
	if err != nil || index < 0 || index >= len(nc.Records) {
		return review(threadID, "Invalid user index", nc, f.companies), nil
	}
	canonical, ok := f.canonicalCompany(label)
	if !ok {
		return review(threadID, "Unknown company selected", nc, f.companies), nil
	}
	company, err := f.erp.Company(ctx, canonical)
	if err != nil || company.ID == 0 {
		f.log.Warn("company lookup failed", zap.String("company", canonical), zap.Error(err))
		return review(threadID, fmt.Sprintf("Company '%s' not found in Odoo", canonical), nc, f.companies), nil
	}

	var updated *types.NewUserContext
	ok = f.sessions.Update(ctx, threadID, session.Patch{
		Mutate: func(s *types.Session) {
			if s.Context.NewUser == nil || index >= len(s.Context.NewUser.Records) {
				return
			}
			rec := &s.Context.NewUser.Records[index]
			rec.CompanyID = company.ID
			rec.CompanyName = canonical
			updated = s.Context.NewUser
		},
	})
	if !ok || updated == nil {
		return nil, flow.ErrSessionLost
	}
	lead := fmt.Sprintf("✅ %s will be created in %s.", nameOr(updated.Records[index]), canonical)
	return review(threadID, lead, updated, f.companies), nil
}

func (f *Flow) canonicalCompany(label string) (string, bool) {
	want := normalizeCompany(label)
	for _, c := range f.companies {
		if normalizeCompany(c) == want {
			return c, true
		}
	}
	return "", false
}

func normalizeCompany(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// create submits every non-duplicate row. All rows must carry a company.
func (f *Flow) create(ctx context.Context, threadID string, nc *types.NewUserContext) (*types.Response, error) {
	var valid, skipped []types.NewUserRecord
	for _, rec := range nc.Records {
		if rec.Duplicate {
			skipped = append(skipped, rec)
		} else {
			valid = append(valid, rec)
		}
	}
	if len(valid) == 0 {
		if len(skipped) == 0 {
			return flow.Reply(threadID, msgNothingToAdd), nil
		}
		names := make([]string, 0, len(skipped))
		for _, rec := range skipped {
			names = append(names, nameOr(rec))
		}
		return flow.Replyf(threadID,
			"❌ Cannot create users. All names are duplicates: %s\n\nPlease fix the duplicate names and try again.",
			strings.Join(names, ", ")), nil
	}

	var missing []string
	for _, rec := range valid {
		if rec.CompanyID == 0 {
			missing = append(missing, nameOr(rec))
		}
	}
	if len(missing) > 0 {
		return review(threadID, fmt.Sprintf(
			"❌ Cannot create users: company is required for all users.\nMissing company for: %s\n\nPlease assign a company to each user (use 'Assign company').",
			strings.Join(missing, ", ")), nc, f.companies), nil
	}

	var (
		lines       []string
		created     []int64
		failed      []string
		attachments []types.Attachment
	)
	if len(skipped) > 0 {
		lines = append(lines, "⚠️ **Skipped duplicate names:**")
		for _, rec := range skipped {
			lines = append(lines, fmt.Sprintf("   ❌ %s (already exists in Odoo)", nameOr(rec)))
		}
		lines = append(lines, "")
	}
	var failures []string
	for _, rec := range valid {
		name := nameOr(rec)
		id, err := f.erp.CreateEmployee(ctx, rec)
		if err != nil {
			f.log.Warn("employee creation failed", zap.String("thread_id", threadID), zap.String("name", name), zap.Error(err))
			failed = append(failed, name)
			failures = append(failures, fmt.Sprintf("❌ Failed to add %s: %s", name, err.Error()))
			continue
		}
		created = append(created, id)
		lines = append(lines, fmt.Sprintf("🎉 %s has been added to the Prezlab family!", name))
		if f.agreements != nil {
			doc, err := f.agreements.ServiceAgreement(ctx, name, rec.Fields["private_street"], rec.CompanyName)
			if err != nil {
				f.log.Warn("service agreement draft failed", zap.String("name", name), zap.Error(err))
			} else {
				attachments = append(attachments, doc)
			}
		}
	}
	lines = append(lines, failures...)

	message := strings.Join(lines, "\n")
	result := types.Result{
		Submitted: len(created) > 0,
		Message:   message,
		Payload: map[string]any{
			"created": created,
			"failed":  failed,
			"skipped": len(skipped),
		},
	}
	if len(created) > 0 {
		result.RecordID = created[0]
	}
	if len(created) == 0 {
		result.Error = strings.Join(failures, "\n")
	}
	f.sessions.Complete(ctx, threadID, result)
	f.log.Info("onboarding batch processed",
		zap.String("thread_id", threadID),
		zap.Int("created", len(created)),
		zap.Int("failed", len(failed)),
		zap.Int("skipped", len(skipped)))

	resp := flow.Reply(threadID, message)
	if len(attachments) > 0 {
		resp.WithWidget(agreementsKey, attachments)
	}
	return resp, nil
}

var _ flow.Flow = (*Flow)(nil)
