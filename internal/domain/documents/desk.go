// Package documents answers requests for HR letters: employment,
// experience and embassy letters generated from the employee's profile.
package documents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/collaborators/docgen"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Widget keys and button values the chat client sends back.
const (
	keyCountry = "embassy_country"
	keyDates   = "embassy_date_range"

	cmdEmploymentOptions = "employment_letter_options"
	cmdEmploymentEN      = "generate_employment_letter_en"
	cmdEmploymentAR      = "generate_employment_letter_ar"
	cmdExperience        = "generate_experience_letter"
	cmdEmbassy           = "embassy_letter"

	buttonType = "action_document"
)

const (
	msgPicker         = "Which document would you like to generate?"
	msgVersion        = "Which version of the Employment Letter would you like?"
	msgCountry        = "Which country will you be visiting?"
	msgDates          = "Please select your travel dates."
	msgBadDates       = "Please provide a full date range in the format DD/MM/YYYY to DD/MM/YYYY."
	msgReady          = "Your %s is ready.\n\nPlease double-check the document, I'm fast, but not always perfect."
	msgFailed         = "Error generating %s: %s"
	msgVerify         = "I need to verify your employee information before I can prepare HR letters. Please try logging out and logging back in, or contact HR for assistance."
	countryHint       = "Select a country"
	defaultPendingTTL = 15 * time.Minute
)

// ErrNotDocumentRequest is returned by Handle for messages Match rejects.
var ErrNotDocumentRequest = errors.New("not a document request")

// Generator renders documents.
type Generator interface {
	Generate(ctx context.Context, kind docgen.Kind, fields docgen.Fields) (docgen.Document, error)
}

// Recorder observes generated documents.
type Recorder interface {
	DocumentGenerated(kind string, err error)
}

// embassyDraft is an embassy letter waiting for its country or dates.
type embassyDraft struct {
	country string
	expires time.Time
}

// Desk handles document requests. Embassy letters need a country and
// travel dates; while those are collected the draft is kept per thread
// for a short time.
type Desk struct {
	gen      Generator
	dates    *dates.Parser
	now      func() time.Time
	ttl      time.Duration
	recorder Recorder
	log      *zap.Logger

	mu     sync.Mutex
	drafts map[string]embassyDraft
}

// Option configures a Desk.
type Option func(*Desk)

// WithParser sets the date parser used for typed travel dates.
func WithParser(p *dates.Parser) Option {
	return func(d *Desk) {
		if p != nil {
			d.dates = p
		}
	}
}

// WithClock overrides time.Now for draft expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Desk) {
		d.now = now
	}
}

// WithTTL sets how long an unfinished embassy letter is remembered.
func WithTTL(ttl time.Duration) Option {
	return func(d *Desk) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithRecorder sets the generation observer.
func WithRecorder(r Recorder) Option {
	return func(d *Desk) {
		d.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Desk) {
		if log != nil {
			d.log = log
		}
	}
}

// New creates a desk backed by gen.
func New(gen Generator, opts ...Option) *Desk {
	d := &Desk{
		gen:    gen,
		dates:  dates.NewParser(time.UTC),
		now:    time.Now,
		ttl:    defaultPendingTTL,
		log:    zap.NewNop(),
		drafts: make(map[string]embassyDraft),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Match reports whether the desk should answer req: document buttons and
// widget answers, replies to an unfinished embassy letter, and messages
// that read as a document request.
func (d *Desk) Match(req flow.Request) bool {
	msg := req.Text()
	if msg == "" {
		return false
	}
	if isCommand(msg) {
		return true
	}
	if draft, ok := d.draft(req.ThreadID); ok {
		// Off-topic messages while dates are pending go to the assistant.
		if draft.country == "" || flow.IsNo(msg) || dates.LooksLikeDate(msg) {
			return true
		}
		if _, _, ok := d.dates.ParseRange(msg); ok {
			return true
		}
	}
	return Detect(msg).Intent != IntentNone
}

// Reset forgets any unfinished embassy letter on the thread.
func (d *Desk) Reset(threadID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, threadID)
}

// Handle answers a message Match accepted.
func (d *Desk) Handle(ctx context.Context, req flow.Request) (*types.Response, error) {
	thread := req.ThreadID
	msg := req.Text()

	if v, ok := flow.Payload(msg, keyCountry); ok {
		return d.countryChosen(req, v), nil
	}
	if v, ok := flow.Payload(msg, keyDates); ok {
		return d.datesChosen(ctx, req, v), nil
	}

	switch command(msg) {
	case cmdEmploymentOptions:
		return versionPicker(thread), nil
	case cmdEmploymentEN:
		return d.letter(ctx, req, docgen.EmploymentLetter, docgen.Fields{docgen.FieldLanguage: "en"}), nil
	case cmdEmploymentAR:
		return d.letter(ctx, req, docgen.EmploymentLetter, docgen.Fields{docgen.FieldLanguage: "ar"}), nil
	case cmdExperience:
		return d.letter(ctx, req, docgen.ExperienceLetter, nil), nil
	case cmdEmbassy:
		return d.startEmbassy(ctx, req, ""), nil
	}

	if draft, ok := d.draft(thread); ok {
		if flow.IsNo(msg) {
			d.Reset(thread)
			return flow.Reply(thread, flow.CancelAck), nil
		}
		if draft.country == "" {
			return d.countryChosen(req, msg), nil
		}
		return d.datesChosen(ctx, req, msg), nil
	}

	det := Detect(msg)
	switch det.Intent {
	case IntentEmployment:
		return d.letter(ctx, req, docgen.EmploymentLetter, docgen.Fields{docgen.FieldLanguage: det.Language}), nil
	case IntentExperience:
		return d.letter(ctx, req, docgen.ExperienceLetter, nil), nil
	case IntentEmbassy:
		return d.startEmbassy(ctx, req, msg), nil
	case IntentPicker:
		return documentPicker(thread), nil
	}
	return nil, ErrNotDocumentRequest
}

// startEmbassy opens an embassy letter, taking the country and dates from
// the message when it already names them.
func (d *Desk) startEmbassy(ctx context.Context, req flow.Request, msg string) *types.Response {
	country, _ := FindCountry(msg)
	if country != "" && dates.LooksLikeDate(msg) {
		if start, end, ok := d.dates.ParseRange(msg); ok {
			d.Reset(req.ThreadID)
			return d.embassyLetter(ctx, req, country, start, end)
		}
	}
	d.remember(req.ThreadID, country)
	if country != "" {
		return datesPrompt(req.ThreadID, msgDates)
	}
	return countryPrompt(req.ThreadID)
}

func (d *Desk) countryChosen(req flow.Request, raw string) *types.Response {
	country := NormalizeCountry(raw)
	if country == "" {
		return countryPrompt(req.ThreadID)
	}
	d.remember(req.ThreadID, country)
	return datesPrompt(req.ThreadID, msgDates)
}

func (d *Desk) datesChosen(ctx context.Context, req flow.Request, raw string) *types.Response {
	draft, _ := d.draft(req.ThreadID)
	start, end, ok := d.dates.ParseRange(raw)
	if !ok {
		if draft.country == "" {
			d.remember(req.ThreadID, "")
		}
		return datesPrompt(req.ThreadID, msgBadDates)
	}
	if draft.country == "" {
		d.remember(req.ThreadID, "")
		return countryPrompt(req.ThreadID)
	}
	d.Reset(req.ThreadID)
	return d.embassyLetter(ctx, req, draft.country, start, end)
}

func (d *Desk) embassyLetter(ctx context.Context, req flow.Request, country string, start, end time.Time) *types.Response {
	return d.letter(ctx, req, docgen.EmbassyLetter, docgen.Fields{
		docgen.FieldCountry:   country,
		docgen.FieldStartDate: dates.Display(start),
		docgen.FieldEndDate:   dates.Display(end),
	})
}

// letter generates kind for the caller, merging their profile into extra.
func (d *Desk) letter(ctx context.Context, req flow.Request, kind docgen.Kind, extra docgen.Fields) *types.Response {
	emp := req.Employee()
	if emp == nil || emp.Name == "" {
		return flow.Reply(req.ThreadID, msgVerify)
	}

	fields := docgen.Fields{
		docgen.FieldName:       emp.Name,
		docgen.FieldPosition:   emp.JobTitle,
		docgen.FieldDepartment: emp.Department,
		docgen.FieldCompany:    emp.CompanyName,
	}
	for k, v := range extra {
		if v != "" {
			fields[k] = v
		}
	}

	doc, err := d.gen.Generate(ctx, kind, fields)
	if d.recorder != nil {
		d.recorder.DocumentGenerated(string(kind), err)
	}
	if err != nil {
		d.log.Warn("document generation failed",
			zap.String("thread_id", req.ThreadID),
			zap.String("kind", string(kind)),
			zap.Int64("employee_id", emp.ID),
			zap.Error(err))
		return flow.Replyf(req.ThreadID, msgFailed, kind.Label(), err.Error())
	}

	d.log.Info("document delivered",
		zap.String("thread_id", req.ThreadID),
		zap.String("kind", string(kind)),
		zap.Int64("employee_id", emp.ID))
	resp := flow.Replyf(req.ThreadID, msgReady, label(kind, fields[docgen.FieldLanguage]))
	resp.Attachments = []types.DocumentLink{doc.Link()}
	return resp
}

func (d *Desk) remember(threadID, country string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drafts[threadID] = embassyDraft{country: country, expires: d.now().Add(d.ttl)}
}

func (d *Desk) draft(threadID string) (embassyDraft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.drafts[threadID]
	if !ok {
		return embassyDraft{}, false
	}
	if !d.now().Before(draft.expires) {
		delete(d.drafts, threadID)
		return embassyDraft{}, false
	}
	return draft, true
}

func label(kind docgen.Kind, lang string) string {
	switch {
	case kind == docgen.EmbassyLetter:
		return "embassy employment letter"
	case kind == docgen.EmploymentLetter && lang == "ar":
		return "Arabic Employment Letter"
	default:
		return kind.Label()
	}
}

func isCommand(msg string) bool {
	if _, ok := flow.Payload(msg, keyCountry); ok {
		return true
	}
	if _, ok := flow.Payload(msg, keyDates); ok {
		return true
	}
	switch command(msg) {
	case cmdEmploymentOptions, cmdEmploymentEN, cmdEmploymentAR, cmdExperience, cmdEmbassy:
		return true
	}
	return false
}

// command normalizes a button value; Clean would split it on underscores.
func command(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

func documentPicker(threadID string) *types.Response {
	return flow.Reply(threadID, msgPicker).WithButtons(
		types.Button{Text: "Employment letter", Value: cmdEmploymentOptions, Type: buttonType},
		types.Button{Text: "Embassy employment letter", Value: cmdEmbassy, Type: buttonType},
		types.Button{Text: "Experience letter", Value: cmdExperience, Type: buttonType},
	)
}

func versionPicker(threadID string) *types.Response {
	return flow.Reply(threadID, msgVersion).WithButtons(
		types.Button{Text: "Employment letter (English)", Value: cmdEmploymentEN, Type: buttonType},
		types.Button{Text: "Employment letter (Arabic)", Value: cmdEmploymentAR, Type: buttonType},
	)
}

func countryPrompt(threadID string) *types.Response {
	return flow.Dropdown(flow.Reply(threadID, msgCountry), keyCountry, countryHint, countryOptions())
}

func datesPrompt(threadID, message string) *types.Response {
	return flow.DateRangePicker(flow.Reply(threadID, message), keyDates)
}
