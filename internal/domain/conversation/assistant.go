package conversation

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/collaborators/llm"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// SystemPrompt sets the assistant's voice.
const SystemPrompt = `You are Nasma, a helpful, precise assistant for PrezLab.

When providing information about company policies, procedures, or guidelines, always give comprehensive, detailed explanations. Break down complex topics into clear sections and provide specific details, examples, and step-by-step processes when applicable.

For policy-related questions, include:
- Complete policy details and requirements
- Specific procedures and processes
- Applicable rates, calculations, or formulas
- Country-specific variations (Jordan, UAE, KSA)
- Approval processes and workflows
- Examples and scenarios when helpful

Be thorough and informative while maintaining clarity and accuracy.`

const (
	defaultRecent       = 20
	defaultSummaryLimit = 8000
)

// Replier produces model answers.
type Replier interface {
	Reply(ctx context.Context, p llm.Prompt) (string, error)
}

// Assistant answers free-form questions with the employee's facts and the
// thread's history in context.
type Assistant struct {
	model        Replier
	history      *History
	recent       int
	summaryLimit int
	log          *zap.Logger
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithRecent sets how many history messages are sent verbatim.
func WithRecent(n int) AssistantOption {
	return func(a *Assistant) {
		if n > 0 {
			a.recent = n
		}
	}
}

// WithSummaryLimit bounds the condensed older history.
func WithSummaryLimit(n int) AssistantOption {
	return func(a *Assistant) {
		if n > 0 {
			a.summaryLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) AssistantOption {
	return func(a *Assistant) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAssistant creates an assistant. history may be nil, in which case
// every turn is answered without memory.
func NewAssistant(model Replier, history *History, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		model:        model,
		history:      history,
		recent:       defaultRecent,
		summaryLimit: defaultSummaryLimit,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reply answers req and records the exchange in the thread's history.
func (a *Assistant) Reply(ctx context.Context, req flow.Request) (*types.Response, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, errors.New("empty message")
	}

	p := llm.Prompt{
		System:  SystemPrompt,
		Facts:   Facts(req.Identity.Employee),
		Message: msg,
	}
	if a.history != nil {
		all, err := a.history.Load(ctx, req.ThreadID)
		if err != nil {
			a.log.Warn("failed to load history", zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
		older, recent := Split(all, a.recent)
		p.History = recent
		p.Summary = Condense(older, a.summaryLimit)
	}

	text, err := a.model.Reply(ctx, p)
	if err != nil {
		return nil, err
	}

	if a.history != nil {
		if err := a.history.Append(ctx, req.ThreadID,
			llm.ChatMessage{Role: llm.RoleUser, Content: msg},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: text},
		); err != nil {
			a.log.Warn("failed to save history", zap.String("thread_id", req.ThreadID), zap.Error(err))
		}
	}
	return &types.Response{Message: text, ThreadID: req.ThreadID, Source: "assistant"}, nil
}

// Facts lists what the model may know about the employee.
func Facts(e *types.Employee) []llm.Fact {
	if e == nil || e.ID == 0 && e.Name == "" {
		return nil
	}
	company := e.CompanyName
	if company == "" {
		company = "Prezlab"
	}
	return []llm.Fact{
		{Label: "Name", Value: e.Name},
		{Label: "Job Title", Value: e.JobTitle},
		{Label: "Department", Value: e.Department},
		{Label: "Manager", Value: e.Manager},
		{Label: "Time Zone", Value: e.TimeZone},
		{Label: "Company", Value: company},
	}
}
