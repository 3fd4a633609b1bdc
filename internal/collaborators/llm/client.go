// Package llm talks to an OpenAI compatible chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/infrastructure/resilience"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("llm: api key not configured")
	// ErrEmptyReply is returned when the model answers with no text.
	ErrEmptyReply = errors.New("llm: empty reply")
)

const plainTextGuard = "Reply in plain text only. If any part seems unsafe or unclear, provide a brief safe explanation instead of returning nothing."

const maxTokens = 2000

// Role values used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fact is a labelled piece of context about the person chatting.
type Fact struct {
	Label string
	Value string
}

// Prompt is everything the model sees for one reply.
type Prompt struct {
	System  string
	Facts   []Fact
	Summary string
	History []ChatMessage
	Message string
}

// Messages renders the prompt in chat completion order: system rules,
// facts, condensed earlier history, recent history, then the message.
func (p Prompt) Messages() []ChatMessage {
	msgs := make([]ChatMessage, 0, len(p.History)+4)
	if p.System != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: p.System})
	}
	if len(p.Facts) > 0 {
		lines := []string{"Facts:"}
		for _, f := range p.Facts {
			value := f.Value
			if value == "" {
				value = "Unknown"
			}
			lines = append(lines, f.Label+": "+value)
		}
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: strings.Join(lines, "\n")})
	}
	if p.Summary != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: "Conversation summary:\n" + p.Summary})
	}
	for _, m := range p.History {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, ChatMessage{Role: RoleUser, Content: p.Message})
}

type completionRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	Temperature         float64       `json:"temperature"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Client calls the chat completions API through a circuit breaker.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	apiKey   string
	model    string
	fallback string
	log      *zap.Logger
}

// New creates a client from cfg.
func New(cfg config.LLMConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10*time.Second).
		SetHeader("User-Agent", "Nasma/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTransport(retryClient.HTTPClient.Transport)
	r.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err != nil || resp.StatusCode() == 429 || resp.StatusCode() >= 500
	})
	if cfg.APIKey != "" {
		r.SetAuthToken(cfg.APIKey)
	}

	breaker := resilience.New("llm", resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Probes:           2,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		http:     r,
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		breaker:  breaker,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		fallback: cfg.Fallback,
		log:      log,
	}
}

// Model returns the primary model name.
func (c *Client) Model() string {
	return c.model
}

// Reply asks the model to answer p. An empty answer is retried once with
// a plain-text guard; a failing primary model falls back to the secondary
// model when one is configured.
func (c *Client) Reply(ctx context.Context, p Prompt) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	msgs := p.Messages()

	text, err := c.complete(ctx, c.model, msgs, 1)
	if err != nil && c.fallback != "" && !errors.Is(err, context.Canceled) {
		c.log.Warn("primary model failed, using fallback",
			zap.String("model", c.model),
			zap.String("fallback", c.fallback),
			zap.Error(err))
		text, err = c.complete(ctx, c.fallback, msgs, 1)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	guarded := append([]ChatMessage{{Role: RoleSystem, Content: plainTextGuard}}, msgs...)
	text, err = c.complete(ctx, c.model, guarded, 0.3)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, model string, msgs []ChatMessage, temperature float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	body := completionRequest{Model: model, Messages: msgs, Temperature: temperature}
	// gpt-5 models reject max_tokens.
	if strings.HasPrefix(model, "gpt-5") {
		body.MaxCompletionTokens = maxTokens
	} else {
		body.MaxTokens = maxTokens
	}

	started := time.Now()
	out, err := resilience.Do(ctx, c.breaker, func(ctx context.Context) (*completionResponse, error) {
		var out completionResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			SetError(&out).
			Post("/chat/completions")
		if err != nil {
			return nil, fmt.Errorf("chat completion request failed: %w", err)
		}
		if resp.IsError() {
			msg := resp.Status()
			if out.Error != nil && out.Error.Message != "" {
				msg = out.Error.Message
			}
			return nil, fmt.Errorf("chat completion failed (%d): %s", resp.StatusCode(), msg)
		}
		return &out, nil
	})
	if resilience.Unavailable(err) {
		return "", fmt.Errorf("llm unavailable: %w", err)
	}
	if err != nil {
		return "", err
	}

	c.log.Debug("chat completion",
		zap.String("model", model),
		zap.Int("messages", len(msgs)),
		zap.Duration("elapsed", time.Since(started)))
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}
