// Package odoo is the JSON-RPC client for the Odoo HR system. It keeps one
// authenticated web session, renews it when Odoo reports it expired, and
// implements the ERP slices the flows and the identity resolver need.
package odoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/infrastructure/resilience"
)

const (
	sessionCookie = "session_id"
	// Odoo drops idle sessions after two hours; renew a little before.
	sessionLifetime = 96 * time.Minute
	defaultCacheTTL = 10 * time.Minute
)

// Recorder observes ERP calls.
type Recorder interface {
	ERPCall(model, method string, elapsed time.Duration, err error)
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      string         `json:"id"`
}

type rpcResponse struct {
	Result sonic.NoCopyRawMessage `json:"result"`
	Error  *RPCError              `json:"error"`
}

type authResult struct {
	UID flexInt `json:"uid"`
}

// Client talks to one Odoo database as one service user.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	cfg      config.OdooConfig
	cache    *cache
	group    singleflight.Group
	recorder Recorder
	now      func() time.Time
	log      *zap.Logger

	mu        sync.Mutex
	sessionID string
	uid       int64
	renewed   time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder sets the call observer.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithCacheTTL sets how long catalogs such as leave types are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = newCache(ttl, c.now)
	}
}

// WithClock overrides time.Now for session renewal and caching.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
		c.cache.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a client for cfg. No request is made until the first call.
func New(cfg config.OdooConfig, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Nasma/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTransport(retryClient.HTTPClient.Transport).
		SetCookieJar(nil)
	r.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), int(cfg.RPS)+1)
	}

	c := &Client{
		http:    r,
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	c.cache = newCache(defaultCacheTTL, c.now)
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = resilience.New("odoo", resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Probes:           3,
		// Odoo rejecting a record is an answer, not an outage.
		Healthy: func(err error) bool {
			var rpc *RPCError
			return errors.As(err, &rpc) ||
				errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNotAuthenticated)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			c.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// UID returns the id of the authenticated service user, or 0.
func (c *Client) UID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// Ping authenticates when needed and reports whether Odoo answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.session(ctx)
	return err
}

// Call invokes model.method through /web/dataset/call_kw and decodes the
// result into out, which may be nil. An expired session is renewed once.
func (c *Client) Call(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	params := map[string]any{"model": model, "method": method, "args": args, "kwargs": kwargs}
	path := fmt.Sprintf("/web/dataset/call_kw/%s/%s", model, method)

	started := c.now()
	err := c.callWithSession(ctx, path, params, out)
	if c.recorder != nil {
		c.recorder.ERPCall(model, method, c.now().Sub(started), err)
	}
	if err != nil {
		return fmt.Errorf("odoo %s.%s: %w", model, method, err)
	}
	return nil
}

func (c *Client) callWithSession(ctx context.Context, path string, params map[string]any, out any) error {
	sid, err := c.session(ctx)
	if err != nil {
		return err
	}
	err = c.post(ctx, path, sid, params, out)
	if !errors.Is(err, ErrSessionExpired) {
		return err
	}

	c.log.Info("odoo session expired, renewing")
	c.invalidate(sid)
	if sid, err = c.session(ctx); err != nil {
		return err
	}
	return c.post(ctx, path, sid, params, out)
}

// session returns a live session id, authenticating when there is none or
// the current one is about to expire. Concurrent callers share one login.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	sid, renewed := c.sessionID, c.renewed
	c.mu.Unlock()
	if sid != "" && c.now().Sub(renewed) < sessionLifetime {
		return sid, nil
	}

	v, err, _ := c.group.Do("authenticate", func() (interface{}, error) {
		return c.authenticate(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return "", ErrNotAuthenticated
	}
	params := map[string]any{
		"db":       c.cfg.Database,
		"login":    c.cfg.Username,
		"password": c.cfg.Password,
	}

	var res authResult
	resp, err := c.send(ctx, "/web/session/authenticate", "", params, &res)
	if err != nil {
		var rpc *RPCError
		if errors.As(err, &rpc) {
			return "", fmt.Errorf("%w: %s", ErrNotAuthenticated, rpc.Error())
		}
		return "", err
	}
	if res.UID == 0 {
		return "", fmt.Errorf("%w: invalid username or password", ErrNotAuthenticated)
	}

	sid := ""
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			sid = ck.Value
		}
	}
	if sid == "" {
		return "", fmt.Errorf("%w: no session cookie in response", ErrNotAuthenticated)
	}

	c.mu.Lock()
	c.sessionID, c.uid, c.renewed = sid, int64(res.UID), c.now()
	c.mu.Unlock()
	c.log.Info("odoo session established",
		zap.String("database", c.cfg.Database),
		zap.Int64("uid", int64(res.UID)))
	return sid, nil
}

func (c *Client) invalidate(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sid {
		c.sessionID = ""
	}
}

func (c *Client) post(ctx context.Context, path, sid string, params map[string]any, out any) error {
	_, err := c.send(ctx, path, sid, params, out)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.sessionID == sid {
		c.renewed = c.now()
	}
	c.mu.Unlock()
	return nil
}

// send performs one JSON-RPC round trip through the limiter and breaker.
func (c *Client) send(ctx context.Context, path, sid string, params map[string]any, out any) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	body := rpcRequest{JSONRPC: "2.0", Method: "call", Params: params, ID: uuid.NewString()}
	return resilience.Do(ctx, c.breaker, func(ctx context.Context) (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetBody(body)
		if sid != "" {
			req.SetCookie(&http.Cookie{Name: sessionCookie, Value: sid})
		}
		resp, err := req.Post(path)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		switch resp.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return resp, ErrSessionExpired
		}
		if resp.IsError() || !isJSON(resp) {
			return resp, &HTTPError{Status: resp.StatusCode(), Message: pageMessage(resp.Body())}
		}

		var env rpcResponse
		if err := sonic.Unmarshal(resp.Body(), &env); err != nil {
			return resp, fmt.Errorf("invalid JSON-RPC response: %w", err)
		}
		if env.Error != nil {
			if env.Error.expired() {
				return resp, ErrSessionExpired
			}
			return resp, env.Error
		}
		if out != nil && len(env.Result) > 0 {
			if err := sonic.Unmarshal(env.Result, out); err != nil {
				return resp, fmt.Errorf("decode result: %w", err)
			}
		}
		return resp, nil
	})
}

func isJSON(resp *resty.Response) bool {
	ct := strings.ToLower(resp.Header().Get("Content-Type"))
	if strings.Contains(ct, "json") {
		return true
	}
	body := strings.TrimSpace(string(resp.Body()))
	return strings.HasPrefix(body, "{")
}
