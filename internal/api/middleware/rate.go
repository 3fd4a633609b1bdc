package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL is how long a client's limiter survives without requests.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns production-ready rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client IP.
type Limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastPrune time.Time
}

// NewLimiter creates a per-IP limiter.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &Limiter{cfg: cfg, now: time.Now, clients: make(map[string]*client)}
}

// Allow takes a token for ip. Idle clients are pruned at most once per
// IdleTTL while the map is locked anyway.
func (l *Limiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastPrune) >= l.cfg.IdleTTL {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) >= l.cfg.IdleTTL {
				delete(l.clients, key)
			}
		}
		l.lastPrune = now
	}
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	limiter := c.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects requests over the client's budget with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return NewLimiter(cfg).Middleware()
}
