package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/api/chat"
	"github.com/prezlab/nasma/backend/internal/collaborators/events"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/monitoring"
	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// Caller headers set by the portal in front of the assistant.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderThreadID = "X-Thread-ID"
)

// SheetLoader accepts onboarding spreadsheets.
type SheetLoader interface {
	LoadSheet(ctx context.Context, req flow.Request, filename string, data []byte) (*types.Response, error)
}

// EventLog reads the flow audit trail.
type EventLog interface {
	Outcomes(ctx context.Context, since time.Time) ([]events.Outcome, error)
	Recent(ctx context.Context, threadID string, limit int) ([]events.Event, error)
}

// Pinger checks a collaborator is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Drafts holds per-thread state outside the session store.
type Drafts interface {
	Reset(threadID string)
}

// Deps are the collaborators the handlers need. Events, ERP, Drafts,
// Metrics and LogLevel are optional.
type Deps struct {
	Chat     *chat.Service
	Sessions *session.Manager
	Sheets   SheetLoader
	Events   EventLog
	ERP      Pinger
	Drafts   Drafts
	Metrics  *monitoring.Metrics
	Hasher   *utils.Hasher
	LogLevel http.Handler
	Logger   *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	chat     *chat.Service
	sessions *session.Manager
	sheets   SheetLoader
	events   EventLog
	erp      Pinger
	drafts   Drafts
	metrics  *monitoring.Metrics
	hasher   *utils.Hasher
	logLevel http.Handler
	log      *zap.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		chat:     d.Chat,
		sessions: d.Sessions,
		sheets:   d.Sheets,
		events:   d.Events,
		erp:      d.ERP,
		drafts:   d.Drafts,
		metrics:  d.Metrics,
		hasher:   d.Hasher,
		logLevel: d.LogLevel,
		log:      d.Logger,
		started:  time.Now(),
	}
	if h.hasher == nil {
		h.hasher = utils.DefaultHasher()
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.POST("/chat", h.Chat)

	r.GET("/sessions/stats", h.SessionStats)
	r.GET("/sessions/:thread_id", h.GetSession)
	r.DELETE("/sessions/:thread_id", h.DeleteSession)
	r.POST("/sessions/:thread_id/documents", h.UploadDocument)
	r.POST("/sessions/:thread_id/new-users", h.UploadSheet)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
		r.GET("/metrics/json", h.MetricsSnapshot)
	}
	if h.logLevel != nil {
		r.GET("/log/level", gin.WrapH(h.logLevel))
		r.PUT("/log/level", gin.WrapH(h.logLevel))
	}
}

// Root reports the service is up.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Nasma HR assistant",
	})
}

// Health reports session and ERP reachability. An unreachable ERP degrades
// the service but does not fail the probe, chat still answers.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	erp := gin.H{"configured": h.erp != nil}
	if h.erp != nil {
		if err := h.erp.Ping(ctx); err != nil {
			status = "degraded"
			erp["error"] = err.Error()
		} else {
			erp["connected"] = true
		}
	}
	stats := h.sessions.Stats(ctx)
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"erp":            erp,
		"sessions":       gin.H{"active": stats.Active, "total": stats.Total},
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Chat routes one message.
func (h *Handlers) Chat(c *gin.Context) {
	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = c.GetHeader(HeaderThreadID)
	}

	resp, err := h.chat.Turn(c.Request.Context(), chat.Input{
		Message:  req.Message,
		ThreadID: req.ThreadID,
		UserID:   c.GetHeader(HeaderUserID),
		TenantID: c.GetHeader(HeaderTenantID),
		Employee: req.Employee,
	})
	if err != nil {
		h.turnError(c, err)
		return
	}
	c.Header(HeaderThreadID, resp.ThreadID)
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": strings.TrimPrefix(err.Error(), chat.ErrInvalidInput.Error()+": ")})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "the request took too long, please try again"})
	default:
		h.log.Error("chat turn failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// MetricsSnapshot returns headline numbers as JSON.
func (h *Handlers) MetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// threadParam validates the :thread_id path parameter, writing a 400 when
// it is malformed.
func threadParam(c *gin.Context) (string, bool) {
	threadID := c.Param("thread_id")
	if err := utils.ValidateThreadID(threadID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return threadID, true
}
