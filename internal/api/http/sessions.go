package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultOutcomeWindow = 7 * 24 * time.Hour
	recentEvents         = 20
)

// SessionStats reports open sessions and, when the audit trail is on,
// flow outcomes over the requested window (?days=N, default 7).
func (h *Handlers) SessionStats(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"sessions": h.sessions.Stats(ctx)}

	if h.events != nil {
		window := defaultOutcomeWindow
		if raw := c.Query("days"); raw != "" {
			days, err := strconv.Atoi(raw)
			if err != nil || days <= 0 || days > 365 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
				return
			}
			window = time.Duration(days) * 24 * time.Hour
		}
		outcomes, err := h.events.Outcomes(ctx, time.Now().Add(-window))
		if err != nil {
			h.log.Warn("flow outcomes unavailable", zap.Error(err))
		} else {
			resp["outcomes"] = outcomes
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession returns the thread's session record and its recent events.
func (h *Handlers) GetSession(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	s, found := h.sessions.Get(ctx, threadID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	resp := gin.H{"session": s}
	if h.events != nil {
		recent, err := h.events.Recent(ctx, threadID, recentEvents)
		if err != nil {
			h.log.Warn("session events unavailable", zap.String("thread_id", threadID), zap.Error(err))
		} else {
			resp["events"] = recent
		}
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteSession drops the thread's session and any document draft.
// Deleting an unknown thread succeeds.
func (h *Handlers) DeleteSession(c *gin.Context) {
	threadID, ok := threadParam(c)
	if !ok {
		return
	}
	h.sessions.Clear(c.Request.Context(), threadID)
	if h.drafts != nil {
		h.drafts.Reset(threadID)
	}
	h.log.Info("session cleared", zap.String("thread_id", threadID))
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "cleared": true})
}
