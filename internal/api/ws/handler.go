package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/api/chat"
	"github.com/prezlab/nasma/backend/internal/infrastructure/monitoring"
	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

// Frame types.
const (
	TypeChat     = "chat"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeSystem   = "system"
	TypeResponse = "response"
	TypeError    = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// A frame carries one message plus an employee snapshot.
	maxFrameSize = utils.MaxMessageSize + 8*1024
)

// Handler serves the chat stream. Each connection handles its frames in
// order, so turns on one socket never race each other.
type Handler struct {
	chat     *chat.Service
	metrics  *monitoring.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler. allowOrigin decides which
// browser origins may connect; nil allows all.
func NewHandler(svc *chat.Service, metrics *monitoring.Metrics, log *zap.Logger, allowOrigin func(origin string) bool) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{chat: svc, metrics: metrics, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowOrigin == nil || allowOrigin(origin)
		},
	}
	return h
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// HandleConnection upgrades the request and serves frames until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer raw.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	ws := &conn{ws: raw}
	raw.SetReadLimit(maxFrameSize)
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request.Context()
	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(ws, done)

	h.send(ws, types.WSMessage{Type: TypeSystem, Message: "Connected to Nasma"})

	for {
		var msg types.WSMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Info("websocket closed", zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in")
		}
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case TypeChat:
			h.handleChat(ctx, ws, c, msg)
		case TypePing:
			h.send(ws, types.WSMessage{Type: TypePong})
		default:
			h.sendError(ws, msg.ThreadID, "unknown message type")
		}
	}
}

func (h *Handler) keepAlive(ws *conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleChat(ctx context.Context, ws *conn, c *gin.Context, msg types.WSMessage) {
	resp, err := h.chat.Turn(ctx, chat.Input{
		Message:  msg.Message,
		ThreadID: msg.ThreadID,
		UserID:   c.GetHeader("X-User-ID"),
		TenantID: c.GetHeader("X-Tenant-ID"),
		Employee: msg.Employee,
	})
	if err != nil {
		h.sendError(ws, msg.ThreadID, errorText(err))
		return
	}
	h.send(ws, types.WSMessage{Type: TypeResponse, ThreadID: resp.ThreadID, Response: resp})
}

func (h *Handler) send(ws *conn, msg types.WSMessage) {
	if err := ws.write(msg); err != nil {
		h.log.Debug("websocket write failed", zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out")
	}
}

func (h *Handler) sendError(ws *conn, threadID, text string) {
	h.send(ws, types.WSMessage{Type: TypeError, ThreadID: threadID, Error: text})
}

// errorText turns a turn error into something safe to show the client.
func errorText(err error) string {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return strings.TrimPrefix(err.Error(), chat.ErrInvalidInput.Error()+": ")
	case errors.Is(err, context.DeadlineExceeded):
		return "the request took too long, please try again"
	default:
		return "something went wrong, please try again"
	}
}
