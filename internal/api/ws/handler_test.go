package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prezlab/nasma/backend/internal/api/chat"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/infrastructure/monitoring"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

type echoRouter struct{}

func (echoRouter) Handle(ctx context.Context, req flow.Request) (*types.Response, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = "thr_ws"
	}
	name := ""
	if req.Identity.Employee != nil {
		name = req.Identity.Employee.Name
	}
	return &types.Response{Message: "hi " + name + ": " + req.Message, ThreadID: threadID}, nil
}

func dial(t *testing.T, allow func(string) bool, header http.Header) (*websocket.Conn, *monitoring.Metrics, *http.Response, error) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics()
	h := NewHandler(chat.NewService(echoRouter{}, nil), metrics, nil, allow)
	r := gin.New()
	r.GET("/chat/stream", h.HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, metrics, resp, err
}

func read(t *testing.T, conn *websocket.Conn) types.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg types.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestChatOverWebsocket(t *testing.T) {
	conn, metrics, _, err := dial(t, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, TypeSystem, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(types.WSMessage{
		Type:     TypeChat,
		Message:  "time off",
		Employee: &types.Employee{ID: 5, Name: "Omar"},
	}))
	msg := read(t, conn)
	require.Equal(t, TypeResponse, msg.Type)
	assert.Equal(t, "thr_ws", msg.ThreadID)
	require.NotNil(t, msg.Response)
	assert.Equal(t, "hi Omar: time off", msg.Response.Message)

	assert.Equal(t, int64(1), metrics.Snapshot().WSConnections)
}

func TestFrames(t *testing.T) {
	tests := []struct {
		name string
		in   types.WSMessage
		want string
	}{
		{name: "ping", in: types.WSMessage{Type: TypePing}, want: TypePong},
		{name: "unknown", in: types.WSMessage{Type: "generate_ui"}, want: TypeError},
		{name: "empty message", in: types.WSMessage{Type: TypeChat, Message: " "}, want: TypeError},
		{name: "bad thread", in: types.WSMessage{Type: TypeChat, Message: "x", ThreadID: "../x"}, want: TypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, _, err := dial(t, nil, nil)
			require.NoError(t, err)
			read(t, conn)

			require.NoError(t, conn.WriteJSON(tt.in))
			msg := read(t, conn)
			assert.Equal(t, tt.want, msg.Type)
			if tt.want == TypeError {
				assert.NotEmpty(t, msg.Error)
			}
		})
	}
}

func TestOriginCheck(t *testing.T) {
	allow := func(origin string) bool { return origin == "https://portal.example.com" }

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, _, resp, err := dial(t, allow, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://portal.example.com"}}
	conn, _, _, err := dial(t, allow, header)
	require.NoError(t, err)
	assert.Equal(t, TypeSystem, read(t, conn).Type)
}
