package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/services"
	"campuscall/internal/infrastructure/monitoring"
	"campuscall/internal/infrastructure/repositories/memory"
	"campuscall/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRelayHarness(t *testing.T) (*httptest.Server, *Server, services.AuthService) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.RateLimiting.Enabled = false

	logger := zaptest.NewLogger(t).Sugar()

	callService := services.NewCallRecordService(memory.NewMemoryCallRepository())
	chatService := services.NewChatService(memory.NewMemoryChatRepository())
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	hub := NewHub(metrics, logger)
	server := NewServer(cfg, hub, callService, chatService, authService, registry, logger)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return ts, server, authService
}

func token(t *testing.T, authService services.AuthService, identity domain.Identity) string {
	t.Helper()
	tok, err := authService.GenerateToken(identity)
	require.NoError(t, err)
	return tok
}

func dialChat(t *testing.T, ts *httptest.Server, tok string, callID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat?callId=" + callID + "&token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readWithin(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return payload
}

func TestServer_ChatFanOutWithinRoom(t *testing.T) {
	ts, server, authService := newRelayHarness(t)

	aliceConn := dialChat(t, ts, token(t, authService, domain.Identity{ID: "alice"}), "call-1")
	bobConn := dialChat(t, ts, token(t, authService, domain.Identity{ID: "bob"}), "call-1")
	carolConn := dialChat(t, ts, token(t, authService, domain.Identity{ID: "carol"}), "call-2")

	require.Eventually(t, func() bool {
		return server.hub.RoomSize("call-1") == 2 && server.hub.RoomSize("call-2") == 1
	}, time.Second, 10*time.Millisecond)

	message := []byte(`{"text":"hello room"}`)
	require.NoError(t, aliceConn.WriteMessage(websocket.TextMessage, message))

	// Everyone in the room gets the frame verbatim, the sender included.
	assert.Equal(t, message, readWithin(t, aliceConn, time.Second))
	assert.Equal(t, message, readWithin(t, bobConn, time.Second))

	// The other room hears nothing.
	require.NoError(t, carolConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := carolConn.ReadMessage()
	assert.Error(t, err, "message leaked across rooms")
}

func TestServer_ChatRoomEmptiesOnDisconnect(t *testing.T) {
	ts, server, authService := newRelayHarness(t)

	conn := dialChat(t, ts, token(t, authService, domain.Identity{ID: "alice"}), "call-1")

	require.Eventually(t, func() bool {
		return server.hub.RoomSize("call-1") == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return server.hub.RoomSize("call-1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServer_WebSocketRequiresAuth(t *testing.T) {
	ts, _, _ := newRelayHarness(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat?callId=call-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_WebSocketRequiresCallID(t *testing.T) {
	ts, _, authService := newRelayHarness(t)

	tok := token(t, authService, domain.Identity{ID: "alice"})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat?token=" + tok
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ChatHistoryAPI(t *testing.T) {
	ts, _, authService := newRelayHarness(t)
	tok := token(t, authService, domain.Identity{ID: "alice"})

	body, err := json.Marshal(map[string]string{"message": "for the record"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/chats/call-1/messages", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created messageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, "for the record", created.Message)

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/chats/call-1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		Messages []messageResponse `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, created.ID, history.Messages[0].ID)
}

func TestServer_APIRejectsMissingToken(t *testing.T) {
	ts, _, _ := newRelayHarness(t)

	resp, err := http.Get(ts.URL + "/api/v1/chats/call-1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_GetCallBySignalID(t *testing.T) {
	ts, server, authService := newRelayHarness(t)
	tok := token(t, authService, domain.Identity{ID: "alice"})

	record, err := server.callService.OpenCall(context.Background(), "call-1", "alice", "bob")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/calls/call-1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got callResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "pending", got.Status)
}

func TestServer_GetCallNotFound(t *testing.T) {
	ts, _, authService := newRelayHarness(t)
	tok := token(t, authService, domain.Identity{ID: "alice"})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/calls/nope", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	ts, _, _ := newRelayHarness(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
