package websocket_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/nfrund/relay/internal/websocket"
)

type bridgeHarness struct {
	registry *ws.Registry
	server   *httptest.Server
}

func newBridgeHarness(t *testing.T, identity ws.IdentityFunc) *bridgeHarness {
	t.Helper()

	registry := ws.NewRegistry()
	bridge := ws.NewBridge(registry, identity, ws.BridgeConfig{
		SendBuffer:     16,
		WriteTimeout:   time.Second,
		ReadLimit:      4096,
		AllowedOrigins: []string{"*"},
	})

	e := echo.New()
	e.GET("/ws", bridge.Handler)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		registry.CloseAll(ws.ReasonServerShutdown)
		server.Close()
	})

	return &bridgeHarness{registry: registry, server: server}
}

func (h *bridgeHarness) dial(t *testing.T, query string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws" + query
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gorillaws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestBridgeRegisterFrame(t *testing.T) {
	h := newBridgeHarness(t, nil)
	client := h.dial(t, "")

	require.Eventually(t, func() bool { return h.registry.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, h.registry.Users(), "not registered until the client says so")

	require.NoError(t, client.WriteJSON(map[string]string{"type": "register", "userId": "alice"}))
	frame := readFrame(t, client)
	assert.Equal(t, "registered", frame["type"])
	assert.Equal(t, "alice", frame["userId"])
	assert.NotEmpty(t, frame["connectionId"])

	require.Len(t, h.registry.LiveConnections("alice"), 1)

	require.NoError(t, client.WriteJSON(map[string]string{"type": "register", "userId": "bob"}))
	frame = readFrame(t, client)
	assert.Equal(t, "bob", frame["userId"])
	assert.Empty(t, h.registry.LiveConnections("alice"))
	assert.Len(t, h.registry.LiveConnections("bob"), 1)
}

func TestBridgeQueryRegistration(t *testing.T) {
	h := newBridgeHarness(t, nil)
	client := h.dial(t, "?userId=demo-user")

	frame := readFrame(t, client)
	assert.Equal(t, "registered", frame["type"])
	assert.Equal(t, "demo-user", frame["userId"])
	assert.Len(t, h.registry.LiveConnections("demo-user"), 1)
}

func TestBridgeSessionIdentityCannotBeImpersonated(t *testing.T) {
	h := newBridgeHarness(t, func(c echo.Context) string { return "carol" })
	client := h.dial(t, "")

	frame := readFrame(t, client)
	assert.Equal(t, "registered", frame["type"])
	assert.Equal(t, "carol", frame["userId"])

	require.NoError(t, client.WriteJSON(map[string]string{"type": "register", "userId": "mallory"}))
	frame = readFrame(t, client)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, ws.CodeForbidden, frame["code"])

	assert.Len(t, h.registry.LiveConnections("carol"), 1)
	assert.Empty(t, h.registry.LiveConnections("mallory"))
}

func TestBridgeRejectsBadFrames(t *testing.T) {
	h := newBridgeHarness(t, nil)
	client := h.dial(t, "")

	require.NoError(t, client.WriteMessage(gorillaws.TextMessage, []byte("not json")))
	assert.Equal(t, ws.CodeBadFrame, readFrame(t, client)["code"])

	require.NoError(t, client.WriteJSON(map[string]string{"type": "subscribe"}))
	assert.Equal(t, ws.CodeUnknownType, readFrame(t, client)["code"])

	require.NoError(t, client.WriteJSON(map[string]string{"type": "register"}))
	assert.Equal(t, ws.CodeInvalidUser, readFrame(t, client)["code"])
}

func TestBridgePingFrameTouchesConnection(t *testing.T) {
	h := newBridgeHarness(t, nil)
	client := h.dial(t, "?userId=alice")
	readFrame(t, client)

	conns := h.registry.LiveConnections("alice")
	require.Len(t, conns, 1)
	before := conns[0].LastSeen()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, client.WriteJSON(map[string]string{"type": "ping"}))

	require.Eventually(t, func() bool {
		return conns[0].LastSeen().After(before)
	}, time.Second, 10*time.Millisecond)
}

func TestBridgePushReachesClient(t *testing.T) {
	h := newBridgeHarness(t, nil)
	client := h.dial(t, "?userId=alice")
	readFrame(t, client)

	conns := h.registry.LiveConnections("alice")
	require.Len(t, conns, 1)
	require.NoError(t, conns[0].Push([]byte(`{"type":"new_message","message":{"id":"m1"}}`)))

	frame := readFrame(t, client)
	assert.Equal(t, "new_message", frame["type"])
}

func TestBridgeClientDisconnectUnregisters(t *testing.T) {
	h := newBridgeHarness(t, nil)
	client := h.dial(t, "?userId=alice")
	readFrame(t, client)

	require.NoError(t, client.WriteMessage(gorillaws.CloseMessage,
		gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, "bye")))
	client.Close()

	require.Eventually(t, func() bool {
		return len(h.registry.Users()) == 0 && h.registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
