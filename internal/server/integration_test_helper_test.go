package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/database/sqlite"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/server"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		AppVersion:           "test",
		StoreDriver:          config.DriverSQLite,
		SQLitePath:           sqlite.MemoryPath,
		SessionSecret:        "integration-test-secret",
		SessionName:          "relay_test",
		HeartbeatInterval:    time.Hour,
		HeartbeatMaxMissed:   2,
		HeartbeatPingTimeout: time.Second,
		WSSendBuffer:         16,
		WSWriteTimeout:       time.Second,
		WSReadLimit:          1 << 16,
		WSAllowedOrigins:     []string{"*"},
		RateLimitPerMinute:   1000,
		TracingServiceName:   "relay-test",
	}
}

// setupIntegrationTest boots a full server on an in-memory store and returns
// it with a running httptest server. Everything is torn down with the test.
func setupIntegrationTest(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	a, err := app.New(ctx, testConfig())
	require.NoError(t, err)

	s, err := server.New(ctx, a)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	testServer := httptest.NewServer(s.E)

	t.Cleanup(func() {
		a.Drain()
		testServer.Close()
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = a.Close(shutdownCtx)
	})
	return s, testServer
}

// client is a cookie-carrying API client for one user.
type client struct {
	t    *testing.T
	base string
	http *http.Client
	user domain.User
}

func newClient(t *testing.T, base string) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: base, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

// login signs in as username and remembers the returned user.
func login(t *testing.T, base, username string) *client {
	t.Helper()
	c := newClient(t, base)
	resp := c.do(http.MethodPost, "/api/session", map[string]string{"username": username}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c.decode(resp, &c.user)
	require.NotEmpty(t, c.user.ID)
	return c
}

func (c *client) do(method, path string, body any, header http.Header) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *client) decode(resp *http.Response, v any) {
	c.t.Helper()
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(v))
}

// dial opens a websocket with the client's session and waits for the
// registration acknowledgement.
func (c *client) dial() (*websocket.Conn, string) {
	c.t.Helper()
	dialer := websocket.Dialer{Jar: c.http.Jar, HandshakeTimeout: 5 * time.Second}
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/ws"
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(c.t, err, "Failed to connect to websocket")
	c.t.Cleanup(func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	})

	frame := readFrame(c.t, conn, 2*time.Second)
	require.Equal(c.t, "registered", frame["type"])
	require.Equal(c.t, c.user.ID, frame["userId"])
	return conn, frame["connectionId"].(string)
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read websocket frame")
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// expectSilence asserts that nothing arrives on conn within d.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}
