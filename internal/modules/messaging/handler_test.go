package messaging

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/dispatch"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSession = "relay_test"

// newTestEcho mounts the handler routes with userID as the demo identity.
func newTestEcho(f *fixture, userID string) *echo.Echo {
	e := echo.New()
	e.Validator = handlers.NewValidator()
	e.Use(session.Middleware(middleware.NewSessionStore("handler-test-secret")))

	h := NewHandler(f.service, testSession)
	e.POST("/api/session", h.Login)
	e.DELETE("/api/session", h.Logout)

	g := e.Group("/api", middleware.Identity(middleware.IdentityConfig{SessionName: testSession, DemoUserID: userID}))
	g.GET("/users/search", h.SearchUsers)
	g.GET("/users/:id", h.GetUser)
	g.GET("/chats", h.ListChats)
	g.POST("/chats", h.CreateChat)
	g.GET("/chats/:chatId", h.GetChat)
	g.GET("/chats/:chatId/messages", h.ListMessages)
	g.POST("/chats/:chatId/messages", h.SendMessage)
	return e
}

func serve(e *echo.Echo, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSendMessage(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything, "conn-42").Return(dispatch.Result{})
	e := newTestEcho(f, "alice")

	rec := serve(e, http.MethodPost, "/api/chats/"+f.chatID+"/messages",
		`{"content":"hello","metadata":{"mood":"happy"}}`,
		http.Header{HeaderConnectionID: []string{"conn-42"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, f.chatID, msg.ChatID)
	assert.Equal(t, "happy", msg.Metadata["mood"])
	f.dispatcher.AssertExpectations(t)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f, "carol")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/chats/" + f.chatID + "/messages", `{"content":`, http.StatusBadRequest, handlers.CodeValidation},
		{"non-member send", http.MethodPost, "/api/chats/" + f.chatID + "/messages", `{"content":"hi"}`, http.StatusNotFound, handlers.CodeNotFound},
		{"non-member history", http.MethodGet, "/api/chats/" + f.chatID + "/messages", "", http.StatusNotFound, handlers.CodeNotFound},
		{"unknown user", http.MethodGet, "/api/users/nobody", "", http.StatusNotFound, handlers.CodeNotFound},
		{"bad chat type", http.MethodPost, "/api/chats", `{"type":"channel","memberIds":["alice"]}`, http.StatusBadRequest, handlers.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.method, tt.path, tt.body, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body handlers.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestHandlerCreateAndListChats(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f, "carol")

	rec := serve(e, http.MethodPost, "/api/chats", `{"type":"dm","memberIds":["alice"]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(e, http.MethodGet, "/api/chats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chats []ChatSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].OtherUser)
	assert.Equal(t, "alice", chats[0].OtherUser.ID)
}

func TestHandlerSearchUsers(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f, "alice")

	for _, path := range []string{"/api/users/search?q=bo", "/api/users/search?query=bo"} {
		rec := serve(e, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var users []domain.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
		require.Len(t, users, 1, path)
		assert.Equal(t, "bob", users[0].ID)
	}
}

func TestHandlerLoginSetsSession(t *testing.T) {
	f := newFixture(t)
	e := newTestEcho(f, "")

	rec := serve(e, http.MethodGet, "/api/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodPost, "/api/session", `{"username":"bob"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var chats []ChatSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	assert.Len(t, chats, 1, "bob sees the dm with alice")
}
