package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPresence struct {
	users []presence.Presence
}

func (s stubPresence) OnlineUsers() []string {
	ids := make([]string, 0, len(s.users))
	for _, p := range s.users {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (s stubPresence) Snapshot() []presence.Presence { return s.users }

func (s stubPresence) GetPresence(userID string) (presence.Presence, bool) {
	for _, p := range s.users {
		if p.UserID == userID {
			return p, true
		}
	}
	return presence.Presence{}, false
}

type stubCounter map[string]int

func (s stubCounter) ConnectionCounts() map[string]int { return s }

func (s stubCounter) Len() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

type stubHealth bool

func (s stubHealth) Healthy() bool { return bool(s) }

func TestPresenceHandler(t *testing.T) {
	e := echo.New()
	h := NewPresenceHandler(
		stubPresence{users: []presence.Presence{{UserID: "alice", Status: presence.StatusOnline, Connections: 2}}},
		stubCounter{"alice": 2},
	)
	e.GET("/presence", h.GetPresence)
	e.GET("/presence/:userId", h.GetUserPresence)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body PresenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"alice"}, body.OnlineUsers)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 2, body.Total)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence/alice", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence/bob", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		store  any
		status int
	}{
		{"store without health check", struct{}{}, http.StatusOK},
		{"healthy store", stubHealth(true), http.StatusOK},
		{"unhealthy store", stubHealth(false), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

			require.NoError(t, NewHealthHandler("1.2.3", tt.store).Health(c))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)
		})
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		field  string
	}{
		{"validation", domain.NewValidationError("content", "is required"), http.StatusBadRequest, CodeValidation, "content"},
		{"not found", fmt.Errorf("load: %w", domain.NewNotFoundError("chat", "c1")), http.StatusNotFound, CodeNotFound, ""},
		{"conflict", fmt.Errorf("user %q: %w", "bob", domain.ErrConflict), http.StatusConflict, CodeConflict, ""},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			require.NoError(t, RespondError(c, tt.err))
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.field, body.Field)
			assert.NotContains(t, body.Message, "disk on fire")
		})
	}
}

func TestCustomValidator(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}
	err := NewValidator().Validate(payload{})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)
	assert.NoError(t, NewValidator().Validate(payload{Name: "ok"}))
}
