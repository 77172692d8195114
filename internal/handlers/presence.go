package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/presence"
)

// PresenceReader is the read side of the presence service.
type PresenceReader interface {
	OnlineUsers() []string
	Snapshot() []presence.Presence
	GetPresence(userID string) (presence.Presence, bool)
}

// ConnectionCounter reports live connections per user.
type ConnectionCounter interface {
	ConnectionCounts() map[string]int
	Len() int
}

// PresenceHandler handles presence-related HTTP requests.
type PresenceHandler struct {
	presence    PresenceReader
	connections ConnectionCounter
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(presence PresenceReader, connections ConnectionCounter) *PresenceHandler {
	return &PresenceHandler{
		presence:    presence,
		connections: connections,
	}
}

// PresenceResponse is the body of GET /api/presence.
type PresenceResponse struct {
	OnlineUsers []string            `json:"onlineUsers"`
	Count       int                 `json:"count"`
	Connections map[string]int      `json:"connections"`
	Total       int                 `json:"totalConnections"`
	Users       []presence.Presence `json:"users"`
}

// GetPresence returns the online users and their live connection counts.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	online := h.presence.OnlineUsers()
	return c.JSON(http.StatusOK, PresenceResponse{
		OnlineUsers: online,
		Count:       len(online),
		Connections: h.connections.ConnectionCounts(),
		Total:       h.connections.Len(),
		Users:       h.presence.Snapshot(),
	})
}

// GetUserPresence returns the presence of one user.
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	p, ok := h.presence.GetPresence(c.Param("userId"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "user has no presence record"})
	}
	return c.JSON(http.StatusOK, p)
}
