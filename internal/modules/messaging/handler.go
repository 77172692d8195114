package messaging

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/middleware"
)

// HeaderConnectionID names the sender's websocket connection on ingress requests.
const HeaderConnectionID = "X-Connection-ID"

// Handler exposes the messaging Service over HTTP.
type Handler struct {
	service     *Service
	sessionName string
}

// NewHandler creates a new handler.
func NewHandler(service *Service, sessionName string) *Handler {
	return &Handler{service: service, sessionName: sessionName}
}

type sendMessageRequest struct {
	Content  string         `json:"content"`
	Type     string         `json:"type"`
	MediaURL *string        `json:"mediaUrl"`
	Metadata map[string]any `json:"metadata"`
}

// SendMessage handles POST /api/chats/:chatId/messages.
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return handlers.BadRequest(c, "invalid request body")
	}

	msg, err := h.service.SendMessage(c.Request().Context(), SendMessageInput{
		ChatID:             c.Param("chatId"),
		SenderID:           middleware.UserID(c),
		Content:            req.Content,
		Type:               domain.MessageType(req.Type),
		MediaURL:           req.MediaURL,
		Metadata:           req.Metadata,
		OriginConnectionID: c.Request().Header.Get(HeaderConnectionID),
	})
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// ListMessages handles GET /api/chats/:chatId/messages.
func (h *Handler) ListMessages(c echo.Context) error {
	messages, err := h.service.ListMessages(c.Request().Context(), middleware.UserID(c), c.Param("chatId"))
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// CreateChat handles POST /api/chats.
func (h *Handler) CreateChat(c echo.Context) error {
	var in CreateChatInput
	if err := c.Bind(&in); err != nil {
		return handlers.BadRequest(c, "invalid request body")
	}

	chat, err := h.service.CreateChat(c.Request().Context(), middleware.UserID(c), in)
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, chat)
}

// ListChats handles GET /api/chats.
func (h *Handler) ListChats(c echo.Context) error {
	chats, err := h.service.ListChats(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, chats)
}

// GetChat handles GET /api/chats/:chatId.
func (h *Handler) GetChat(c echo.Context) error {
	chat, err := h.service.GetChat(c.Request().Context(), middleware.UserID(c), c.Param("chatId"))
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, chat)
}

// SearchUsers handles GET /api/users/search?q=.
func (h *Handler) SearchUsers(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		query = c.QueryParam("query")
	}
	users, err := h.service.SearchUsers(c.Request().Context(), query)
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

// GetUser handles GET /api/users/:id.
func (h *Handler) GetUser(c echo.Context) error {
	user, err := h.service.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handlers.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// Login handles POST /api/session.
func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return handlers.BadRequest(c, "invalid request body")
	}

	user, err := h.service.Login(c.Request().Context(), in)
	if err != nil {
		return handlers.RespondError(c, err)
	}
	if err := middleware.Login(c, h.sessionName, user.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save session").SetInternal(err)
	}
	return c.JSON(http.StatusOK, user)
}

// Logout handles DELETE /api/session.
func (h *Handler) Logout(c echo.Context) error {
	if err := middleware.Logout(c, h.sessionName); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear session").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}
