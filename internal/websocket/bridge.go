package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

// IdentityFunc returns the authenticated user for a request, or "" when the
// request carries no session identity.
type IdentityFunc func(c echo.Context) string

// BridgeConfig tunes accepted connections.
type BridgeConfig struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

// Bridge accepts websocket upgrades, feeds the Registry and runs each
// connection's read loop.
type Bridge struct {
	registry *Registry
	identity IdentityFunc
	cfg      BridgeConfig
	frames   *frameWhitelist
	now      func() time.Time
	logger   *slog.Logger
}

// NewBridge creates a bridge that registers connections in registry.
// identity may be nil when no session identity is available.
func NewBridge(registry *Registry, identity IdentityFunc, cfg BridgeConfig) *Bridge {
	if identity == nil {
		identity = func(echo.Context) string { return "" }
	}
	return &Bridge{
		registry: registry,
		identity: identity,
		cfg:      cfg,
		frames:   newFrameWhitelist(FrameRegister, FramePing),
		now:      time.Now,
		logger:   slog.Default().With("component", "ws_bridge"),
	}
}

// Handler upgrades the request and blocks until the connection ends.
// A ?userId= query parameter registers the connection immediately.
func (b *Bridge) Handler(c echo.Context) error {
	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: b.cfg.AllowedOrigins,
	})
	if err != nil {
		b.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}
	if b.cfg.ReadLimit > 0 {
		ws.SetReadLimit(b.cfg.ReadLimit)
	}

	conn := NewConnection(NewTransport(ws),
		WithSendBuffer(b.cfg.SendBuffer),
		WithWriteTimeout(b.cfg.WriteTimeout),
		WithCreatedAt(b.now()),
		WithLogger(b.logger),
	)
	b.registry.Add(conn)
	conn.Start()

	sessionUser := b.identity(c)
	if requested := c.QueryParam("userId"); requested != "" || sessionUser != "" {
		b.register(conn, sessionUser, requested)
	}

	b.readLoop(conn, ws, sessionUser)
	return nil
}

func (b *Bridge) readLoop(conn *Connection, ws *websocket.Conn, sessionUser string) {
	reason := ReasonClientClosed
	defer func() {
		b.registry.Evict(conn, reason)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				b.logger.Info("WebSocket closed normally by client", "connection_id", conn.ID(), "user_id", conn.UserID())
			case errors.Is(err, context.Canceled) || errors.Is(err, io.EOF):
				b.logger.Debug("WebSocket read loop ended", "connection_id", conn.ID(), "user_id", conn.UserID())
			default:
				reason = ReasonReadError
				b.logger.Warn("WebSocket read error", "connection_id", conn.ID(), "user_id", conn.UserID(), "error", err)
			}
			return
		}

		conn.Touch(b.now())
		b.handleFrame(conn, sessionUser, data)
	}
}

func (b *Bridge) handleFrame(conn *Connection, sessionUser string, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		b.reply(conn, encodeError(CodeBadFrame, "frame must be a JSON object with a type"))
		return
	}
	if !b.frames.IsAllowed(frame.Type) {
		b.reply(conn, encodeError(CodeUnknownType, "unsupported frame type"))
		return
	}

	switch frame.Type {
	case FrameRegister:
		b.register(conn, sessionUser, frame.UserID)
	case FramePing:
		// Traffic already recorded by Touch.
	}
}

// register binds conn to the requested user. A session identity takes
// precedence and may not be impersonated.
func (b *Bridge) register(conn *Connection, sessionUser, requested string) {
	userID := requested
	if sessionUser != "" {
		if requested != "" && requested != sessionUser {
			b.logger.Warn("Rejected registration for foreign identity",
				"connection_id", conn.ID(), "session_user_id", sessionUser, "requested_user_id", requested)
			b.reply(conn, encodeError(CodeForbidden, "cannot register as another user"))
			return
		}
		userID = sessionUser
	}
	if userID == "" {
		b.reply(conn, encodeError(CodeInvalidUser, "userId is required"))
		return
	}

	b.registry.Register(conn, userID)
	b.reply(conn, encodeRegistered(userID, conn.ID()))
}

func (b *Bridge) reply(conn *Connection, data []byte) {
	if err := conn.Push(data); err != nil {
		b.logger.Debug("Failed to queue reply frame", "connection_id", conn.ID(), "error", err)
	}
}
