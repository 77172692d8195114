package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/websocket"
)

// Server holds the HTTP surface of the relay.
type Server struct {
	E      *echo.Echo
	App    *app.App
	Bridge *websocket.Bridge

	identity middleware.IdentityConfig
}

// New builds the echo instance, mounts the websocket bridge and boots every
// module under /api.
func New(ctx context.Context, a *app.App) (*Server, error) {
	cfg := a.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	setupErrorHandling(e)

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(middleware.Logger)
	e.Use(session.Middleware(middleware.NewSessionStore(cfg.SessionSecret)))

	identity := middleware.IdentityConfig{
		SessionName: cfg.SessionName,
		DemoUserID:  cfg.DemoUserID,
	}
	bridge := websocket.NewBridge(a.Registry, func(c echo.Context) string {
		return middleware.SessionUserID(c, identity.SessionName)
	}, websocket.BridgeConfig{
		SendBuffer:     cfg.WSSendBuffer,
		WriteTimeout:   cfg.WSWriteTimeout,
		ReadLimit:      cfg.WSReadLimit,
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	s := &Server{
		E:        e,
		App:      a,
		Bridge:   bridge,
		identity: identity,
	}
	s.RegisterRoutes()

	api := e.Group("/api")
	for _, m := range a.Modules {
		slog.Debug("Booting module", "module", m.Name())
		if err := m.Boot(ctx, api, a.Injector); err != nil {
			return nil, fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
	}
	return s, nil
}

// setupErrorHandling logs unhandled errors with a stack trace before echo
// writes the response.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code >= http.StatusInternalServerError {
			slog.Error("Internal Server Error (Unhandled)",
				"error", err,
				"method", c.Request().Method,
				"path", c.Path(),
				"stack_trace", string(debug.Stack()),
			)
		}
		if c.Response().Committed {
			return
		}
		if he != nil && he.Code < http.StatusInternalServerError {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		_ = c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Code:    handlers.CodeInternal,
			Message: "internal server error",
		})
	}
}
