package messaging

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/dispatch"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/module"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/samber/do/v2"
)

// MessagingModule implements the module.Module interface.
type MessagingModule struct {
	module.BaseModule
}

// New creates a new instance of the MessagingModule.
func New() *MessagingModule {
	return &MessagingModule{}
}

// Name returns the unique name for the module.
func (m *MessagingModule) Name() string {
	return "messaging"
}

// Register provides the ingress Service.
func (m *MessagingModule) Register(i do.Injector) error {
	do.Provide(i, func(i do.Injector) (*Service, error) {
		store, err := do.Invoke[domain.Store](i)
		if err != nil {
			return nil, err
		}
		dispatcher, err := do.Invoke[*dispatch.Dispatcher](i)
		if err != nil {
			return nil, err
		}
		publisher, err := do.Invoke[pubsub.Publisher](i)
		if err != nil {
			return nil, err
		}
		return NewService(store, dispatcher, publisher), nil
	})
	return nil
}

// Boot mounts the session, user and chat routes under api.
func (m *MessagingModule) Boot(ctx context.Context, api *echo.Group, i do.Injector) error {
	service, err := do.Invoke[*Service](i)
	if err != nil {
		return err
	}
	identity := do.MustInvoke[middleware.IdentityConfig](i)
	cfg := do.MustInvoke[*config.Config](i)
	handler := NewHandler(service, identity.SessionName)
	limiter := middleware.RateLimiter(cfg.RateLimitPerMinute)

	slog.Info("Booting MessagingModule: Setting up routes...")

	api.POST("/session", handler.Login, limiter)
	api.DELETE("/session", handler.Logout)

	authed := api.Group("", middleware.Identity(identity))
	authed.GET("/users/search", handler.SearchUsers)
	authed.GET("/users/:id", handler.GetUser)

	authed.GET("/chats", handler.ListChats)
	authed.POST("/chats", handler.CreateChat)
	authed.GET("/chats/:chatId", handler.GetChat)
	authed.GET("/chats/:chatId/messages", handler.ListMessages)
	authed.POST("/chats/:chatId/messages", handler.SendMessage, limiter)
	return nil
}
