package server

import (
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/middleware"
)

// RegisterRoutes sets up the routes owned by the server itself. Module routes
// are mounted by their Boot methods.
func (s *Server) RegisterRoutes() {
	healthHandler := handlers.NewHealthHandler(s.App.Config.AppVersion, s.App.Store)
	presenceHandler := handlers.NewPresenceHandler(s.App.Presence, s.App.Registry)

	s.E.GET("/health", healthHandler.Health)
	s.E.GET("/ws", s.Bridge.Handler)

	presence := s.E.Group("/api/presence", middleware.Identity(s.identity))
	presence.GET("", presenceHandler.GetPresence)
	presence.GET("/:userId", presenceHandler.GetUserPresence)
}
