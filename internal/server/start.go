package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Start runs the HTTP server until ctx is cancelled or a termination signal
// arrives, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ctx, stop := notifyShutdown(ctx)
	defer stop()

	if err := s.App.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("Server stopped unexpectedly", "error", serveErr)
		}
	}

	shutdownErr := s.Shutdown(context.Background())
	return errors.Join(serveErr, shutdownErr)
}

// Shutdown closes live connections, drains in-flight requests and releases
// the application's resources.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.App.Drain()

	var errs []error
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := s.App.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	slog.Info("Server stopped")
	return errors.Join(errs...)
}
