// Package app wires the long-lived services into a samber/do injector and owns
// their startup and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/dispatch"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/module"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/websocket"
	"github.com/samber/do/v2"
)

// App holds the core services that the modules and the server depend on.
type App struct {
	Config     *config.Config
	Injector   do.Injector
	Store      domain.Store
	Bus        *pubsub.WatermillBridge
	Registry   *websocket.Registry
	Dispatcher *dispatch.Dispatcher
	Presence   *presence.Service
	Monitor    *presence.Monitor
	Modules    []module.Module

	stopTracing func(context.Context) error
	drainOnce   sync.Once
	closeOnce   sync.Once
}

// Option customizes New.
type Option func(*options)

type options struct {
	store   domain.Store
	modules []module.Module
}

// WithStore uses store instead of opening the configured driver.
func WithStore(store domain.Store) Option {
	return func(o *options) { o.store = store }
}

// WithModules replaces the default module list.
func WithModules(modules ...module.Module) Option {
	return func(o *options) { o.modules = modules }
}

// New builds every service and registers the modules. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{modules: NewModules()}
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	tracer, stopTracing, err := pubsub.SetupOTel(ctx, pubsub.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.TracingServiceName,
		ServiceVersion: cfg.AppVersion,
		ZipkinURL:      cfg.TracingZipkinURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	bus := pubsub.NewWatermillBridgeWithTracer(tracer)

	registry := websocket.NewRegistry(
		websocket.WithObserver(websocket.LifecyclePublisher(bus, slog.Default().With("component", "ws_lifecycle"))),
	)
	dispatcher := dispatch.New(store, registry, dispatch.WithEchoToSenderDevices(cfg.EchoToSenderDevices))
	presenceService := presence.NewService(bus)
	monitor := presence.NewMonitor(registry, presence.MonitorConfig{
		Interval:    cfg.HeartbeatInterval,
		MaxMissed:   cfg.HeartbeatMaxMissed,
		PingTimeout: cfg.HeartbeatPingTimeout,
	})

	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue[domain.Store](injector, store)
	do.ProvideValue[pubsub.Publisher](injector, bus)
	do.ProvideValue[pubsub.Subscriber](injector, bus)
	do.ProvideValue(injector, registry)
	do.ProvideValue(injector, dispatcher)
	do.ProvideValue(injector, presenceService)
	do.ProvideValue(injector, monitor)
	do.ProvideValue(injector, middleware.IdentityConfig{
		SessionName: cfg.SessionName,
		DemoUserID:  cfg.DemoUserID,
	})

	a := &App{
		Config:      cfg,
		Injector:    injector,
		Store:       store,
		Bus:         bus,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Presence:    presenceService,
		Monitor:     monitor,
		Modules:     o.modules,
		stopTracing: stopTracing,
	}

	for _, m := range a.Modules {
		slog.Debug("Registering module", "module", m.Name())
		if err := m.Register(injector); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}
	return a, nil
}

// Start subscribes the presence read model and starts the heartbeat monitor.
// Both stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Presence.Start(ctx, a.Bus); err != nil {
		return fmt.Errorf("start presence: %w", err)
	}
	a.Monitor.Start(ctx)
	slog.Info("Heartbeat monitor started",
		"interval", a.Config.HeartbeatInterval, "max_missed", a.Config.HeartbeatMaxMissed)
	return nil
}

// Drain stops the heartbeat and closes every live connection.
func (a *App) Drain() {
	a.drainOnce.Do(func() {
		a.Monitor.Stop()
		a.Registry.CloseAll(websocket.ReasonServerShutdown)
	})
}

// Close shuts the modules down, then the bus, tracing and store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		a.Drain()
		for _, m := range a.Modules {
			if err := m.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown module %s: %w", m.Name(), err))
			}
		}
		a.Presence.Shutdown()
		if err := a.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
		if a.stopTracing != nil {
			if err := a.stopTracing(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop tracing: %w", err))
			}
		}
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	})
	return errors.Join(errs...)
}
