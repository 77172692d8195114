package presence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/relay/internal/websocket"
)

const (
	// DefaultHeartbeatInterval is the sweep period and idle threshold.
	DefaultHeartbeatInterval = 20 * time.Second

	// DefaultMaxMissed is the number of unanswered pings tolerated before eviction.
	DefaultMaxMissed = 2

	// DefaultPingTimeout bounds how long a single ping waits for its pong.
	DefaultPingTimeout = 10 * time.Second
)

// ConnectionSet is the part of the registry the monitor needs.
type ConnectionSet interface {
	Connections() []*websocket.Connection
	Evict(c *websocket.Connection, reason string)
}

// MonitorConfig tunes the heartbeat.
type MonitorConfig struct {
	Interval    time.Duration
	MaxMissed   int
	PingTimeout time.Duration
}

// SweepResult summarizes one heartbeat sweep.
type SweepResult struct {
	Checked int
	Pinged  int
	Expired int
}

// Monitor periodically probes every tracked connection and evicts the ones
// that stop answering.
type Monitor struct {
	conns  ConnectionSet
	cfg    MonitorConfig
	now    func() time.Time
	logger *slog.Logger

	pings    sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithClock replaces time.Now, letting tests drive sweeps deterministically.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a heartbeat monitor. Zero config values take the defaults.
func NewMonitor(conns ConnectionSet, cfg MonitorConfig, opts ...MonitorOption) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHeartbeatInterval
	}
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = DefaultMaxMissed
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	m := &Monitor{
		conns:  conns,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "heartbeat"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the monitor in the background until ctx is canceled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.started.Store(true)
	go m.run(ctx)
}

// Run sweeps on every tick and blocks until ctx is canceled or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	m.started.Store(true)
	m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("Heartbeat monitor started",
		"interval", m.cfg.Interval, "max_missed", m.cfg.MaxMissed, "ping_timeout", m.cfg.PingTimeout)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Heartbeat monitor stopped", "reason", ctx.Err())
			return
		case <-m.stop:
			m.logger.Info("Heartbeat monitor stopped")
			return
		case <-ticker.C:
			result := m.Sweep(ctx)
			if result.Pinged > 0 || result.Expired > 0 {
				m.logger.Debug("Heartbeat sweep",
					"checked", result.Checked, "pinged", result.Pinged, "expired", result.Expired)
			}
		}
	}
}

// Stop ends Run and waits for in-flight pings.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
	m.pings.Wait()
}

// Sweep advances every connection's heartbeat state once. Pings run in the
// background; an answered ping marks the connection as seen.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	now := m.now()
	conns := m.conns.Connections()
	result := SweepResult{Checked: len(conns)}

	for _, c := range conns {
		switch c.Tick(now, m.cfg.Interval, m.cfg.MaxMissed) {
		case websocket.ProbePing:
			result.Pinged++
			m.ping(ctx, c)
		case websocket.ProbeExpire:
			result.Expired++
			m.logger.Info("Evicting unresponsive connection",
				"connection_id", c.ID(), "user_id", c.UserID(), "last_seen", c.LastSeen())
			m.conns.Evict(c, websocket.ReasonHeartbeatTimeout)
		}
	}
	return result
}

func (m *Monitor) ping(ctx context.Context, c *websocket.Connection) {
	m.pings.Add(1)
	go func() {
		defer m.pings.Done()

		pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PingTimeout)
		defer cancel()

		if err := c.Ping(pingCtx); err != nil {
			m.logger.Debug("Heartbeat ping unanswered", "connection_id", c.ID(), "user_id", c.UserID(), "error", err)
			return
		}
		c.Touch(m.now())
	}()
}
