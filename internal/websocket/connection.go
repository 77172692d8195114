package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/domain"
)

// State is the liveness state of a Connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StatePingSent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StatePingSent:
		return "PING_SENT"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Dispatchable reports whether pushes should be attempted in this state.
func (s State) Dispatchable() bool {
	return s == StateOpen || s == StatePingSent
}

// Probe is the action a heartbeat sweep must take for a connection.
type Probe int

const (
	ProbeNone Probe = iota
	ProbePing
	ProbeExpire
)

// Close reasons reported in logs and lifecycle events.
const (
	ReasonClientClosed     = "client_closed"
	ReasonReadError        = "read_error"
	ReasonWriteFailed      = "write_failed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonServerShutdown   = "server_shutdown"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Transport is the socket a Connection writes to.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Connection is one live transport session. Its state machine is plain data
// driven by Start, Touch, Tick and Close, so it can be exercised without a socket.
type Connection struct {
	id           string
	transport    Transport
	createdAt    time.Time
	writeTimeout time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	userID   string
	state    State
	lastSeen time.Time
	missed   int
	send     chan []byte
	done     chan struct{}
	onClose  func(c *Connection, reason string)
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithSendBuffer sets the number of pushes that may be queued before pushes fail.
func WithSendBuffer(n int) ConnectionOption {
	return func(c *Connection) {
		if n > 0 {
			c.send = make(chan []byte, n)
		}
	}
}

// WithWriteTimeout bounds each socket write.
func WithWriteTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithCreatedAt overrides the accept time, used as the initial last-seen value.
func WithCreatedAt(t time.Time) ConnectionOption {
	return func(c *Connection) {
		c.createdAt = t
		c.lastSeen = t
	}
}

// WithLogger sets the connection's logger.
func WithLogger(l *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = l
	}
}

// NewConnection creates a connection in the CONNECTING state.
func NewConnection(transport Transport, opts ...ConnectionOption) *Connection {
	now := time.Now()
	c := &Connection{
		id:           uuid.NewString(),
		transport:    transport,
		createdAt:    now,
		lastSeen:     now,
		writeTimeout: 10 * time.Second,
		logger:       slog.Default(),
		state:        StateConnecting,
		send:         make(chan []byte, 256),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("connection_id", c.id)
	return c
}

// ID returns the connection's session id.
func (c *Connection) ID() string { return c.id }

// CreatedAt returns the accept time.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// UserID returns the bound user, or "" before registration.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastSeen returns the last time traffic was observed.
func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Done is closed once the connection reaches CLOSED.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Start moves CONNECTING to OPEN and starts the single writer goroutine.
func (c *Connection) Start() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.mu.Unlock()

	go c.writeLoop()
}

// Push queues data for delivery without blocking. Queued data is written in
// push order. It fails with a *domain.TransportError when the connection is
// closed or its buffer is full.
func (c *Connection) Push(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == StateClosed {
		return &domain.TransportError{ConnectionID: c.id, Err: ErrConnectionClosed}
	}

	select {
	case c.send <- data:
		return nil
	default:
		return &domain.TransportError{ConnectionID: c.id, Err: ErrSendBufferFull}
	}
}

// Touch records inbound traffic at now. A pending ping is considered answered.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.missed = 0
	if c.state == StatePingSent {
		c.state = StateOpen
	}
}

// Tick advances the heartbeat state machine and returns the probe to perform.
func (c *Connection) Tick(now time.Time, interval time.Duration, maxMissed int) Probe {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting:
		if now.Sub(c.createdAt) >= interval*time.Duration(maxMissed) {
			return ProbeExpire
		}
	case StateOpen:
		if now.Sub(c.lastSeen) >= interval {
			c.state = StatePingSent
			c.missed = 1
			return ProbePing
		}
	case StatePingSent:
		if c.missed >= maxMissed {
			return ProbeExpire
		}
		c.missed++
		return ProbePing
	}
	return ProbeNone
}

// Ping sends a liveness probe and waits for the acknowledgement.
func (c *Connection) Ping(ctx context.Context) error {
	if c.State() == StateClosed {
		return &domain.TransportError{ConnectionID: c.id, Err: ErrConnectionClosed}
	}
	if err := c.transport.Ping(ctx); err != nil {
		return &domain.TransportError{ConnectionID: c.id, Err: err}
	}
	return nil
}

// Close moves the connection to CLOSED and releases the socket. Only the first
// call has any effect; it reports whether this call performed the close.
func (c *Connection) Close(reason string) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	close(c.done)
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	go func() {
		if err := c.transport.Close(reason); err != nil {
			c.logger.Debug("Transport close returned error", "reason", reason, "error", err)
		}
	}()

	if onClose != nil {
		onClose(c, reason)
	}
	return true
}

func (c *Connection) setUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// setOnClose installs a hook run once, outside the connection lock, when the connection closes.
// It reports false if the connection is already closed.
func (c *Connection) setOnClose(fn func(c *Connection, reason string)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.onClose = fn
	return true
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.transport.Write(ctx, data)
			cancel()
			if err != nil {
				c.logger.Warn("WebSocket write failed, closing connection", "user_id", c.UserID(), "error", err)
				c.Close(ReasonWriteFailed)
				return
			}
		}
	}
}
