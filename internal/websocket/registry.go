package websocket

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// EventKind identifies a registry lifecycle change.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventUnregistered EventKind = "unregistered"
)

// Event describes a registry lifecycle change. Observers receive it after the
// registry lock has been released.
type Event struct {
	Kind         EventKind `json:"kind"`
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	PreviousUser string    `json:"previousUserId,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// Observer is notified of registry lifecycle changes.
type Observer func(Event)

// Registry maps user identities to their live connections.
// It is an explicit instance; nothing in this package keeps process-wide state.
type Registry struct {
	mu        sync.RWMutex
	conns     map[*Connection]struct{}
	byUser    map[string]map[*Connection]struct{}
	observers []Observer
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:  make(map[*Connection]struct{}),
		byUser: make(map[string]map[*Connection]struct{}),
		logger: slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add tracks an accepted connection so the heartbeat monitor can see it.
// Closing the connection later removes it from the registry.
func (r *Registry) Add(c *Connection) {
	if !c.setOnClose(func(c *Connection, reason string) { r.remove(c, reason) }) {
		return
	}

	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

// Register binds c to userID, dropping any previous binding first.
// Registering the same pair again is a no-op. Closed connections are ignored.
func (r *Registry) Register(c *Connection, userID string) {
	if userID == "" {
		return
	}

	r.mu.Lock()
	if c.State() == StateClosed {
		r.mu.Unlock()
		return
	}

	previous := c.UserID()
	if previous == userID {
		if _, ok := r.byUser[userID][c]; ok {
			r.mu.Unlock()
			return
		}
	}
	if previous != "" {
		r.detachLocked(c, previous)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.byUser[userID] = set
	}
	set[c] = struct{}{}
	if _, tracked := r.conns[c]; !tracked {
		c.setOnClose(func(c *Connection, reason string) { r.remove(c, reason) })
		r.conns[c] = struct{}{}
	}
	c.setUser(userID)
	r.mu.Unlock()

	r.logger.Info("Connection registered", "connection_id", c.ID(), "user_id", userID, "previous_user_id", previous)
	r.notify(Event{
		Kind:         EventRegistered,
		ConnectionID: c.ID(),
		UserID:       userID,
		PreviousUser: previous,
		At:           time.Now().UTC(),
	})
}

// Unregister removes c from whichever user it belongs to. Absent connections are ignored.
func (r *Registry) Unregister(c *Connection) {
	r.remove(c, "")
}

// Evict closes c and removes it from the registry. Safe to call concurrently
// and more than once.
func (r *Registry) Evict(c *Connection, reason string) {
	c.Close(reason)
	r.remove(c, reason)
}

// CloseAll evicts every tracked connection.
func (r *Registry) CloseAll(reason string) {
	for _, c := range r.Connections() {
		r.Evict(c, reason)
	}
}

// LiveConnections returns a snapshot of userID's dispatchable connections.
// The returned slice is owned by the caller.
func (r *Registry) LiveConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := lo.Filter(lo.Keys(r.byUser[userID]), func(c *Connection, _ int) bool {
		return c.State().Dispatchable()
	})
	sortConnections(live)
	return live
}

// Connections returns a snapshot of every tracked connection.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := lo.Keys(r.conns)
	sortConnections(all)
	return all
}

// Users returns the ids of users with at least one registered connection, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := lo.Keys(r.byUser)
	sort.Strings(users)
	return users
}

// ConnectionCounts returns the number of registered connections per user.
func (r *Registry) ConnectionCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapValues(r.byUser, func(set map[*Connection]struct{}, _ string) int {
		return len(set)
	})
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) remove(c *Connection, reason string) {
	r.mu.Lock()
	_, tracked := r.conns[c]
	delete(r.conns, c)

	userID := c.UserID()
	attached := false
	if userID != "" {
		attached = r.detachLocked(c, userID)
	}
	r.mu.Unlock()

	if !attached {
		if tracked {
			r.logger.Debug("Unregistered connection removed", "connection_id", c.ID(), "reason", reason)
		}
		return
	}

	r.logger.Info("Connection unregistered", "connection_id", c.ID(), "user_id", userID, "reason", reason)
	r.notify(Event{
		Kind:         EventUnregistered,
		ConnectionID: c.ID(),
		UserID:       userID,
		Reason:       reason,
		At:           time.Now().UTC(),
	})
}

// detachLocked removes c from userID's set and drops the set once empty.
func (r *Registry) detachLocked(c *Connection, userID string) bool {
	set, ok := r.byUser[userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
	return true
}

func (r *Registry) notify(e Event) {
	for _, o := range r.observers {
		o(e)
	}
}

func sortConnections(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].CreatedAt().Equal(conns[j].CreatedAt()) {
			return conns[i].ID() < conns[j].ID()
		}
		return conns[i].CreatedAt().Before(conns[j].CreatedAt())
	})
}
