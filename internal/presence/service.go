package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	msgtopics "github.com/nfrund/relay/internal/modules/messaging/topics"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/websocket"
	"github.com/samber/lo"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// tombstoneTTL bounds how long a disconnected connection id is remembered so a
// late registration event for it is ignored.
const tombstoneTTL = time.Minute

// Presence is the read-model view of one user.
type Presence struct {
	UserID        string     `json:"userId"`
	Status        Status     `json:"status"`
	Connections   int        `json:"connections"`
	LastSeen      time.Time  `json:"lastSeen"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

type userState struct {
	conns         map[string]struct{}
	lastSeen      time.Time
	lastMessageAt *time.Time
}

// Service keeps an eventually consistent view of who is online, fed by
// connection lifecycle and message events from the bus.
type Service struct {
	mu      sync.RWMutex
	users   map[string]*userState
	owner   map[string]string    // connectionID -> userID
	retired map[string]time.Time // connectionID -> disconnect time

	publisher pubsub.Publisher
	logger    *slog.Logger
	now       func() time.Time

	offlineDebounceDelay time.Duration
	debounceMu           sync.Mutex
	offlineDebounce      map[string]*time.Timer
}

// Option configures a Service.
type Option func(*Service)

// WithOfflineDebounce delays the offline transition after a user's last
// connection leaves, so a quick reconnect does not flap. Zero disables it.
func WithOfflineDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.offlineDebounceDelay = d
	}
}

// WithServiceClock replaces time.Now.
func WithServiceClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a presence service that announces transitions on publisher.
func NewService(publisher pubsub.Publisher, opts ...Option) *Service {
	s := &Service{
		users:           make(map[string]*userState),
		owner:           make(map[string]string),
		retired:         make(map[string]time.Time),
		publisher:       publisher,
		logger:          slog.Default().With("service", "presence"),
		now:             func() time.Time { return time.Now().UTC() },
		offlineDebounce: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes the service to the events it consumes.
func (s *Service) Start(ctx context.Context, subscriber pubsub.Subscriber) error {
	if err := pubsub.Subscribe(ctx, subscriber, websocket.TopicClientRegistered, s.handleRegistered); err != nil {
		return fmt.Errorf("subscribe %s: %w", websocket.TopicClientRegistered.Name(), err)
	}
	if err := pubsub.Subscribe(ctx, subscriber, websocket.TopicClientDisconnected, s.handleDisconnected); err != nil {
		return fmt.Errorf("subscribe %s: %w", websocket.TopicClientDisconnected.Name(), err)
	}
	if err := pubsub.Subscribe(ctx, subscriber, msgtopics.TopicMessageCreated, s.handleMessageCreated); err != nil {
		return fmt.Errorf("subscribe %s: %w", msgtopics.TopicMessageCreated.Name(), err)
	}
	s.logger.Info("Presence service subscribed",
		"topics", []string{
			websocket.TopicClientRegistered.Name(),
			websocket.TopicClientDisconnected.Name(),
			msgtopics.TopicMessageCreated.Name(),
		})
	return nil
}

func (s *Service) handleRegistered(ctx context.Context, e websocket.Event) error {
	var changes []StatusChange

	s.mu.Lock()
	if _, gone := s.retired[e.ConnectionID]; gone {
		s.mu.Unlock()
		s.logger.Debug("Ignoring registration of a closed connection", "connection_id", e.ConnectionID)
		return nil
	}

	if prev, ok := s.owner[e.ConnectionID]; ok && prev != e.UserID {
		if change, ok := s.detachLocked(prev, e.ConnectionID, "rebound"); ok {
			changes = append(changes, change)
		}
	}

	u := s.userLocked(e.UserID)
	wasOnline := len(u.conns) > 0
	u.conns[e.ConnectionID] = struct{}{}
	u.lastSeen = e.At
	s.owner[e.ConnectionID] = e.UserID
	if !wasOnline {
		changes = append(changes, StatusChange{UserID: e.UserID, Status: StatusOnline, Connections: len(u.conns)})
	}
	s.mu.Unlock()

	s.cancelOffline(e.UserID)
	s.publish(ctx, changes)
	return nil
}

func (s *Service) handleDisconnected(ctx context.Context, e websocket.Event) error {
	s.mu.Lock()
	s.retireLocked(e.ConnectionID)
	change, offline := s.detachLocked(e.UserID, e.ConnectionID, e.Reason)
	if !e.At.IsZero() {
		if u, ok := s.users[e.UserID]; ok && e.At.After(u.lastSeen) {
			u.lastSeen = e.At
		}
	}
	s.mu.Unlock()

	if !offline {
		return nil
	}
	if s.offlineDebounceDelay <= 0 {
		s.publish(ctx, []StatusChange{change})
		return nil
	}
	s.scheduleOffline(change)
	return nil
}

func (s *Service) handleMessageCreated(_ context.Context, e msgtopics.MessageCreated) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(e.SenderID)
	at := e.CreatedAt
	if u.lastMessageAt == nil || at.After(*u.lastMessageAt) {
		u.lastMessageAt = &at
	}
	if at.After(u.lastSeen) {
		u.lastSeen = at
	}
	return nil
}

// GetPresence returns the known presence of userID.
func (s *Service) GetPresence(userID string) (Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return Presence{}, false
	}
	return s.viewLocked(userID, u), true
}

// OnlineUsers returns the ids of users with at least one connection, sorted.
func (s *Service) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	online := lo.Filter(lo.Keys(s.users), func(id string, _ int) bool {
		return len(s.users[id].conns) > 0
	})
	sort.Strings(online)
	return online
}

// Snapshot returns every known user's presence, online users first.
func (s *Service) Snapshot() []Presence {
	s.mu.RLock()
	all := lo.MapToSlice(s.users, func(id string, u *userState) Presence {
		return s.viewLocked(id, u)
	})
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Status != all[j].Status {
			return all[i].Status == StatusOnline
		}
		return all[i].UserID < all[j].UserID
	})
	return all
}

// Shutdown stops pending offline timers.
func (s *Service) Shutdown() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	for userID, timer := range s.offlineDebounce {
		timer.Stop()
		delete(s.offlineDebounce, userID)
	}
}

func (s *Service) viewLocked(userID string, u *userState) Presence {
	status := StatusOffline
	if len(u.conns) > 0 {
		status = StatusOnline
	}
	return Presence{
		UserID:        userID,
		Status:        status,
		Connections:   len(u.conns),
		LastSeen:      u.lastSeen,
		LastMessageAt: u.lastMessageAt,
	}
}

func (s *Service) userLocked(userID string) *userState {
	u, ok := s.users[userID]
	if !ok {
		u = &userState{conns: make(map[string]struct{})}
		s.users[userID] = u
	}
	return u
}

// detachLocked drops connectionID from userID and reports an offline change
// when it was the user's last connection.
func (s *Service) detachLocked(userID, connectionID, reason string) (StatusChange, bool) {
	delete(s.owner, connectionID)

	u, ok := s.users[userID]
	if !ok {
		return StatusChange{}, false
	}
	if _, ok := u.conns[connectionID]; !ok {
		return StatusChange{}, false
	}
	delete(u.conns, connectionID)
	if len(u.conns) > 0 {
		return StatusChange{}, false
	}
	return StatusChange{UserID: userID, Status: StatusOffline, Reason: reason}, true
}

func (s *Service) retireLocked(connectionID string) {
	now := s.now()
	s.retired[connectionID] = now
	for id, at := range s.retired {
		if now.Sub(at) > tombstoneTTL {
			delete(s.retired, id)
		}
	}
}

func (s *Service) scheduleOffline(change StatusChange) {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if timer, ok := s.offlineDebounce[change.UserID]; ok {
		timer.Stop()
	}
	s.offlineDebounce[change.UserID] = time.AfterFunc(s.offlineDebounceDelay, func() {
		s.debounceMu.Lock()
		delete(s.offlineDebounce, change.UserID)
		s.debounceMu.Unlock()

		s.mu.RLock()
		u, ok := s.users[change.UserID]
		reconnected := ok && len(u.conns) > 0
		s.mu.RUnlock()
		if reconnected {
			s.logger.Debug("User reconnected during offline debounce", "user_id", change.UserID)
			return
		}
		s.publish(context.Background(), []StatusChange{change})
	})
}

func (s *Service) cancelOffline(userID string) {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if timer, ok := s.offlineDebounce[userID]; ok {
		timer.Stop()
		delete(s.offlineDebounce, userID)
	}
}

func (s *Service) publish(ctx context.Context, changes []StatusChange) {
	for _, change := range changes {
		s.logger.Info("User presence changed", "user_id", change.UserID, "status", change.Status, "reason", change.Reason)
		if s.publisher == nil {
			continue
		}
		if err := pubsub.Publish(ctx, s.publisher, TopicUserStatus, change.UserID, change); err != nil {
			s.logger.Error("Failed to publish presence change", "user_id", change.UserID, "error", err)
		}
	}
}
