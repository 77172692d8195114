package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	msgtopics "github.com/nfrund/relay/internal/modules/messaging/topics"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/testutils"
	"github.com/nfrund/relay/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPublisher implements pubsub.Publisher for testing
type mockPublisher struct {
	messages []pubsub.Message
	mu       sync.Mutex
}

func (m *mockPublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) Close() error {
	return nil
}

func (m *mockPublisher) changes(t *testing.T) []StatusChange {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StatusChange, 0, len(m.messages))
	for _, msg := range m.messages {
		require.Equal(t, TopicUserStatus.Name(), msg.Topic)
		var change StatusChange
		require.NoError(t, json.Unmarshal(msg.Payload, &change))
		out = append(out, change)
	}
	return out
}

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func registered(conn, user string) websocket.Event {
	return websocket.Event{Kind: websocket.EventRegistered, ConnectionID: conn, UserID: user, At: epoch}
}

func disconnected(conn, user string) websocket.Event {
	return websocket.Event{Kind: websocket.EventUnregistered, ConnectionID: conn, UserID: user, Reason: websocket.ReasonClientClosed, At: epoch.Add(time.Minute)}
}

func TestService_Registered(t *testing.T) {
	publisher := &mockPublisher{}
	service := NewService(publisher)
	ctx := context.Background()

	require.NoError(t, service.handleRegistered(ctx, registered("c1", "user1")))

	assert.Equal(t, []string{"user1"}, service.OnlineUsers())
	presence, ok := service.GetPresence("user1")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, presence.Status)
	assert.Equal(t, 1, presence.Connections)
	assert.Equal(t, epoch, presence.LastSeen)

	assert.Equal(t, []StatusChange{{UserID: "user1", Status: StatusOnline, Connections: 1}}, publisher.changes(t))
}

func TestService_MultipleConnections(t *testing.T) {
	publisher := &mockPublisher{}
	service := NewService(publisher)
	ctx := context.Background()

	require.NoError(t, service.handleRegistered(ctx, registered("c1", "user1")))
	require.NoError(t, service.handleRegistered(ctx, registered("c2", "user1")))

	presence, _ := service.GetPresence("user1")
	assert.Equal(t, 2, presence.Connections)

	require.NoError(t, service.handleDisconnected(ctx, disconnected("c1", "user1")))
	presence, _ = service.GetPresence("user1")
	assert.Equal(t, StatusOnline, presence.Status, "second device keeps the user online")

	require.NoError(t, service.handleDisconnected(ctx, disconnected("c2", "user1")))
	presence, ok := service.GetPresence("user1")
	require.True(t, ok)
	assert.Equal(t, StatusOffline, presence.Status)
	assert.Equal(t, epoch.Add(time.Minute), presence.LastSeen)
	assert.Empty(t, service.OnlineUsers())

	changes := publisher.changes(t)
	require.Len(t, changes, 2, "only the first connect and last disconnect are transitions")
	assert.Equal(t, StatusOnline, changes[0].Status)
	assert.Equal(t, StatusOffline, changes[1].Status)
	assert.Equal(t, websocket.ReasonClientClosed, changes[1].Reason)
}

func TestService_Rebind(t *testing.T) {
	publisher := &mockPublisher{}
	service := NewService(publisher)
	ctx := context.Background()

	require.NoError(t, service.handleRegistered(ctx, registered("c1", "u1")))
	rebind := registered("c1", "u2")
	rebind.PreviousUser = "u1"
	require.NoError(t, service.handleRegistered(ctx, rebind))

	assert.Equal(t, []string{"u2"}, service.OnlineUsers())

	changes := publisher.changes(t)
	require.Len(t, changes, 3)
	assert.Equal(t, StatusChange{UserID: "u1", Status: StatusOffline, Reason: "rebound"}, changes[1])
	assert.Equal(t, "u2", changes[2].UserID)
}

func TestService_LateRegistrationIgnored(t *testing.T) {
	service := NewService(&mockPublisher{})
	ctx := context.Background()

	require.NoError(t, service.handleDisconnected(ctx, disconnected("c1", "user1")))
	require.NoError(t, service.handleRegistered(ctx, registered("c1", "user1")))

	assert.Empty(t, service.OnlineUsers())
}

func TestService_MessageCreatedTracksActivity(t *testing.T) {
	service := NewService(&mockPublisher{})
	ctx := context.Background()

	sent := epoch.Add(5 * time.Minute)
	require.NoError(t, service.handleMessageCreated(ctx, msgtopics.MessageCreated{SenderID: "user1", CreatedAt: sent}))
	require.NoError(t, service.handleMessageCreated(ctx, msgtopics.MessageCreated{SenderID: "user1", CreatedAt: epoch}))

	presence, ok := service.GetPresence("user1")
	require.True(t, ok)
	require.NotNil(t, presence.LastMessageAt)
	assert.Equal(t, sent, *presence.LastMessageAt, "older events never move activity backwards")
	assert.Equal(t, StatusOffline, presence.Status)
}

func TestService_Snapshot(t *testing.T) {
	service := NewService(nil)
	ctx := context.Background()

	require.NoError(t, service.handleRegistered(ctx, registered("c1", "zoe")))
	require.NoError(t, service.handleRegistered(ctx, registered("c2", "adam")))
	require.NoError(t, service.handleRegistered(ctx, registered("c3", "bob")))
	require.NoError(t, service.handleDisconnected(ctx, disconnected("c3", "bob")))

	snapshot := service.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, []string{"adam", "zoe", "bob"}, []string{snapshot[0].UserID, snapshot[1].UserID, snapshot[2].UserID})
	assert.Equal(t, StatusOffline, snapshot[2].Status)
}

func TestService_ConcurrentAccess(t *testing.T) {
	service := NewService(&mockPublisher{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			user := fmt.Sprintf("user%d", i%5)
			_ = service.handleRegistered(ctx, registered(conn, user))
			_ = service.OnlineUsers()
			_ = service.Snapshot()
			if i%2 == 0 {
				_ = service.handleDisconnected(ctx, disconnected(conn, user))
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, p := range service.Snapshot() {
		total += p.Connections
	}
	assert.Equal(t, 25, total)
}

func TestService_DebounceTimeout(t *testing.T) {
	publisher := &mockPublisher{}
	service := NewService(publisher, WithOfflineDebounce(30*time.Millisecond))
	defer service.Shutdown()
	ctx := context.Background()

	require.NoError(t, service.handleRegistered(ctx, registered("c1", "user1")))
	require.NoError(t, service.handleDisconnected(ctx, disconnected("c1", "user1")))
	assert.Len(t, publisher.changes(t), 1, "offline is deferred")

	require.Eventually(t, func() bool {
		return len(publisher.changes(t)) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestService_ReloadScenario(t *testing.T) {
	publisher := &mockPublisher{}
	service := NewService(publisher, WithOfflineDebounce(50*time.Millisecond))
	defer service.Shutdown()
	ctx := context.Background()

	require.NoError(t, service.handleRegistered(ctx, registered("c1", "user1")))
	require.NoError(t, service.handleDisconnected(ctx, disconnected("c1", "user1")))
	require.NoError(t, service.handleRegistered(ctx, registered("c2", "user1")))

	time.Sleep(100 * time.Millisecond)

	changes := publisher.changes(t)
	require.Len(t, changes, 2, "a reload produces online, online with no offline in between")
	assert.Equal(t, StatusOnline, changes[0].Status)
	assert.Equal(t, StatusOnline, changes[1].Status)
	assert.Equal(t, []string{"user1"}, service.OnlineUsers())
}

func TestService_FedByRegistryOverBus(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	service := NewService(bus)
	require.NoError(t, service.Start(ctx, bus))

	registry := websocket.NewRegistry(websocket.WithObserver(websocket.LifecyclePublisher(bus, service.logger)))
	conn := websocket.NewConnection(testutils.NewFakeTransport())
	registry.Add(conn)
	conn.Start()
	registry.Register(conn, "alice")

	require.Eventually(t, func() bool {
		return len(service.OnlineUsers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	registry.Evict(conn, websocket.ReasonHeartbeatTimeout)

	require.Eventually(t, func() bool {
		p, ok := service.GetPresence("alice")
		return ok && p.Status == StatusOffline
	}, 2*time.Second, 10*time.Millisecond)
}
