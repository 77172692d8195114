package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func openConnection(t *testing.T, reg *Registry) *Connection {
	t.Helper()
	conn, _ := newTestConnection(t)
	reg.Add(conn)
	conn.Start()
	return conn
}

func TestRegistryRebindMovesConnection(t *testing.T) {
	reg := NewRegistry()
	c := openConnection(t, reg)

	reg.Register(c, "u1")
	assert.Equal(t, []*Connection{c}, reg.LiveConnections("u1"))

	reg.Register(c, "u2")
	assert.Empty(t, reg.LiveConnections("u1"))
	assert.Equal(t, []*Connection{c}, reg.LiveConnections("u2"))
	assert.Equal(t, "u2", c.UserID())
	assert.Equal(t, []string{"u2"}, reg.Users(), "no empty set left behind for u1")
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	rec := &eventRecorder{}
	reg := NewRegistry(WithObserver(rec.observe))
	c := openConnection(t, reg)

	reg.Register(c, "demo-user")
	reg.Register(c, "demo-user")

	live := reg.LiveConnections("demo-user")
	require.Len(t, live, 1)
	assert.Same(t, c, live[0])
	assert.Equal(t, map[string]int{"demo-user": 1}, reg.ConnectionCounts())
	assert.Equal(t, []EventKind{EventRegistered}, rec.kinds())
}

func TestRegistryUnregister(t *testing.T) {
	t.Run("unknown connection is a no-op", func(t *testing.T) {
		reg := NewRegistry()
		stray, _ := newTestConnection(t)

		assert.NotPanics(t, func() { reg.Unregister(stray) })
		assert.Empty(t, reg.Users())
		assert.Zero(t, reg.Len())
	})

	t.Run("last connection removes the user mapping", func(t *testing.T) {
		reg := NewRegistry()
		a := openConnection(t, reg)
		b := openConnection(t, reg)
		reg.Register(a, "u1")
		reg.Register(b, "u1")

		reg.Unregister(a)
		assert.Equal(t, []*Connection{b}, reg.LiveConnections("u1"))

		reg.Unregister(b)
		reg.Unregister(b)
		assert.Empty(t, reg.LiveConnections("u1"))
		assert.Empty(t, reg.Users())
		assert.Empty(t, reg.ConnectionCounts())
		assert.Zero(t, reg.Len())
	})
}

func TestRegistryLiveConnectionsIsSnapshot(t *testing.T) {
	reg := NewRegistry()
	a := openConnection(t, reg)
	b := openConnection(t, reg)
	reg.Register(a, "u1")
	reg.Register(b, "u1")

	snapshot := reg.LiveConnections("u1")
	require.Len(t, snapshot, 2)

	reg.Unregister(a)
	assert.Len(t, snapshot, 2, "handed out slice must not change")
	assert.Len(t, reg.LiveConnections("u1"), 1)
}

func TestRegistryLiveConnectionsFiltersStates(t *testing.T) {
	reg := NewRegistry()

	connecting, _ := newTestConnection(t)
	reg.Add(connecting)
	reg.Register(connecting, "u1")

	open := openConnection(t, reg)
	reg.Register(open, "u1")

	pinged := openConnection(t, reg)
	reg.Register(pinged, "u1")
	require.Equal(t, ProbePing, pinged.Tick(t0.Add(time.Minute), 20*time.Second, 2))

	live := reg.LiveConnections("u1")
	assert.ElementsMatch(t, []*Connection{open, pinged}, live)
	assert.Equal(t, 3, reg.ConnectionCounts()["u1"])
}

func TestRegistryCloseUnregisters(t *testing.T) {
	rec := &eventRecorder{}
	reg := NewRegistry(WithObserver(rec.observe))
	c := openConnection(t, reg)
	reg.Register(c, "u1")

	c.Close(ReasonClientClosed)

	assert.Empty(t, reg.LiveConnections("u1"))
	assert.Empty(t, reg.Users())
	assert.Zero(t, reg.Len())
	assert.Equal(t, []EventKind{EventRegistered, EventUnregistered}, rec.kinds())

	reg.Register(c, "u1")
	assert.Empty(t, reg.Users(), "closed connections cannot be registered")
}

func TestRegistryEvictIsIdempotentUnderConcurrency(t *testing.T) {
	rec := &eventRecorder{}
	reg := NewRegistry(WithObserver(rec.observe))
	c := openConnection(t, reg)
	reg.Register(c, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Evict(c, ReasonHeartbeatTimeout)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, reg.Users())
	assert.Equal(t, []EventKind{EventRegistered, EventUnregistered}, rec.kinds())
}

func TestRegistryConcurrentRegisterAndRead(t *testing.T) {
	reg := NewRegistry()
	conns := make([]*Connection, 20)
	for i := range conns {
		conns[i] = openConnection(t, reg)
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(2)
		go func(i int, c *Connection) {
			defer wg.Done()
			users := []string{"a", "b", "c"}
			for j := 0; j < 50; j++ {
				reg.Register(c, users[(i+j)%len(users)])
			}
		}(i, c)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, u := range []string{"a", "b", "c"} {
					for _, live := range reg.LiveConnections(u) {
						assert.NotNil(t, live)
					}
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, u := range reg.Users() {
		for _, c := range reg.LiveConnections(u) {
			assert.Equal(t, u, c.UserID(), "each connection sits under its current user only")
			total++
		}
	}
	assert.Equal(t, len(conns), total)
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry()
	a := openConnection(t, reg)
	b := openConnection(t, reg)
	reg.Register(a, "u1")

	reg.CloseAll(ReasonServerShutdown)

	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.Users())
}
