package streamline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSocket() *Socket {
	return &Socket{done: make(chan struct{})}
}

func closedSocket() *Socket {
	s := testSocket()
	s.closed.Store(true)
	return s
}

func countSockets(v *View) int {
	n := 0
	v.FilterOpened(func(*Socket, int) { n++ })
	return n
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	s1, s2 := testSocket(), testSocket()

	r.Add("alice", s1)
	r.Add("alice", s2)
	assert.Equal(t, 2, r.Count("alice"))

	r.Remove("alice", s1)
	assert.Equal(t, 1, r.Count("alice"))

	r.Remove("alice", s2)
	assert.Equal(t, 0, r.Count("alice"))

	// Removing again is a no-op.
	r.Remove("alice", s2)
	r.Remove("ghost", s1)
	assert.Equal(t, 0, r.Count("alice"))
}

func TestRegistryRemoveLastSocketPurgesRooms(t *testing.T) {
	r := NewRegistry()
	s1, s2 := testSocket(), testSocket()

	r.Add("alice", s1)
	r.Add("alice", s2)
	r.Join("room-1", "alice")

	r.Remove("alice", s1)
	assert.Equal(t, 1, countSockets(r.Room("room-1")), "user with a live socket stays in the room")

	r.Remove("alice", s2)
	assert.Equal(t, 0, countSockets(r.Room("room-1")))
}

func TestRegistryJoinLeaveIdempotent(t *testing.T) {
	r := NewRegistry()
	s := testSocket()
	r.Add("alice", s)

	r.Join("room-1", "alice")
	r.Join("room-1", "alice")
	assert.Equal(t, 1, countSockets(r.Room("room-1")))

	r.Leave("room-1", "alice")
	r.Leave("room-1", "alice")
	r.Leave("no-such-room", "alice")
	assert.Equal(t, 0, countSockets(r.Room("room-1")))
}

func TestViewsResolveLazily(t *testing.T) {
	r := NewRegistry()
	view := r.To("alice")
	assert.Equal(t, 0, countSockets(view))

	// A socket added after the view was built is still reached.
	r.Add("alice", testSocket())
	assert.Equal(t, 1, countSockets(view))
}

func TestToSpansMultipleUsers(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", testSocket())
	r.Add("alice", testSocket())
	r.Add("bob", testSocket())
	r.Add("carol", testSocket())

	assert.Equal(t, 3, countSockets(r.To("alice", "bob")))
	assert.Equal(t, 4, countSockets(r.All()))
}

func TestFilterOpenedSkipsClosedSockets(t *testing.T) {
	r := NewRegistry()
	r.Add("alice", testSocket())
	r.Add("alice", closedSocket())

	assert.Equal(t, 1, countSockets(r.To("alice")))

	visited := 0
	r.To("alice").Each(func(*Socket, int) { visited++ })
	assert.Equal(t, 1, visited)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := testSocket()
			r.Add("alice", s)
			r.Join("room-1", "alice")
			countSockets(r.Room("room-1"))
			r.Remove("alice", s)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count("alice"))
}
