package streamline

import "sync"

// Registry tracks the live sockets of every connected user and the rooms
// they belong to. A user may hold several simultaneous sockets (one per
// device); fan-out views address all of them. All methods are safe for
// concurrent use from many connection goroutines; a single lock protects
// both maps, which is enough given that membership changes are rare
// relative to message traffic.
type Registry struct {
	mu      sync.RWMutex
	clients map[string][]*Socket
	rooms   map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string][]*Socket),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Add registers a live socket under a user id.
func (r *Registry) Add(userID string, socket *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[userID] = append(r.clients[userID], socket)
}

// Remove drops one socket of a user. When the user's last socket is gone the
// user is also purged from every room, and emptied rooms are pruned. Removing
// an unknown socket or user is a no-op.
func (r *Registry) Remove(userID string, socket *Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sockets := r.clients[userID]
	for i, s := range sockets {
		if s == socket {
			sockets = append(sockets[:i], sockets[i+1:]...)
			break
		}
	}

	if len(sockets) > 0 {
		r.clients[userID] = sockets
		return
	}

	delete(r.clients, userID)
	for roomID, members := range r.rooms {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Join adds a user to a room. Idempotent.
func (r *Registry) Join(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[userID] = struct{}{}
}

// Leave removes a user from a room and prunes the room once empty.
// Idempotent.
func (r *Registry) Leave(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// To returns a fan-out view over every socket of the given users. The socket
// set is resolved lazily on each call against current registry state, so
// concurrent membership changes are reflected.
func (r *Registry) To(userIDs ...string) *View {
	return &View{sockets: func() []*Socket {
		r.mu.RLock()
		defer r.mu.RUnlock()

		var out []*Socket
		for _, id := range userIDs {
			out = append(out, r.clients[id]...)
		}
		return out
	}}
}

// Room returns a fan-out view over the sockets of a room's current members.
func (r *Registry) Room(roomID string) *View {
	return &View{sockets: func() []*Socket {
		r.mu.RLock()
		defer r.mu.RUnlock()

		var out []*Socket
		for id := range r.rooms[roomID] {
			out = append(out, r.clients[id]...)
		}
		return out
	}}
}

// All returns a fan-out view over every registered socket.
func (r *Registry) All() *View {
	return &View{sockets: func() []*Socket {
		r.mu.RLock()
		defer r.mu.RUnlock()

		var out []*Socket
		for _, sockets := range r.clients {
			out = append(out, sockets...)
		}
		return out
	}}
}

// Count reports how many sockets are registered for a user.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[userID])
}

// View is a lazily resolved fan-out target. Dispatch errors to individual
// sockets are swallowed: delivering to an offline or closing peer is not the
// registry's problem.
type View struct {
	sockets func() []*Socket
}

// Dispatch sends the event to every resolved socket, open or not.
func (v *View) Dispatch(event string, payload any) {
	for _, s := range v.sockets() {
		_ = s.Dispatch(event, payload)
	}
}

// DispatchOnlyOpen sends the event to the resolved sockets that are open.
func (v *View) DispatchOnlyOpen(event string, payload any) {
	for _, s := range v.sockets() {
		if s.IsOpen() {
			_ = s.Dispatch(event, payload)
		}
	}
}

// Each invokes the callback for every open resolved socket.
func (v *View) Each(fn func(socket *Socket, index int)) {
	for i, s := range v.sockets() {
		if s.IsOpen() {
			fn(s, i)
		}
	}
}

// FilterOpened invokes the callback only for sockets that are currently
// open, silently skipping closed or absent recipients.
func (v *View) FilterOpened(fn func(socket *Socket, index int)) {
	for i, s := range v.sockets() {
		if s.IsOpen() {
			fn(s, i)
		}
	}
}
