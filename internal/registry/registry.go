// Package registry tracks the live transport connections of this process,
// the authenticated identity bound to each one, and the rooms each
// connection has joined. Membership is purely in-memory and rebuilt on
// reconnect.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/chat-realtime/internal/domain"
)

// Sender writes one event to a connection. Implementations must be safe
// for concurrent use; the websocket wrapper serializes writes internally.
type Sender interface {
	Send(v interface{}) error
	Close() error
}

// StatusSetter is the slice of the presence store the registry needs for
// online/offline transitions.
type StatusSetter interface {
	SetStatus(ctx context.Context, userID string, status domain.Status) error
}

type connection struct {
	id        string
	identity  domain.Identity
	sender    Sender
	rooms     map[string]struct{}
	createdAt time.Time
}

// Registry is the in-process connection/room map. All mutation is scoped
// per connection or per room; there is no cross-room lock held during
// broadcast.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connection
	userConns   map[string]map[string]struct{}
	rooms       map[string]map[string]struct{}

	// graceTimers holds the pending OFFLINE transition per user so a
	// reconnect inside the window can cancel it.
	graceTimers map[string]*time.Timer

	status StatusSetter
	grace  time.Duration
}

func New(status StatusSetter, grace time.Duration) *Registry {
	return &Registry{
		connections: make(map[string]*connection),
		userConns:   make(map[string]map[string]struct{}),
		rooms:       make(map[string]map[string]struct{}),
		graceTimers: make(map[string]*time.Timer),
		status:      status,
		grace:       grace,
	}
}

// Register binds a connection to its authenticated identity. The first
// live connection for a user marks the user online and cancels any pending
// offline transition from a recent disconnect.
func (r *Registry) Register(connID string, identity domain.Identity, sender Sender) {
	r.mu.Lock()
	r.connections[connID] = &connection{
		id:        connID,
		identity:  identity,
		sender:    sender,
		rooms:     make(map[string]struct{}),
		createdAt: time.Now(),
	}

	conns, ok := r.userConns[identity.UserID]
	if !ok {
		conns = make(map[string]struct{})
		r.userConns[identity.UserID] = conns
	}
	conns[connID] = struct{}{}
	first := len(conns) == 1

	if timer, ok := r.graceTimers[identity.UserID]; ok {
		timer.Stop()
		delete(r.graceTimers, identity.UserID)
	}
	r.mu.Unlock()

	if first {
		if err := r.status.SetStatus(context.Background(), identity.UserID, domain.StatusOnline); err != nil {
			log.Printf("[REGISTRY] Failed to mark user %s online: %v", identity.UserID, err)
		}
	}
}

// Unregister drops the connection from every room it joined. When it was
// the user's last connection, the OFFLINE write is deferred by the grace
// delay so rapid reconnects do not flap presence.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return
	}

	for roomID := range conn.rooms {
		r.removeFromRoomLocked(roomID, connID)
	}
	delete(r.connections, connID)

	userID := conn.identity.UserID
	if conns, ok := r.userConns[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.userConns, userID)
			r.scheduleOfflineLocked(userID)
		}
	}
	r.mu.Unlock()

	conn.sender.Close()
}

// scheduleOfflineLocked arms the grace timer for a user with no remaining
// connections. Caller holds r.mu.
func (r *Registry) scheduleOfflineLocked(userID string) {
	if timer, ok := r.graceTimers[userID]; ok {
		timer.Stop()
	}
	r.graceTimers[userID] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		delete(r.graceTimers, userID)
		_, reconnected := r.userConns[userID]
		r.mu.Unlock()

		if reconnected {
			return
		}
		if err := r.status.SetStatus(context.Background(), userID, domain.StatusOffline); err != nil {
			log.Printf("[REGISTRY] Failed to mark user %s offline: %v", userID, err)
		}
	})
}

// JoinRoom subscribes a connection to a room. Unknown connections are a
// silent no-op; whether the user may join at all is the router's call.
func (r *Registry) JoinRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return
	}
	conn.rooms[roomID] = struct{}{}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

// LeaveRoom unsubscribes a connection from a room.
func (r *Registry) LeaveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return
	}
	delete(conn.rooms, roomID)
	r.removeFromRoomLocked(roomID, connID)
}

func (r *Registry) removeFromRoomLocked(roomID, connID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// InRoom reports whether the connection currently belongs to the room.
func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	if !ok {
		return false
	}
	_, joined := conn.rooms[roomID]
	return joined
}

// ConnectionsInRoom returns a snapshot of the room membership at call
// time. A connection joining mid-broadcast may or may not see a given
// message; delivery is best-effort, not transactional.
func (r *Registry) ConnectionsInRoom(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

// RoomsForConnection returns a snapshot of the rooms a connection joined.
func (r *Registry) RoomsForConnection(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		out = append(out, roomID)
	}
	return out
}

// IdentityFor returns the identity bound to connID.
func (r *Registry) IdentityFor(connID string) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connID]
	if !ok {
		return domain.Identity{}, false
	}
	return conn.identity, true
}

// AllConnections returns a snapshot of every live connection id.
func (r *Registry) AllConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.connections))
	for connID := range r.connections {
		out = append(out, connID)
	}
	return out
}

// ActiveConnectionCount returns the number of live connections.
func (r *Registry) ActiveConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Send writes one event to a connection. A missing connection is ignored;
// it raced a disconnect.
func (r *Registry) Send(connID string, v interface{}) error {
	r.mu.RLock()
	conn, ok := r.connections[connID]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return conn.sender.Send(v)
}

// DisconnectUser notifies and closes every connection of a user. Used by
// the logout flow to invalidate live sessions.
func (r *Registry) DisconnectUser(userID, reason string) {
	r.mu.RLock()
	var targets []string
	if conns, ok := r.userConns[userID]; ok {
		for connID := range conns {
			targets = append(targets, connID)
		}
	}
	r.mu.RUnlock()

	for _, connID := range targets {
		_ = r.Send(connID, domain.NewErrorAck(domain.CodeUnauthorized, reason, ""))
		r.Unregister(connID)
	}
}
