// Package connection tracks live transport sessions and the
// user-to-socket index used for presence checks and multi-tab fan-out.
package connection

import (
	"sync"
	"time"

	"collabhub/pkg/interfaces"
)

// Conn is one registered transport session. Fields are set at
// registration; lastActivity is read and written only under the
// registry lock.
type Conn struct {
	SocketID    string
	UserID      string
	ConnectedAt time.Time
	IP          string
	UserAgent   string
	Sender      interfaces.Sender

	lastActivity time.Time
}

// Registry is the authoritative map of open connections. A user may
// hold several sockets at once (browser tabs); the userSockets index
// keeps fan-out and presence checks O(1) per user.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Conn
	userSockets map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Conn),
		userSockets: make(map[string]map[string]*Conn),
	}
}

// Add registers a connection. Registering a socket ID that already
// exists replaces the old entry; the caller owns closing the old sender.
func (r *Registry) Add(socketID, userID, ip, userAgent string, sender interfaces.Sender) *Conn {
	now := time.Now()
	conn := &Conn{
		SocketID:     socketID,
		UserID:       userID,
		ConnectedAt:  now,
		IP:           ip,
		UserAgent:    userAgent,
		Sender:       sender,
		lastActivity: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[socketID] = conn
	sockets := r.userSockets[userID]
	if sockets == nil {
		sockets = make(map[string]*Conn)
		r.userSockets[userID] = sockets
	}
	sockets[socketID] = conn
	return conn
}

// Remove unregisters a socket. Idempotent; returns the removed
// connection and whether this was the user's last socket.
func (r *Registry) Remove(socketID string) (conn *Conn, lastSocket bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[socketID]
	if !ok {
		return nil, false
	}
	delete(r.connections, socketID)

	sockets := r.userSockets[conn.UserID]
	delete(sockets, socketID)
	if len(sockets) == 0 {
		delete(r.userSockets, conn.UserID)
		return conn, true
	}
	return conn, false
}

// Get returns the connection for a socket ID, or nil.
func (r *Registry) Get(socketID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[socketID]
}

// IsUserOnline reports whether the user has at least one open socket.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userSockets[userID]) > 0
}

// UserConnections returns a snapshot of the user's open connections.
func (r *Registry) UserConnections(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sockets := r.userSockets[userID]
	if len(sockets) == 0 {
		return nil
	}
	conns := make([]*Conn, 0, len(sockets))
	for _, c := range sockets {
		conns = append(conns, c)
	}
	return conns
}

// UpdateActivity stamps the socket's last activity time. Unknown socket
// IDs are ignored.
func (r *Registry) UpdateActivity(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[socketID]; ok {
		conn.lastActivity = time.Now()
	}
}

// SweepIdle returns connections silent for longer than timeout. The
// caller disconnects them outside the registry lock.
func (r *Registry) SweepIdle(timeout time.Duration) []*Conn {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Conn
	for _, conn := range r.connections {
		if conn.lastActivity.Before(cutoff) {
			idle = append(idle, conn)
		}
	}
	return idle
}

// Stats returns connection counts for the stats endpoint.
func (r *Registry) Stats() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections), len(r.userSockets)
}
