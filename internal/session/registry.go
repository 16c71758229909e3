// Package session tracks live connections, the identities bound to them, and
// their room memberships. It is mechanism only: callers decide who may join
// which room.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRebound is returned when a connection that already carries an identity
// tries to authenticate as a different user.
var ErrRebound = errors.New("connection is already bound to another identity")

// Registry owns all connection, user, and room state for one process. A
// single lock guards the three maps so membership snapshots are never torn
// by a concurrent join or leave.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Conn
	users map[string]map[uuid.UUID]*Conn
	rooms map[string]map[uuid.UUID]*Conn

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Conn),
		users:  make(map[string]map[uuid.UUID]*Conn),
		rooms:  make(map[string]map[uuid.UUID]*Conn),
		logger: logger.With(slog.String("component", "session_registry")),
	}
}

// Register adds a freshly accepted connection. The connection starts
// unauthenticated and in no rooms.
func (r *Registry) Register(link Link, remoteAddr string) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := link.ID()
	if _, exists := r.conns[id]; exists {
		return nil, errors.New("connection is already registered")
	}
	conn := &Conn{
		Link:       link,
		RemoteAddr: remoteAddr,
		Rooms:      make(map[string]struct{}),
		CreatedAt:  time.Now(),
	}
	r.conns[id] = conn
	r.logger.Debug("connection registered", slog.String("connID", id.String()))
	return conn, nil
}

// Deregister removes a connection from every room it joined and drops it from
// the registry. It is idempotent and never fails; broadcasts racing with it
// simply stop seeing the connection in membership snapshots.
func (r *Registry) Deregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	for room := range conn.Rooms {
		r.dropFromRoom(connID, room)
	}
	if conn.UserID != "" {
		if set, ok := r.users[conn.UserID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.users, conn.UserID)
			}
		}
	}
	delete(r.conns, connID)
	r.logger.Debug("connection deregistered", slog.String("connID", connID.String()))
}

// Bind attaches an authenticated identity to a connection, at most once. A
// repeat bind to the same identity is a no-op; a bind to a different identity
// fails with ErrRebound. On first bind the connection auto-joins the user's
// own room.
func (r *Registry) Bind(connID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return errors.New("cannot bind identity to unknown connection")
	}
	if conn.UserID == userID {
		return nil
	}
	if conn.UserID != "" {
		return ErrRebound
	}

	conn.UserID = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[uuid.UUID]*Conn)
		r.users[userID] = set
	}
	set[connID] = conn
	r.addToRoom(conn, connID, UserRoom(userID))

	r.logger.Debug("identity bound", slog.String("connID", connID.String()), slog.String("userID", userID))
	return nil
}

// Identity reports the user bound to a connection, if any.
func (r *Registry) Identity(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok || conn.UserID == "" {
		return "", false
	}
	return conn.UserID, true
}

// Lookup returns the link for a registered connection.
func (r *Registry) Lookup(connID uuid.UUID) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.Link, true
}

// Join subscribes a connection to a room. Joining twice is a no-op.
func (r *Registry) Join(connID uuid.UUID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	r.addToRoom(conn, connID, room)
}

// Leave unsubscribes a connection from a room. Leaving a room never joined is
// a no-op.
func (r *Registry) Leave(connID uuid.UUID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(conn.Rooms, room)
	r.dropFromRoom(connID, room)
}

// Members returns a snapshot of the links subscribed to a room at call time.
func (r *Registry) Members(room string) []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[room]
	links := make([]Link, 0, len(set))
	for _, c := range set {
		links = append(links, c.Link)
	}
	return links
}

// RoomUserIDs returns the distinct bound identities currently represented in
// a room. Unauthenticated connections are not counted.
func (r *Registry) RoomUserIDs(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, c := range r.rooms[room] {
		if c.UserID == "" {
			continue
		}
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		ids = append(ids, c.UserID)
	}
	return ids
}

// Links returns a snapshot of every connection bound to a user, e.g. multiple
// open tabs.
func (r *Registry) Links(userID string) []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	links := make([]Link, 0, len(set))
	for _, c := range set {
		links = append(links, c.Link)
	}
	return links
}

// Everyone returns a snapshot of all registered connections.
func (r *Registry) Everyone() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]Link, 0, len(r.conns))
	for _, c := range r.conns {
		links = append(links, c.Link)
	}
	return links
}

// CountByAddr reports how many registered connections share a remote address.
// Used by the websocket connection limiter.
func (r *Registry) CountByAddr(addr string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.conns {
		if c.RemoteAddr == addr {
			n++
		}
	}
	return n
}

// OldestByAddr finds the longest-lived connection from a remote address, for
// the limiter's cycle mode.
func (r *Registry) OldestByAddr(addr string) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Conn
	for _, c := range r.conns {
		if c.RemoteAddr != addr {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest.Link, true
}

// callers must hold r.mu.
func (r *Registry) addToRoom(conn *Conn, connID uuid.UUID, room string) {
	conn.Rooms[room] = struct{}{}
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[uuid.UUID]*Conn)
		r.rooms[room] = set
	}
	set[connID] = conn
}

// callers must hold r.mu.
func (r *Registry) dropFromRoom(connID uuid.UUID, room string) {
	set, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
}
