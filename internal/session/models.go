package session

import (
	"time"

	"github.com/google/uuid"
)

// Link is the slice of a transport connection the registry needs: an
// identity, a non-blocking way to push bytes at the peer, and a kill switch
// for the limiter and shutdown sweeps. *transport.Connection satisfies it;
// tests substitute an in-memory fake.
type Link interface {
	ID() uuid.UUID
	Send(msg []byte)
	Close(err error)
}

// Conn is the registry's view of one live connection. Fields are only read or
// written while holding the registry lock.
type Conn struct {
	Link       Link
	RemoteAddr string
	UserID     string // empty until Bind succeeds
	Rooms      map[string]struct{}
	CreatedAt  time.Time
}

// Room key helpers. A chat room holds the connections of participants who
// joined that chat; a user room holds every connection bound to that user.
func ChatRoom(chatID string) string { return "chat:" + chatID }
func UserRoom(userID string) string { return "user:" + userID }
