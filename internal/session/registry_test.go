package session_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/session"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestRegistry() *session.Registry {
	return session.NewRegistry(newTestLogger())
}

// fakeLink stands in for a transport connection.
type fakeLink struct {
	id     uuid.UUID
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{id: uuid.New()}
}

func (l *fakeLink) ID() uuid.UUID { return l.id }

func (l *fakeLink) Send(msg []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, msg)
}

func (l *fakeLink) Close(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func TestConnectionLifecycle(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink()

	if _, err := r.Register(link, "127.0.0.1"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register(link, "127.0.0.1"); err == nil {
		t.Error("expected second Register of the same connection to fail")
	}

	got, found := r.Lookup(link.ID())
	if !found || got.ID() != link.ID() {
		t.Fatal("Lookup did not return the registered link")
	}

	r.Deregister(link.ID())
	if _, found := r.Lookup(link.ID()); found {
		t.Error("found connection after deregister")
	}

	// deregister is idempotent
	r.Deregister(link.ID())
}

func TestBindIsAtMostOnce(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink()
	r.Register(link, "127.0.0.1")

	if err := r.Bind(link.ID(), "user-1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if id, ok := r.Identity(link.ID()); !ok || id != "user-1" {
		t.Fatalf("Identity = %q, %v; want user-1, true", id, ok)
	}

	// same identity again is a no-op
	if err := r.Bind(link.ID(), "user-1"); err != nil {
		t.Errorf("repeat Bind to same identity should be a no-op, got %v", err)
	}

	// a different identity is rejected
	if err := r.Bind(link.ID(), "user-2"); err != session.ErrRebound {
		t.Errorf("Bind to different identity = %v; want ErrRebound", err)
	}
	if id, _ := r.Identity(link.ID()); id != "user-1" {
		t.Errorf("identity changed after rejected rebind: %q", id)
	}
}

func TestBindAutoJoinsUserRoom(t *testing.T) {
	r := newTestRegistry()
	tab1 := newFakeLink()
	tab2 := newFakeLink()
	r.Register(tab1, "127.0.0.1")
	r.Register(tab2, "127.0.0.1")
	r.Bind(tab1.ID(), "user-1")
	r.Bind(tab2.ID(), "user-1")

	members := r.Members(session.UserRoom("user-1"))
	if len(members) != 2 {
		t.Fatalf("user room has %d members; want 2", len(members))
	}
	if len(r.Links("user-1")) != 2 {
		t.Fatalf("Links returned %d connections; want 2", len(r.Links("user-1")))
	}
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink()
	r.Register(link, "127.0.0.1")
	r.Bind(link.ID(), "user-1")

	room := session.ChatRoom("chat-1")
	r.Join(link.ID(), room)
	r.Join(link.ID(), room)
	r.Join(link.ID(), room)

	if n := len(r.Members(room)); n != 1 {
		t.Fatalf("room has %d members after repeated joins; want 1", n)
	}

	r.Leave(link.ID(), room)
	if n := len(r.Members(room)); n != 0 {
		t.Fatalf("room has %d members after leave; want 0", n)
	}

	// leaving again, and leaving a room never joined, are no-ops
	r.Leave(link.ID(), room)
	r.Leave(link.ID(), session.ChatRoom("never-joined"))
}

func TestDeregisterRemovesFromAllRooms(t *testing.T) {
	r := newTestRegistry()
	link := newFakeLink()
	other := newFakeLink()
	r.Register(link, "127.0.0.1")
	r.Register(other, "127.0.0.2")
	r.Bind(link.ID(), "user-1")
	r.Bind(other.ID(), "user-2")

	room := session.ChatRoom("chat-1")
	r.Join(link.ID(), room)
	r.Join(other.ID(), room)

	r.Deregister(link.ID())

	members := r.Members(room)
	if len(members) != 1 || members[0].ID() != other.ID() {
		t.Fatalf("room members after deregister = %d; want only the other connection", len(members))
	}
	if len(r.Links("user-1")) != 0 {
		t.Error("deregistered connection still listed under its user")
	}
}

func TestRoomUserIDsAreDistinct(t *testing.T) {
	r := newTestRegistry()
	room := session.ChatRoom("chat-1")

	// two tabs for user-1, one for user-2, one unauthenticated
	for _, userID := range []string{"user-1", "user-1", "user-2", ""} {
		link := newFakeLink()
		r.Register(link, "127.0.0.1")
		if userID != "" {
			r.Bind(link.ID(), userID)
		}
		r.Join(link.ID(), room)
	}

	ids := r.RoomUserIDs(room)
	if len(ids) != 2 {
		t.Fatalf("RoomUserIDs = %v; want 2 distinct identities", ids)
	}
}

func TestCountAndOldestByAddr(t *testing.T) {
	r := newTestRegistry()
	first := newFakeLink()
	second := newFakeLink()
	r.Register(first, "10.0.0.1")
	r.Register(second, "10.0.0.1")

	elsewhere := newFakeLink()
	r.Register(elsewhere, "10.0.0.2")

	if n := r.CountByAddr("10.0.0.1"); n != 2 {
		t.Fatalf("CountByAddr = %d; want 2", n)
	}
	if _, found := r.OldestByAddr("10.0.0.3"); found {
		t.Error("OldestByAddr found a connection for an unknown address")
	}
	if oldest, found := r.OldestByAddr("10.0.0.2"); !found || oldest.ID() != elsewhere.ID() {
		t.Error("OldestByAddr did not return the only connection from that address")
	}
}

func TestConcurrentJoinLeaveAndSnapshot(t *testing.T) {
	r := newTestRegistry()
	room := session.ChatRoom("busy")

	const n = 32
	links := make([]*fakeLink, n)
	for i := range links {
		links[i] = newFakeLink()
		r.Register(links[i], "127.0.0.1")
	}

	var wg sync.WaitGroup
	for _, link := range links {
		wg.Add(1)
		go func(l *fakeLink) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Join(l.ID(), room)
				r.Members(room)
				r.Leave(l.ID(), room)
			}
			r.Join(l.ID(), room)
		}(link)
	}
	wg.Wait()

	if got := len(r.Members(room)); got != n {
		t.Fatalf("room has %d members after concurrent churn; want %d", got, n)
	}
}
