package presence_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/presence"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestStatusDefaultsToOffline(t *testing.T) {
	c := presence.NewCoordinator(newTestLogger())
	if got := c.Status("nobody"); got != presence.StatusOffline {
		t.Fatalf("Status of unknown user = %q; want offline", got)
	}
}

func TestSetStatusLastWriteWins(t *testing.T) {
	c := presence.NewCoordinator(newTestLogger())

	c.SetStatus(context.Background(), "user-1", presence.StatusOnline)
	if got := c.Status("user-1"); got != presence.StatusOnline {
		t.Fatalf("Status = %q; want online", got)
	}

	c.SetStatus(context.Background(), "user-1", presence.StatusOffline)
	if got := c.Status("user-1"); got != presence.StatusOffline {
		t.Fatalf("Status = %q; want offline", got)
	}

	// unknown statuses collapse to offline
	c.SetStatus(context.Background(), "user-1", "lurking")
	if got := c.Status("user-1"); got != presence.StatusOffline {
		t.Fatalf("Status after bogus value = %q; want offline", got)
	}
}

func TestTypingIsIdempotent(t *testing.T) {
	c := presence.NewCoordinator(newTestLogger())

	for i := 0; i < 3; i++ {
		c.SetTyping("user-1", "chat:room", true)
	}
	if !c.IsTyping("user-1", "chat:room") {
		t.Fatal("user should be typing")
	}

	c.SetTyping("user-1", "chat:room", false)
	c.SetTyping("user-1", "chat:room", false)
	if c.IsTyping("user-1", "chat:room") {
		t.Fatal("user should not be typing")
	}
}

func TestGoingOfflineClearsTyping(t *testing.T) {
	c := presence.NewCoordinator(newTestLogger())

	c.SetStatus(context.Background(), "user-1", presence.StatusOnline)
	c.SetTyping("user-1", "chat:room", true)

	c.SetStatus(context.Background(), "user-1", presence.StatusOffline)
	if c.IsTyping("user-1", "chat:room") {
		t.Fatal("typing state survived going offline")
	}
}

func TestForgetDropsAllState(t *testing.T) {
	c := presence.NewCoordinator(newTestLogger())

	c.SetStatus(context.Background(), "user-1", presence.StatusOnline)
	c.SetTyping("user-1", "chat:room", true)
	c.Forget("user-1")

	if c.Status("user-1") != presence.StatusOffline {
		t.Error("status survived Forget")
	}
	if c.IsTyping("user-1", "chat:room") {
		t.Error("typing survived Forget")
	}
}

func TestMirrorsReceiveEveryStatusChange(t *testing.T) {
	var mu sync.Mutex
	type call struct {
		userID, status string
	}
	var calls []call

	mirror := presence.MirrorFunc(func(_ context.Context, userID, status string, _ time.Time) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{userID, status})
	})

	c := presence.NewCoordinator(newTestLogger(), mirror)
	c.SetStatus(context.Background(), "user-1", presence.StatusOnline)
	c.SetStatus(context.Background(), "user-1", presence.StatusOffline)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("mirror saw %d calls; want 2", len(calls))
	}
	if calls[0] != (call{"user-1", presence.StatusOnline}) || calls[1] != (call{"user-1", presence.StatusOffline}) {
		t.Fatalf("mirror calls = %v", calls)
	}
}
