// Package presence tracks transient per-user liveness and typing state.
// Everything here is best-effort and process-local: state is lost on restart,
// which is acceptable for a signal that only claims "probably online".
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Mirror pushes presence hints to an external system (redis, the user
// directory). Implementations must tolerate being called often; failures are
// the mirror's problem to log, never the coordinator's to surface.
type Mirror interface {
	SetStatus(ctx context.Context, userID, status string, at time.Time)
}

// MirrorFunc adapts a plain function to the Mirror interface.
type MirrorFunc func(ctx context.Context, userID, status string, at time.Time)

func (f MirrorFunc) SetStatus(ctx context.Context, userID, status string, at time.Time) {
	f(ctx, userID, status, at)
}

type userState struct {
	status string
	typing map[string]struct{} // chat room keys the user is typing in
}

// Coordinator is the process-local presence and typing map. Last write wins;
// there is deliberately no cross-connection reconciliation.
type Coordinator struct {
	mu      sync.Mutex
	users   map[string]*userState
	mirrors []Mirror
	logger  *slog.Logger
}

func NewCoordinator(logger *slog.Logger, mirrors ...Mirror) *Coordinator {
	return &Coordinator{
		users:   make(map[string]*userState),
		mirrors: mirrors,
		logger:  logger.With(slog.String("component", "presence")),
	}
}

// SetStatus records a user's announced status and pushes it to the mirrors.
// Returns the timestamp stamped on the change.
func (c *Coordinator) SetStatus(ctx context.Context, userID, status string) time.Time {
	if status != StatusOnline && status != StatusOffline {
		status = StatusOffline
	}
	now := time.Now().UTC()

	c.mu.Lock()
	st := c.ensure(userID)
	st.status = status
	if status == StatusOffline {
		st.typing = make(map[string]struct{})
	}
	c.mu.Unlock()

	for _, m := range c.mirrors {
		m.SetStatus(ctx, userID, status, now)
	}
	return now
}

// Status reports the last announced status of a user, defaulting to offline.
func (c *Coordinator) Status(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.users[userID]
	if !ok {
		return StatusOffline
	}
	return st.status
}

// SetTyping records that a user started or stopped typing in a room.
// Repeated signals are idempotent.
func (c *Coordinator) SetTyping(userID, room string, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.ensure(userID)
	if typing {
		st.typing[room] = struct{}{}
	} else {
		delete(st.typing, room)
	}
}

// IsTyping reports whether a user is currently marked typing in a room.
func (c *Coordinator) IsTyping(userID, room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.users[userID]
	if !ok {
		return false
	}
	_, typing := st.typing[room]
	return typing
}

// Forget drops all transient state for a user, typically when their last
// connection goes away.
func (c *Coordinator) Forget(userID string) {
	c.mu.Lock()
	delete(c.users, userID)
	c.mu.Unlock()
}

// callers must hold c.mu.
func (c *Coordinator) ensure(userID string) *userState {
	st, ok := c.users[userID]
	if !ok {
		st = &userState{status: StatusOffline, typing: make(map[string]struct{})}
		c.users[userID] = st
	}
	return st
}
