package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/session"
)

// Fanout turns domain events into wire messages and pushes them at room
// memberships. Delivery is best-effort on top of durable facts: a connection
// that disappears between the membership snapshot and the send is silently
// skipped by its own closed-queue handling.
type Fanout struct {
	registry *session.Registry
	logger   *slog.Logger
}

var _ chat.Notifier = (*Fanout)(nil)

func NewFanout(registry *session.Registry, logger *slog.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		logger:   logger.With(slog.String("component", "fanout")),
	}
}

func (f *Fanout) encode(event string, payload any) ([]byte, bool) {
	raw, err := json.Marshal(ServerMessage{Event: event, Payload: payload})
	if err != nil {
		f.logger.Error("failed to marshal server message", slog.String("event", event), slog.Any("error", err))
		return nil, false
	}
	return raw, true
}

// ToConn sends one event to a single connection.
func (f *Fanout) ToConn(connID uuid.UUID, event string, payload any) {
	link, ok := f.registry.Lookup(connID)
	if !ok {
		return
	}
	if raw, ok := f.encode(event, payload); ok {
		link.Send(raw)
	}
}

// ToRoom sends one event to every current member of a room.
func (f *Fanout) ToRoom(room, event string, payload any) {
	raw, ok := f.encode(event, payload)
	if !ok {
		return
	}
	for _, link := range f.registry.Members(room) {
		link.Send(raw)
	}
}

// ToRoomExcept sends to every room member except the originating connection.
func (f *Fanout) ToRoomExcept(room string, except uuid.UUID, event string, payload any) {
	raw, ok := f.encode(event, payload)
	if !ok {
		return
	}
	for _, link := range f.registry.Members(room) {
		if link.ID() == except {
			continue
		}
		link.Send(raw)
	}
}

// ToUser sends to every connection bound to a user, e.g. multiple open tabs.
func (f *Fanout) ToUser(userID, event string, payload any) {
	f.ToRoom(session.UserRoom(userID), event, payload)
}

// ToAll sends to every registered connection.
func (f *Fanout) ToAll(event string, payload any) {
	raw, ok := f.encode(event, payload)
	if !ok {
		return
	}
	for _, link := range f.registry.Everyone() {
		link.Send(raw)
	}
}

// MessageAppended broadcasts a persisted message to the chat room and a
// lighter chat_update notice to participants with no connection in the room.
func (f *Fanout) MessageAppended(c *chat.Chat, msg *chat.Message) {
	room := session.ChatRoom(c.ID)
	f.ToRoom(room, EventNewMessage, messagePayload{ChatID: c.ID, Message: msg})

	present := make(map[string]struct{})
	for _, id := range f.registry.RoomUserIDs(room) {
		present[id] = struct{}{}
	}
	update := chatUpdatePayload{
		ChatID: c.ID,
		LastMessage: &lastMessagePayload{
			Content:  msg.Content,
			SenderID: msg.SenderID,
			At:       msg.CreatedAt,
		},
		UnreadCount: c.UnreadCount,
	}
	for _, participant := range c.Participants() {
		if _, inRoom := present[participant]; inRoom {
			continue
		}
		f.ToUser(participant, EventChatUpdate, update)
	}
}

// ChatRead tells the peer their messages were read and brings the reader's
// other sessions back to an unread count of zero.
func (f *Fanout) ChatRead(c *chat.Chat, readerID string) {
	f.ToUser(c.Peer(readerID), EventMessagesRead, messagesReadPayload{ChatID: c.ID, ReadBy: readerID})
	f.ToUser(readerID, EventChatUpdate, chatUpdatePayload{ChatID: c.ID, UnreadCount: 0})
}
