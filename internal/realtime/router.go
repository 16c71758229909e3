// Package realtime dispatches inbound socket events to the session registry,
// the message pipeline, and the presence coordinator, and owns the wire
// protocol in both directions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/auth"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/presence"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/session"
)

// Router routes one inbound event at a time per connection. The transport
// invokes HandleMessage synchronously from each connection's read pump, so
// events from a single connection keep their arrival order while different
// connections race freely.
type Router struct {
	logger   *slog.Logger
	registry *session.Registry
	chats    *chat.Service
	presence *presence.Coordinator
	verifier *auth.Verifier
	fanout   *Fanout
}

func NewRouter(logger *slog.Logger, registry *session.Registry, chats *chat.Service, coordinator *presence.Coordinator, verifier *auth.Verifier, fanout *Fanout) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
		chats:    chats,
		presence: coordinator,
		verifier: verifier,
		fanout:   fanout,
	}
}

// HandleMessage is the single entry point per connection event.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(connID, CodeInvalidInput, "malformed message")
		return
	}

	switch clientMsg.Event {
	case EventAuthenticate:
		r.handleAuthenticate(connID, clientMsg.Payload)
	case EventJoinChat:
		r.handleJoinChat(ctx, connID, clientMsg.Payload)
	case EventLeaveChat:
		r.handleLeaveChat(connID, clientMsg.Payload)
	case EventSendMessage:
		r.handleSendMessage(ctx, connID, clientMsg.Payload)
	case EventTyping:
		r.handleTyping(connID, clientMsg.Payload, true)
	case EventStopTyping:
		r.handleTyping(connID, clientMsg.Payload, false)
	case EventMarkRead:
		r.handleMarkRead(ctx, connID, clientMsg.Payload)
	case EventSetStatus:
		r.handleSetStatus(ctx, connID, clientMsg.Payload)
	case EventSendNotification:
		r.handleSendNotification(connID, clientMsg.Payload)
	default:
		r.logger.Warn("received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
		r.sendError(connID, CodeInvalidInput, "unknown event: "+clientMsg.Event)
	}
}

// ConnectionClosed performs the unconditional cleanup for a connection's
// terminal event. If this was the user's last connection, peers are told the
// user went offline.
func (r *Router) ConnectionClosed(connID uuid.UUID) {
	userID, bound := r.registry.Identity(connID)
	r.registry.Deregister(connID)
	if !bound {
		return
	}
	if len(r.registry.Links(userID)) > 0 {
		return
	}
	at := r.presence.SetStatus(context.Background(), userID, presence.StatusOffline)
	r.presence.Forget(userID)
	r.fanout.ToAll(EventUserStatusChange, statusChangePayload{
		UserID:    userID,
		Status:    presence.StatusOffline,
		Timestamp: at,
	})
}

func (r *Router) handleAuthenticate(connID uuid.UUID, payload json.RawMessage) {
	token := gjson.GetBytes(payload, "token").String()
	userID, err := r.verifier.Verify(token)
	if err != nil {
		r.fanout.ToConn(connID, EventAuthenticated, authenticatedPayload{Success: false, Error: "invalid credential"})
		return
	}
	if err := r.registry.Bind(connID, userID); err != nil {
		if errors.Is(err, session.ErrRebound) {
			r.fanout.ToConn(connID, EventAuthenticated, authenticatedPayload{Success: false, Error: CodeConflict})
			return
		}
		r.fanout.ToConn(connID, EventAuthenticated, authenticatedPayload{Success: false, Error: "authentication failed"})
		return
	}
	r.fanout.ToConn(connID, EventAuthenticated, authenticatedPayload{Success: true, UserID: userID})
}

func (r *Router) handleJoinChat(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	userID, ok := r.registry.Identity(connID)
	if !ok {
		r.sendError(connID, CodeUnauthenticated, "authenticate before joining a chat")
		return
	}
	chatID := gjson.GetBytes(payload, "chatId").String()
	if chatID == "" {
		r.sendError(connID, CodeInvalidInput, "chatId is required")
		return
	}
	if _, err := r.chats.Authorize(ctx, userID, chatID); err != nil {
		r.sendDomainError(connID, err)
		return
	}
	r.registry.Join(connID, session.ChatRoom(chatID))
}

func (r *Router) handleLeaveChat(connID uuid.UUID, payload json.RawMessage) {
	chatID := gjson.GetBytes(payload, "chatId").String()
	if chatID == "" {
		return
	}
	r.registry.Leave(connID, session.ChatRoom(chatID))
}

func (r *Router) handleSendMessage(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	userID, ok := r.registry.Identity(connID)
	if !ok {
		r.sendError(connID, CodeUnauthenticated, "authenticate before sending messages")
		return
	}
	chatID := gjson.GetBytes(payload, "chatId").String()
	content := gjson.GetBytes(payload, "content").String()
	if chatID == "" {
		r.sendError(connID, CodeInvalidInput, "chatId is required")
		return
	}
	msg, err := r.chats.Send(ctx, userID, chatID, content)
	if err != nil {
		r.sendDomainError(connID, err)
		return
	}
	// the room broadcast already happened inside the pipeline; acknowledge
	// the sender with the persisted message and its assigned identifier.
	r.fanout.ToConn(connID, EventMessageSent, messagePayload{ChatID: chatID, Message: msg})
}

func (r *Router) handleTyping(connID uuid.UUID, payload json.RawMessage, typing bool) {
	userID, ok := r.registry.Identity(connID)
	if !ok {
		// typing signals from unauthenticated connections are dropped
		return
	}
	chatID := gjson.GetBytes(payload, "chatId").String()
	if chatID == "" {
		return
	}
	room := session.ChatRoom(chatID)
	r.presence.SetTyping(userID, room, typing)

	event := EventUserTyping
	if !typing {
		event = EventUserStopTyping
	}
	r.fanout.ToRoomExcept(room, connID, event, typingPayload{ChatID: chatID, UserID: userID})
}

func (r *Router) handleMarkRead(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	userID, ok := r.registry.Identity(connID)
	if !ok {
		r.sendError(connID, CodeUnauthenticated, "authenticate before marking a chat read")
		return
	}
	chatID := gjson.GetBytes(payload, "chatId").String()
	if chatID == "" {
		r.sendError(connID, CodeInvalidInput, "chatId is required")
		return
	}
	if err := r.chats.MarkRead(ctx, userID, chatID); err != nil {
		r.sendDomainError(connID, err)
	}
}

func (r *Router) handleSetStatus(ctx context.Context, connID uuid.UUID, payload json.RawMessage) {
	userID, ok := r.registry.Identity(connID)
	if !ok {
		return
	}
	status := gjson.GetBytes(payload, "status").String()
	if status != presence.StatusOnline && status != presence.StatusOffline {
		r.sendError(connID, CodeInvalidInput, "status must be online or offline")
		return
	}
	at := r.presence.SetStatus(ctx, userID, status)

	// broadcast to every connection; scoping to users sharing an active chat
	// would bound the fanout but needs a reverse chat index
	r.fanout.ToAll(EventUserStatusChange, statusChangePayload{
		UserID:    userID,
		Status:    status,
		Timestamp: at,
	})
}

func (r *Router) handleSendNotification(connID uuid.UUID, payload json.RawMessage) {
	senderID, ok := r.registry.Identity(connID)
	if !ok {
		return
	}
	target := gjson.GetBytes(payload, "userId").String()
	if target == "" {
		return
	}
	r.fanout.ToUser(target, EventNotification, notificationPayload{
		UserID:           target,
		NotificationType: gjson.GetBytes(payload, "notificationType").String(),
		Content:          gjson.GetBytes(payload, "content").String(),
		EntityID:         gjson.GetBytes(payload, "entityId").String(),
		SenderID:         senderID,
	})
}

func (r *Router) sendError(connID uuid.UUID, code, message string) {
	r.fanout.ToConn(connID, EventError, errorPayload{Code: code, Message: message})
}

// sendDomainError maps pipeline failures onto the wire taxonomy. Every
// failure is terminal for that one operation only and reported solely to the
// initiating connection.
func (r *Router) sendDomainError(connID uuid.UUID, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidParticipants):
		r.sendError(connID, CodeInvalidInput, err.Error())
	case errors.Is(err, chat.ErrChatNotFound):
		r.sendError(connID, CodeNotFound, err.Error())
	case errors.Is(err, chat.ErrNotParticipant):
		r.sendError(connID, CodeForbidden, err.Error())
	case errors.Is(err, chat.ErrDuplicateChat):
		r.sendError(connID, CodeConflict, err.Error())
	case errors.Is(err, chat.ErrStoreUnavailable):
		r.sendError(connID, CodeUpstreamFailure, "temporarily unavailable, retry")
	default:
		r.logger.Error("unclassified pipeline failure", slog.Any("error", err))
		r.sendError(connID, CodeUpstreamFailure, "internal failure")
	}
}
