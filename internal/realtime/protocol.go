package realtime

import (
	"encoding/json"
	"time"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
)

// ClientMessage is the inbound wire envelope.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound wire envelope.
type ServerMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound event names.
const (
	EventAuthenticate     = "authenticate"
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventSendMessage      = "send_message"
	EventTyping           = "typing"
	EventStopTyping       = "stop_typing"
	EventMarkRead         = "mark_read"
	EventSetStatus        = "set_status"
	EventSendNotification = "send_notification"
)

// Outbound event names.
const (
	EventAuthenticated    = "authenticated"
	EventError            = "error"
	EventNewMessage       = "new_message"
	EventMessageSent      = "message_sent"
	EventChatUpdate       = "chat_update"
	EventUserTyping       = "user_typing"
	EventUserStopTyping   = "user_stop_typing"
	EventMessagesRead     = "messages_read"
	EventUserStatusChange = "user_status_change"
	EventNotification     = "notification"
)

// Wire error codes, one per entry in the failure taxonomy.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeInvalidInput    = "invalid_input"
	CodeConflict        = "conflict"
	CodeUpstreamFailure = "upstream_failure"
)

type authenticatedPayload struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type messagePayload struct {
	ChatID  string        `json:"chatId"`
	Message *chat.Message `json:"message"`
}

type lastMessagePayload struct {
	Content  string    `json:"content"`
	SenderID string    `json:"senderId"`
	At       time.Time `json:"at"`
}

type chatUpdatePayload struct {
	ChatID      string              `json:"chatId"`
	LastMessage *lastMessagePayload `json:"lastMessage,omitempty"`
	UnreadCount int                 `json:"unreadCount"`
}

type typingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type messagesReadPayload struct {
	ChatID string `json:"chatId"`
	ReadBy string `json:"readBy"`
}

type statusChangePayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type notificationPayload struct {
	UserID           string `json:"userId"`
	NotificationType string `json:"notificationType"`
	Content          string `json:"content"`
	EntityID         string `json:"entityId,omitempty"`
	SenderID         string `json:"senderId,omitempty"`
}
