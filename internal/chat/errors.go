package chat

import "errors"

// Domain failure taxonomy. The realtime router and the HTTP handlers map
// these onto wire error codes and status codes.
var (
	// ErrEmptyMessage rejects content that is empty after trimming.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrInvalidParticipants rejects chat creation without two distinct
	// participants.
	ErrInvalidParticipants = errors.New("a chat needs two distinct participants")

	// ErrChatNotFound reports a missing chat aggregate.
	ErrChatNotFound = errors.New("chat not found")

	// ErrNotParticipant rejects an authenticated caller who is not listed on
	// the chat.
	ErrNotParticipant = errors.New("caller is not a participant of this chat")

	// ErrDuplicateChat rejects a second chat creation for the same booking.
	ErrDuplicateChat = errors.New("a chat already exists for this booking")

	// ErrVersionConflict signals a lost optimistic-concurrency race on the
	// chat aggregate. The service retries it; it is not surfaced to callers.
	ErrVersionConflict = errors.New("chat was modified concurrently")

	// ErrStoreUnavailable wraps store timeouts and outages. Retryable; the
	// caller's connection survives it.
	ErrStoreUnavailable = errors.New("chat store unavailable")
)
