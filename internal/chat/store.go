package chat

import "context"

// Store is the durable chat/message contract. Implementations must make
// AppendMessage and MarkRead atomic per chat: a successful call has either
// fully applied the message insert plus the aggregate update, or nothing.
type Store interface {
	// Create persists a new chat. A second chat for the same booking fails
	// with ErrDuplicateChat.
	Create(ctx context.Context, chat *Chat) error

	// Find loads a chat by ID, or ErrChatNotFound.
	Find(ctx context.Context, id string) (*Chat, error)

	// FindByBooking loads the chat bound to a booking, or ErrChatNotFound.
	FindByBooking(ctx context.Context, bookingID string) (*Chat, error)

	// ListForUser returns the chats a user participates in, most recently
	// updated first.
	ListForUser(ctx context.Context, userID string) ([]Chat, error)

	// Messages returns up to limit messages of a chat in append order.
	Messages(ctx context.Context, chatID string, limit int) ([]Message, error)

	// AppendMessage inserts msg and updates the aggregate's lastMessage,
	// unreadCount, and version in one transaction, guarded by a compare-and
	// -swap on chat.Version. A version miss fails with ErrVersionConflict
	// and leaves no trace. On success chat is updated in place.
	AppendMessage(ctx context.Context, chat *Chat, msg *Message) error

	// MarkRead flips the read flag on every unread message not sent by
	// readerID and resets the aggregate's unreadCount. It reports whether
	// anything changed; an unchanged chat performs no write.
	MarkRead(ctx context.Context, chat *Chat, readerID string) (bool, error)
}
