package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormStore persists chats and messages through gorm. It works against the
// mysql driver in production and the sqlite driver in tests.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the chat tables.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Chat{}, &Message{})
}

func (s *GormStore) Create(ctx context.Context, chat *Chat) error {
	if chat.BookingID != nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Chat{}).
			Where("booking_id = ?", *chat.BookingID).Count(&count).Error; err != nil {
			return storeErr("count chats for booking", err)
		}
		if count > 0 {
			return ErrDuplicateChat
		}
	}
	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateChat
		}
		return storeErr("create chat", err)
	}
	return nil
}

func (s *GormStore) Find(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, storeErr("find chat", err)
	}
	return &chat, nil
}

func (s *GormStore) FindByBooking(ctx context.Context, bookingID string) (*Chat, error) {
	var chat Chat
	err := s.db.WithContext(ctx).First(&chat, "booking_id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, storeErr("find chat by booking", err)
	}
	return &chat, nil
}

func (s *GormStore) ListForUser(ctx context.Context, userID string) ([]Chat, error) {
	var chats []Chat
	err := s.db.WithContext(ctx).
		Where("customer_id = ? OR provider_id = ?", userID, userID).
		Where("active = ?", true).
		Order("updated_at desc").
		Find(&chats).Error
	if err != nil {
		return nil, storeErr("list chats", err)
	}
	return chats, nil
}

func (s *GormStore) Messages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("created_at asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

func (s *GormStore) AppendMessage(ctx context.Context, chat *Chat, msg *Message) error {
	expected := chat.Version
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return storeErr("insert message", err)
		}
		res := tx.Model(&Chat{}).
			Where("id = ? AND version = ?", chat.ID, expected).
			Updates(map[string]any{
				"last_message_content":   msg.Content,
				"last_message_sender_id": msg.SenderID,
				"last_message_at":        msg.CreatedAt,
				"unread_count":           gorm.Expr("unread_count + 1"),
				"version":                expected + 1,
				"updated_at":             now,
			})
		if res.Error != nil {
			return storeErr("update chat aggregate", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	chat.LastMessageContent = msg.Content
	chat.LastMessageSenderID = msg.SenderID
	at := msg.CreatedAt
	chat.LastMessageAt = &at
	chat.UnreadCount++
	chat.Version = expected + 1
	chat.UpdatedAt = now
	return nil
}

func (s *GormStore) MarkRead(ctx context.Context, chat *Chat, readerID string) (bool, error) {
	expected := chat.Version
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Message{}).
			Where("chat_id = ? AND sender_id <> ? AND `read` = ?", chat.ID, readerID, false).
			Update("read", true)
		if res.Error != nil {
			return storeErr("mark messages read", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true
		upd := tx.Model(&Chat{}).
			Where("id = ? AND version = ?", chat.ID, expected).
			Updates(map[string]any{
				"unread_count": 0,
				"version":      expected + 1,
			})
		if upd.Error != nil {
			return storeErr("reset unread count", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		chat.UnreadCount = 0
		chat.Version = expected + 1
	}
	return changed, nil
}

// storeErr classifies infrastructure failures as retryable upstream outages
// while keeping the underlying cause in the chain.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
