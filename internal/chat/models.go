package chat

import "time"

// Chat is the persisted aggregate for one customer/provider conversation,
// created at most once per booking. LastMessage* mirror the newest row in
// messages; Version backs the optimistic update path so two concurrent
// appends can never overwrite each other's denormalized fields.
type Chat struct {
	ID         string  `gorm:"primaryKey;size:36" json:"id"`
	CustomerID string  `gorm:"size:36;index;not null" json:"customer_id"`
	ProviderID string  `gorm:"size:36;index;not null" json:"provider_id"`
	BookingID  *string `gorm:"size:36;uniqueIndex" json:"booking_id,omitempty"`

	LastMessageContent  string     `gorm:"type:text" json:"last_message_content,omitempty"`
	LastMessageSenderID string     `gorm:"size:36" json:"last_message_sender_id,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`

	UnreadCount int   `gorm:"not null" json:"unread_count"`
	Active      bool  `gorm:"not null" json:"active"`
	Version     int64 `gorm:"not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participants returns the chat's participant identities in stable order.
func (c *Chat) Participants() []string {
	return []string{c.CustomerID, c.ProviderID}
}

// IsParticipant reports whether userID is listed on the chat.
func (c *Chat) IsParticipant(userID string) bool {
	return userID == c.CustomerID || userID == c.ProviderID
}

// Peer returns the participant other than userID.
func (c *Chat) Peer(userID string) string {
	if userID == c.CustomerID {
		return c.ProviderID
	}
	return c.CustomerID
}

// Message is a sub-entity of Chat. Read is monotonic: it moves false→true
// through MarkRead and never reverts, and only a participant other than the
// sender can flip it.
type Message struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	ChatID   string `gorm:"size:36;index;not null" json:"chat_id"`
	SenderID string `gorm:"size:36;index;not null" json:"sender_id"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Read     bool   `gorm:"not null" json:"read"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
