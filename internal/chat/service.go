// Package chat owns the message pipeline and read-receipt reconciliation on
// top of the durable Store contract.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notifier receives fanout callbacks after a durable chat mutation. Calls
// happen while the per-chat lock is held, so every subscriber observes
// messages in durable append order.
type Notifier interface {
	// MessageAppended fires after a message has been persisted.
	MessageAppended(chat *Chat, msg *Message)

	// ChatRead fires after a read reconciliation actually changed state.
	ChatRead(chat *Chat, readerID string)
}

// NopNotifier satisfies Notifier with no fanout, for callers that only need
// persistence.
type NopNotifier struct{}

func (NopNotifier) MessageAppended(*Chat, *Message) {}
func (NopNotifier) ChatRead(*Chat, string)          {}

const appendRetries = 3

// Service drives the send pipeline (received → authorized → persisted →
// broadcast → acknowledged) and the read-receipt synchronizer. Mutations on
// one chat are serialized through a per-chat mutex; different chats proceed
// concurrently.
type Service struct {
	store    Store
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store Store, notifier Notifier, queryTimeout time.Duration, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		timeout:  queryTimeout,
		logger:   logger.With(slog.String("component", "chat_service")),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Send validates, persists, and fans out one message. Failures before the
// persist step leave no visible side effects; once persisted, the message is
// always handed to the notifier.
func (s *Service) Send(ctx context.Context, senderID, chatID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	unlock := s.lockChat(chatID)
	defer unlock()

	chat, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		SenderID:  senderID,
		Content:   content,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}

	// The per-chat lock already serializes realtime sends; the version check
	// still guards against writers that bypass it, so retry on a miss.
	for attempt := 0; ; attempt++ {
		err = s.withTimeout(ctx, func(opCtx context.Context) error {
			return s.store.AppendMessage(opCtx, chat, msg)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt+1 >= appendRetries {
			return nil, err
		}
		s.logger.Debug("append lost version race, retrying", slog.String("chatID", chatID))
		if chat, err = s.load(ctx, chatID); err != nil {
			return nil, err
		}
	}

	s.notifier.MessageAppended(chat, msg)
	return msg, nil
}

// MarkRead flips the read flag on every message the caller has not sent yet,
// resets the unread counter, and notifies both sides. A repeat call after
// the first changes nothing and stays silent, so no-op reads cannot storm
// the peers.
func (s *Service) MarkRead(ctx context.Context, callerID, chatID string) error {
	unlock := s.lockChat(chatID)
	defer unlock()

	chat, err := s.load(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(callerID) {
		return ErrNotParticipant
	}

	var changed bool
	err = s.withTimeout(ctx, func(opCtx context.Context) error {
		var mErr error
		changed, mErr = s.store.MarkRead(opCtx, chat, callerID)
		return mErr
	})
	if err != nil {
		return err
	}
	if changed {
		s.notifier.ChatRead(chat, callerID)
	}
	return nil
}

// Create opens the chat for a booking between a customer and a provider.
// Exactly one chat may exist per booking.
func (s *Service) Create(ctx context.Context, customerID, providerID string, bookingID *string) (*Chat, error) {
	if customerID == "" || providerID == "" || customerID == providerID {
		return nil, ErrInvalidParticipants
	}
	chat := &Chat{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		ProviderID: providerID,
		BookingID:  bookingID,
		Active:     true,
	}
	err := s.withTimeout(ctx, func(opCtx context.Context) error {
		return s.store.Create(opCtx, chat)
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Authorize loads a chat and verifies the caller is a participant. Shared by
// join_chat and the HTTP read paths.
func (s *Service) Authorize(ctx context.Context, callerID, chatID string) (*Chat, error) {
	chat, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	return chat, nil
}

// View returns a chat with its messages for display and runs the same read
// reconciliation as MarkRead: viewing a chat implies reading it.
func (s *Service) View(ctx context.Context, callerID, chatID string, limit int) (*Chat, []Message, error) {
	chat, err := s.Authorize(ctx, callerID, chatID)
	if err != nil {
		return nil, nil, err
	}
	var msgs []Message
	err = s.withTimeout(ctx, func(opCtx context.Context) error {
		var mErr error
		msgs, mErr = s.store.Messages(opCtx, chatID, limit)
		return mErr
	})
	if err != nil {
		return nil, nil, err
	}
	if err := s.MarkRead(ctx, callerID, chatID); err != nil {
		return nil, nil, err
	}
	// reflect the reconciliation in the returned copies
	for i := range msgs {
		if msgs[i].SenderID != callerID {
			msgs[i].Read = true
		}
	}
	chat.UnreadCount = 0
	return chat, msgs, nil
}

// List returns the caller's chats, newest activity first.
func (s *Service) List(ctx context.Context, callerID string) ([]Chat, error) {
	var chats []Chat
	err := s.withTimeout(ctx, func(opCtx context.Context) error {
		var lErr error
		chats, lErr = s.store.ListForUser(opCtx, callerID)
		return lErr
	})
	return chats, err
}

func (s *Service) load(ctx context.Context, chatID string) (*Chat, error) {
	var chat *Chat
	err := s.withTimeout(ctx, func(opCtx context.Context) error {
		var fErr error
		chat, fErr = s.store.Find(opCtx, chatID)
		return fErr
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// withTimeout bounds a single store round-trip. A deadline hit surfaces as a
// retryable ErrStoreUnavailable instead of tearing the caller down.
func (s *Service) withTimeout(ctx context.Context, op func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := op(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStoreUnavailable
	}
	return err
}

// lockChat serializes mutations per chat identifier.
func (s *Service) lockChat(chatID string) func() {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chatID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
