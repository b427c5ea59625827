package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/repository"
)

// Notifier receives events that must reach live connections.
// Delivery is best effort; implementations must not block.
type Notifier interface {
	// MessageCreated fans a stored message out to the recipients' personal channels.
	MessageCreated(ctx context.Context, msg model.Message, recipients []uuid.UUID)
	// ConversationDeleted announces a history wipe on the conversation channel.
	ConversationDeleted(ctx context.Context, chatID, deletedBy uuid.UUID)
	// MemberLeft removes userID's live sessions from the conversation channel.
	MemberLeft(ctx context.Context, chatID, userID uuid.UUID)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) MessageCreated(context.Context, model.Message, []uuid.UUID) {}
func (NopNotifier) ConversationDeleted(context.Context, uuid.UUID, uuid.UUID)  {}
func (NopNotifier) MemberLeft(context.Context, uuid.UUID, uuid.UUID)           {}

// MessageService stores ciphertext messages and keeps read state.
type MessageService interface {
	// Send stores an envelope from a member and notifies the other members.
	Send(ctx context.Context, senderID, chatID uuid.UUID, env model.Envelope) (*model.Message, error)
	// Page returns one numbered page of history, newest first.
	Page(ctx context.Context, viewer, chatID uuid.UUID, page, size int) (model.HistoryPage, error)
	// MarkRead marks every message by others as read by viewer.
	MarkRead(ctx context.Context, viewer, chatID uuid.UUID) (int64, error)
	// UnreadCount counts messages by others not yet read by viewer.
	UnreadCount(ctx context.Context, viewer, chatID uuid.UUID) (int64, error)
	// ListUnread returns messages by others not yet read by viewer, oldest first.
	ListUnread(ctx context.Context, viewer, chatID uuid.UUID, limit int) ([]model.Message, error)
	// DeleteAll wipes the conversation history.
	DeleteAll(ctx context.Context, actor, chatID uuid.UUID) (int64, error)
}

type MessageServiceImpl struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	notify   Notifier
	pageSize int
	maxPage  int
}

// NewMessageService constructs MessageService with paging limits.
func NewMessageService(chats repository.ChatRepository, messages repository.MessageRepository, n Notifier, pageSize, maxPageSize int) *MessageServiceImpl {
	if pageSize <= 0 {
		pageSize = 20
	}
	if maxPageSize < pageSize {
		maxPageSize = pageSize
	}
	if n == nil {
		n = NopNotifier{}
	}
	return &MessageServiceImpl{chats: chats, messages: messages, notify: n, pageSize: pageSize, maxPage: maxPageSize}
}

func (s *MessageServiceImpl) requireMember(ctx context.Context, chatID, userID uuid.UUID) error {
	ok, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrForbidden
	}
	return nil
}

// Send persists the envelope and then notifies every member except the sender.
func (s *MessageServiceImpl) Send(ctx context.Context, senderID, chatID uuid.UUID, env model.Envelope) (*model.Message, error) {
	if env.Empty() {
		return nil, fmt.Errorf("%w: envelope without ciphertext/nonce", errs.ErrMalformedKey)
	}
	c, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(senderID) {
		return nil, errs.ErrForbidden
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	m := &model.Message{ID: id, ChatID: chatID, SenderID: senderID, Payload: env}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	s.notify.MessageCreated(ctx, *m, c.Recipients(senderID))
	return m, nil
}

// Page clamps page to >= 1 and size to the configured bounds.
// A page past the end is empty but still reports TotalPages.
func (s *MessageServiceImpl) Page(ctx context.Context, viewer, chatID uuid.UUID, page, size int) (model.HistoryPage, error) {
	if err := s.requireMember(ctx, chatID, viewer); err != nil {
		return model.HistoryPage{}, err
	}
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = s.pageSize
	case size > s.maxPage:
		size = s.maxPage
	}

	msgs, total, err := s.messages.Page(ctx, chatID, (page-1)*size, size)
	if err != nil {
		return model.HistoryPage{}, err
	}
	return model.HistoryPage{
		Messages:   msgs,
		Page:       page,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// MarkRead is idempotent; it returns the number of markers added.
func (s *MessageServiceImpl) MarkRead(ctx context.Context, viewer, chatID uuid.UUID) (int64, error) {
	if err := s.requireMember(ctx, chatID, viewer); err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, chatID, viewer)
}

// UnreadCount never counts the viewer's own messages.
func (s *MessageServiceImpl) UnreadCount(ctx context.Context, viewer, chatID uuid.UUID) (int64, error) {
	if err := s.requireMember(ctx, chatID, viewer); err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, chatID, viewer)
}

// ListUnread returns at most limit messages; limit is clamped like a page size.
func (s *MessageServiceImpl) ListUnread(ctx context.Context, viewer, chatID uuid.UUID, limit int) ([]model.Message, error) {
	if err := s.requireMember(ctx, chatID, viewer); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxPage {
		limit = s.maxPage
	}
	return s.messages.ListUnread(ctx, chatID, viewer, limit)
}

// DeleteAll is allowed to either participant of a direct conversation and to the admin of a group.
func (s *MessageServiceImpl) DeleteAll(ctx context.Context, actor, chatID uuid.UUID) (int64, error) {
	c, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if (c.IsGroup && c.AdminID != actor) || (!c.IsGroup && !c.HasMember(actor)) {
		return 0, errs.ErrForbidden
	}
	n, err := s.messages.DeleteAll(ctx, chatID)
	if err != nil {
		return 0, err
	}
	s.notify.ConversationDeleted(ctx, chatID, actor)
	return n, nil
}
