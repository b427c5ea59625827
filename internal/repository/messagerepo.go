package repository

import (
	"context"

	"github.com/and161185/cipher-relay/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository stores ciphertext messages and their read markers.
type MessageRepository interface {
	// Create inserts a message and fills in its creation time.
	Create(ctx context.Context, m *model.Message) error
	// Page returns messages newest first (ties broken by id) and the total count.
	Page(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]model.Message, int64, error)
	// MarkRead adds a marker for readerID to every message by others that lacks one.
	MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int64, error)
	// UnreadCount counts messages by others without a marker for readerID.
	UnreadCount(ctx context.Context, chatID, readerID uuid.UUID) (int64, error)
	// ListUnread returns unread messages by others, oldest first.
	ListUnread(ctx context.Context, chatID, readerID uuid.UUID, limit int) ([]model.Message, error)
	// DeleteAll removes every message of a conversation.
	DeleteAll(ctx context.Context, chatID uuid.UUID) (int64, error)
}
