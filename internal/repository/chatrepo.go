package repository

import (
	"context"

	"github.com/and161185/cipher-relay/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ChatRepository stores conversations, their membership and wrapped group keys.
type ChatRepository interface {
	// Get loads a conversation with members, pending requests and key entries.
	Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	// FindDirect returns the direct conversation between two identities.
	FindDirect(ctx context.Context, a, b uuid.UUID) (*model.Conversation, error)
	// CreateDirect inserts a direct conversation; a concurrent duplicate yields errs.ErrAlreadyExists.
	CreateDirect(ctx context.Context, c *model.Conversation) error
	// CreateGroup inserts a group with its members and key entries atomically.
	CreateGroup(ctx context.Context, c *model.Conversation) error
	// ListForUser returns the user's conversations with unread counts, most recently active first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error)
	// ListGroups returns the group directory.
	ListGroups(ctx context.Context) ([]model.GroupInfo, error)
	// ListAdminPending returns groups administered by adminID that have pending requests.
	ListAdminPending(ctx context.Context, adminID uuid.UUID) ([]model.Conversation, error)
	// IsMember reports whether userID belongs to the conversation.
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)

	// AddPending records a join request; repeated requests are no-ops.
	AddPending(ctx context.Context, chatID, userID uuid.UUID) error
	// ApprovePending moves userID from pending to members and stores its key entry.
	// A missing pending entry yields errs.ErrNotFound.
	ApprovePending(ctx context.Context, chatID uuid.UUID, entry model.WrappedKeyEntry) error
	// RemovePending drops a join request; a missing entry yields errs.ErrNotFound.
	RemovePending(ctx context.Context, chatID, userID uuid.UUID) error
	// RemoveMember drops the member and its key entry.
	RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error
}
