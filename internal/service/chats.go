package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/repository"
)

// ChatService manages direct and group conversations.
type ChatService interface {
	// AccessDirect returns the direct conversation of me and peer, creating it on first contact.
	AccessDirect(ctx context.Context, me, peer uuid.UUID) (*model.Conversation, error)
	// CreateGroup creates a group whose members are exactly the entries' member ids.
	CreateGroup(ctx context.Context, adminID uuid.UUID, name string, entries []model.WrappedKeyEntry) (*model.Conversation, error)
	// Get returns a conversation as seen by viewer.
	Get(ctx context.Context, viewer, chatID uuid.UUID) (*model.Conversation, error)
	// List returns the viewer's conversations with unread counts.
	List(ctx context.Context, viewer uuid.UUID) ([]model.ConversationSummary, error)
	// AdminPending returns groups administered by adminID with outstanding join requests.
	AdminPending(ctx context.Context, adminID uuid.UUID) ([]model.Conversation, error)
	// Groups returns the group directory.
	Groups(ctx context.Context) ([]model.GroupInfo, error)
}

type ChatServiceImpl struct {
	chats repository.ChatRepository
	users repository.UserRepository
}

// NewChatService constructs ChatService.
func NewChatService(chats repository.ChatRepository, users repository.UserRepository) *ChatServiceImpl {
	return &ChatServiceImpl{chats: chats, users: users}
}

// AccessDirect finds or creates the unique direct conversation of two identities.
// A concurrent creation of the same pair resolves to the row that won.
func (s *ChatServiceImpl) AccessDirect(ctx context.Context, me, peer uuid.UUID) (*model.Conversation, error) {
	if me == uuid.Nil || peer == uuid.Nil || me == peer {
		return nil, fmt.Errorf("%w: direct conversation needs two distinct users", errs.ErrInvalidArgument)
	}
	c, err := s.chats.FindDirect(ctx, me, peer)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if _, err := s.users.GetByID(ctx, peer); err != nil {
		return nil, fmt.Errorf("peer: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	c = &model.Conversation{ID: id, Members: []uuid.UUID{me, peer}}
	err = s.chats.CreateDirect(ctx, c)
	if errors.Is(err, errs.ErrAlreadyExists) {
		return s.chats.FindDirect(ctx, me, peer)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateGroup validates the wrapped key list and stores the group. The admin is listed first.
func (s *ChatServiceImpl) CreateGroup(ctx context.Context, adminID uuid.UUID, name string, entries []model.WrappedKeyEntry) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if adminID == uuid.Nil || name == "" {
		return nil, fmt.Errorf("%w: group needs an admin and a name", errs.ErrInvalidArgument)
	}

	members := []uuid.UUID{adminID}
	keys := make([]model.WrappedKeyEntry, 0, len(entries))
	seen := make(map[uuid.UUID]struct{}, len(entries))
	var adminKey *model.WrappedKeyEntry
	for i := range entries {
		e := entries[i]
		if e.MemberID == uuid.Nil || e.Key.Empty() {
			return nil, fmt.Errorf("%w: entry %d", errs.ErrMalformedKey, i)
		}
		if _, dup := seen[e.MemberID]; dup {
			return nil, fmt.Errorf("%w: duplicate entry for %s", errs.ErrMalformedKey, e.MemberID)
		}
		seen[e.MemberID] = struct{}{}
		if e.MemberID == adminID {
			adminKey = &e
			continue
		}
		if _, err := s.users.GetByID(ctx, e.MemberID); err != nil {
			return nil, fmt.Errorf("member %s: %w", e.MemberID, err)
		}
		members = append(members, e.MemberID)
		keys = append(keys, e)
	}
	if adminKey == nil {
		return nil, fmt.Errorf("%w: no key entry for the admin", errs.ErrMalformedKey)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	c := &model.Conversation{
		ID:      id,
		Name:    name,
		IsGroup: true,
		AdminID: adminID,
		Members: members,
		Keys:    append([]model.WrappedKeyEntry{*adminKey}, keys...),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	if err := s.chats.CreateGroup(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the conversation if viewer is a member. Only the admin sees pending requests.
func (s *ChatServiceImpl) Get(ctx context.Context, viewer, chatID uuid.UUID) (*model.Conversation, error) {
	c, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(viewer) {
		return nil, errs.ErrForbidden
	}
	if c.AdminID != viewer {
		c.Pending = nil
	}
	return c, nil
}

// List returns the viewer's conversations, most recently active first.
func (s *ChatServiceImpl) List(ctx context.Context, viewer uuid.UUID) ([]model.ConversationSummary, error) {
	return s.chats.ListForUser(ctx, viewer)
}

// AdminPending returns groups administered by adminID with outstanding join requests.
func (s *ChatServiceImpl) AdminPending(ctx context.Context, adminID uuid.UUID) ([]model.Conversation, error) {
	return s.chats.ListAdminPending(ctx, adminID)
}

// Groups returns the group directory.
func (s *ChatServiceImpl) Groups(ctx context.Context) ([]model.GroupInfo, error) {
	return s.chats.ListGroups(ctx)
}
