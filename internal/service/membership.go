package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/repository"
)

// MembershipService drives the group join protocol:
// NotMember -> PendingApproval -> Member, back to NotMember on decline or exit.
type MembershipService interface {
	// RequestJoin puts userID into pending; repeating the request is a no-op.
	RequestJoin(ctx context.Context, chatID, userID uuid.UUID) (model.MembershipState, error)
	// Approve admits a pending user with the key entry re-wrapped for them by the admin.
	Approve(ctx context.Context, chatID, adminID, userID uuid.UUID, entry model.WrappedKeyEntry) error
	// Decline drops a pending request.
	Decline(ctx context.Context, chatID, adminID, userID uuid.UUID) error
	// Exit removes userID and its key entry.
	Exit(ctx context.Context, chatID, userID uuid.UUID) error
	// State reports where userID stands in the group.
	State(ctx context.Context, chatID, userID uuid.UUID) (model.MembershipState, error)
}

type MembershipServiceImpl struct {
	chats  repository.ChatRepository
	notify Notifier
}

// NewMembershipService constructs MembershipService. A nil Notifier drops events.
func NewMembershipService(chats repository.ChatRepository, n Notifier) *MembershipServiceImpl {
	if n == nil {
		n = NopNotifier{}
	}
	return &MembershipServiceImpl{chats: chats, notify: n}
}

func (s *MembershipServiceImpl) group(ctx context.Context, chatID uuid.UUID) (*model.Conversation, error) {
	c, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return nil, fmt.Errorf("%w: not a group conversation", errs.ErrInvalidArgument)
	}
	return c, nil
}

// RequestJoin records a join request. Members get errs.ErrConflict.
func (s *MembershipServiceImpl) RequestJoin(ctx context.Context, chatID, userID uuid.UUID) (model.MembershipState, error) {
	c, err := s.group(ctx, chatID)
	if err != nil {
		return model.NotMember, err
	}
	switch c.State(userID) {
	case model.Member:
		return model.Member, fmt.Errorf("%w: already a member", errs.ErrConflict)
	case model.PendingApproval:
		return model.PendingApproval, nil
	}
	if err := s.chats.AddPending(ctx, chatID, userID); err != nil {
		return model.NotMember, err
	}
	return model.PendingApproval, nil
}

// Approve requires adminID to be the group admin and entry to be addressed to userID.
func (s *MembershipServiceImpl) Approve(ctx context.Context, chatID, adminID, userID uuid.UUID, entry model.WrappedKeyEntry) error {
	c, err := s.group(ctx, chatID)
	if err != nil {
		return err
	}
	if c.AdminID != adminID {
		return errs.ErrForbidden
	}
	if !c.IsPending(userID) {
		return fmt.Errorf("pending request of %s: %w", userID, errs.ErrNotFound)
	}
	if entry.MemberID != userID || entry.Key.Empty() {
		return fmt.Errorf("%w: key entry is not addressed to %s", errs.ErrMalformedKey, userID)
	}
	return s.chats.ApprovePending(ctx, chatID, entry)
}

// Decline removes userID from pending without touching members or key entries.
func (s *MembershipServiceImpl) Decline(ctx context.Context, chatID, adminID, userID uuid.UUID) error {
	c, err := s.group(ctx, chatID)
	if err != nil {
		return err
	}
	if c.AdminID != adminID {
		return errs.ErrForbidden
	}
	return s.chats.RemovePending(ctx, chatID, userID)
}

// Exit is self-service. The admin cannot leave because the admin identity is fixed.
// The leaver's live sessions are dropped from the conversation channel; the group key is not rotated.
func (s *MembershipServiceImpl) Exit(ctx context.Context, chatID, userID uuid.UUID) error {
	c, err := s.group(ctx, chatID)
	if err != nil {
		return err
	}
	if c.AdminID == userID {
		return fmt.Errorf("%w: the admin cannot leave the group", errs.ErrConflict)
	}
	if err := s.chats.RemoveMember(ctx, chatID, userID); err != nil {
		return err
	}
	s.notify.MemberLeft(ctx, chatID, userID)
	return nil
}

// State reports where userID stands in the group.
func (s *MembershipServiceImpl) State(ctx context.Context, chatID, userID uuid.UUID) (model.MembershipState, error) {
	c, err := s.group(ctx, chatID)
	if err != nil {
		return model.NotMember, err
	}
	return c.State(userID), nil
}
