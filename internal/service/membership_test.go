package service

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

func TestMembership_JoinApproveFlow(t *testing.T) {
	t.Parallel()
	ids := newIDs(3)
	admin, alice, bob := ids[0], ids[1], ids[2]
	chats := newFakeChats()
	g := seedGroup(chats, admin, admin, alice)
	s := NewMembershipService(chats, nil)
	ctx := context.Background()

	st, err := s.State(ctx, g.ID, bob)
	require.NoError(t, err)
	require.Equal(t, model.NotMember, st)

	st, err = s.RequestJoin(ctx, g.ID, bob)
	require.NoError(t, err)
	require.Equal(t, model.PendingApproval, st)

	// idempotent
	st, err = s.RequestJoin(ctx, g.ID, bob)
	require.NoError(t, err)
	require.Equal(t, model.PendingApproval, st)
	c, _ := chats.Get(ctx, g.ID)
	require.Equal(t, []uuid.UUID{bob}, c.Pending)

	require.ErrorIs(t, s.Approve(ctx, g.ID, alice, bob, entryFor(bob)), errs.ErrForbidden)
	require.ErrorIs(t, s.Approve(ctx, g.ID, admin, bob, entryFor(alice)), errs.ErrMalformedKey)
	require.ErrorIs(t, s.Approve(ctx, g.ID, admin, bob, model.WrappedKeyEntry{MemberID: bob}), errs.ErrMalformedKey)

	require.NoError(t, s.Approve(ctx, g.ID, admin, bob, entryFor(bob)))
	c, _ = chats.Get(ctx, g.ID)
	require.True(t, c.HasMember(bob))
	require.False(t, c.IsPending(bob))
	require.NoError(t, c.Validate())
	k, ok := c.KeyFor(bob)
	require.True(t, ok)
	require.Equal(t, entryFor(bob), k)

	st, err = s.State(ctx, g.ID, bob)
	require.NoError(t, err)
	require.Equal(t, model.Member, st)

	_, err = s.RequestJoin(ctx, g.ID, bob)
	require.ErrorIs(t, err, errs.ErrConflict)

	require.ErrorIs(t, s.Approve(ctx, g.ID, admin, bob, entryFor(bob)), errs.ErrNotFound, "no pending entry left")
	require.ErrorIs(t, s.Approve(ctx, uuid.Must(uuid.NewV4()), admin, bob, entryFor(bob)), errs.ErrNotFound)
}

func TestMembership_DeclineKeepsMembersAndKeys(t *testing.T) {
	t.Parallel()
	ids := newIDs(3)
	admin, alice, bob := ids[0], ids[1], ids[2]
	chats := newFakeChats()
	g := seedGroup(chats, admin, admin, alice)
	s := NewMembershipService(chats, nil)
	ctx := context.Background()

	_, err := s.RequestJoin(ctx, g.ID, bob)
	require.NoError(t, err)
	before, _ := chats.Get(ctx, g.ID)

	require.ErrorIs(t, s.Decline(ctx, g.ID, alice, bob), errs.ErrForbidden)
	require.NoError(t, s.Decline(ctx, g.ID, admin, bob))

	after, _ := chats.Get(ctx, g.ID)
	require.Empty(t, after.Pending)
	require.Equal(t, before.Members, after.Members)
	require.Equal(t, before.Keys, after.Keys)

	require.ErrorIs(t, s.Decline(ctx, g.ID, admin, bob), errs.ErrNotFound)
}

func TestMembership_Exit(t *testing.T) {
	t.Parallel()
	ids := newIDs(2)
	admin, alice := ids[0], ids[1]
	chats := newFakeChats()
	g := seedGroup(chats, admin, admin, alice)
	note := &recNotifier{}
	s := NewMembershipService(chats, note)
	ctx := context.Background()

	require.NoError(t, s.Exit(ctx, g.ID, alice))
	require.Equal(t, []deletedEvent{{chatID: g.ID, by: alice}}, note.left)
	c, _ := chats.Get(ctx, g.ID)
	require.False(t, c.HasMember(alice))
	_, ok := c.KeyFor(alice)
	require.False(t, ok)

	// rejoining starts from scratch
	st, err := s.RequestJoin(ctx, g.ID, alice)
	require.NoError(t, err)
	require.Equal(t, model.PendingApproval, st)

	require.ErrorIs(t, s.Exit(ctx, g.ID, admin), errs.ErrConflict)
	require.Len(t, note.left, 1)
}

func TestMembership_DirectConversationRejected(t *testing.T) {
	t.Parallel()
	ids := newIDs(3)
	chats := newFakeChats()
	d := &model.Conversation{ID: uuid.Must(uuid.NewV4()), Members: ids[:2]}
	chats.put(d)
	s := NewMembershipService(chats, nil)

	_, err := s.RequestJoin(context.Background(), d.ID, ids[2])
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	require.ErrorIs(t, s.Exit(context.Background(), d.ID, ids[0]), errs.ErrInvalidArgument)
}
