package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/convert"
)

// callerAndChat resolves the caller and the conversation id of a request.
func (s *Server) callerAndChat(ctx context.Context, op, chatID string) (uuid.UUID, uuid.UUID, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := convert.ParseID("chatId", chatID)
	if err != nil {
		return uuid.Nil, uuid.Nil, s.toStatus(op, err)
	}
	return me, id, nil
}

// AccessDirect finds or creates the direct conversation with a peer.
func (s *Server) AccessDirect(ctx context.Context, req *relayv1.AccessDirectRequest) (*relayv1.ConversationResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := convert.ParseID("peerId", req.PeerID)
	if err != nil {
		return nil, s.toStatus("access direct", err)
	}
	c, err := s.chats.AccessDirect(ctx, me, peer)
	if err != nil {
		return nil, s.toStatus("access direct", err)
	}
	return &relayv1.ConversationResponse{Conversation: convert.ToConversation(*c)}, nil
}

// CreateGroup creates a group administered by the caller.
func (s *Server) CreateGroup(ctx context.Context, req *relayv1.CreateGroupRequest) (*relayv1.ConversationResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := convert.FromWrappedKeys(req.Keys)
	if err != nil {
		return nil, s.toStatus("create group", err)
	}
	c, err := s.chats.CreateGroup(ctx, me, req.Name, entries)
	if err != nil {
		return nil, s.toStatus("create group", err)
	}
	return &relayv1.ConversationResponse{Conversation: convert.ToConversation(*c)}, nil
}

// GetChat returns a conversation the caller belongs to.
func (s *Server) GetChat(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.ConversationResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "get chat", req.ChatID)
	if err != nil {
		return nil, err
	}
	c, err := s.chats.Get(ctx, me, chatID)
	if err != nil {
		return nil, s.toStatus("get chat", err)
	}
	return &relayv1.ConversationResponse{Conversation: convert.ToConversation(*c)}, nil
}

// ListChats returns the caller's conversations with unread counts.
func (s *Server) ListChats(ctx context.Context, _ *relayv1.Empty) (*relayv1.ConversationsResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := s.chats.List(ctx, me)
	if err != nil {
		return nil, s.toStatus("list chats", err)
	}
	return &relayv1.ConversationsResponse{Conversations: convert.ToSummaries(cs)}, nil
}

// Groups returns the group directory.
func (s *Server) Groups(ctx context.Context, _ *relayv1.Empty) (*relayv1.GroupsResponse, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	gs, err := s.chats.Groups(ctx)
	if err != nil {
		return nil, s.toStatus("groups", err)
	}
	return &relayv1.GroupsResponse{Groups: convert.ToGroups(gs)}, nil
}

// AdminPending returns the caller's groups with outstanding join requests.
func (s *Server) AdminPending(ctx context.Context, _ *relayv1.Empty) (*relayv1.ConversationsResponse, error) {
	me, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := s.chats.AdminPending(ctx, me)
	if err != nil {
		return nil, s.toStatus("admin pending", err)
	}
	return &relayv1.ConversationsResponse{Conversations: convert.ToConversations(cs)}, nil
}

// --- Membership ---

func (s *Server) RequestJoin(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.MembershipResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "request join", req.ChatID)
	if err != nil {
		return nil, err
	}
	st, err := s.members.RequestJoin(ctx, chatID, me)
	if err != nil {
		return nil, s.toStatus("request join", err)
	}
	return &relayv1.MembershipResponse{State: st.String()}, nil
}

// Approve admits a pending user with the group key re-wrapped for them.
func (s *Server) Approve(ctx context.Context, req *relayv1.ApproveRequest) (*relayv1.Empty, error) {
	me, chatID, err := s.callerAndChat(ctx, "approve", req.ChatID)
	if err != nil {
		return nil, err
	}
	user, err := convert.ParseID("userId", req.UserID)
	if err != nil {
		return nil, s.toStatus("approve", err)
	}
	entry := convert.WrappedKeyFor(user, req.Key)
	if err := s.members.Approve(ctx, chatID, me, user, entry); err != nil {
		return nil, s.toStatus("approve", err)
	}
	return &relayv1.Empty{}, nil
}

func (s *Server) Decline(ctx context.Context, req *relayv1.DeclineRequest) (*relayv1.Empty, error) {
	me, chatID, err := s.callerAndChat(ctx, "decline", req.ChatID)
	if err != nil {
		return nil, err
	}
	user, err := convert.ParseID("userId", req.UserID)
	if err != nil {
		return nil, s.toStatus("decline", err)
	}
	if err := s.members.Decline(ctx, chatID, me, user); err != nil {
		return nil, s.toStatus("decline", err)
	}
	return &relayv1.Empty{}, nil
}

func (s *Server) Exit(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.Empty, error) {
	me, chatID, err := s.callerAndChat(ctx, "exit", req.ChatID)
	if err != nil {
		return nil, err
	}
	if err := s.members.Exit(ctx, chatID, me); err != nil {
		return nil, s.toStatus("exit", err)
	}
	return &relayv1.Empty{}, nil
}

func (s *Server) MembershipState(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.MembershipResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "membership state", req.ChatID)
	if err != nil {
		return nil, err
	}
	st, err := s.members.State(ctx, chatID, me)
	if err != nil {
		return nil, s.toStatus("membership state", err)
	}
	return &relayv1.MembershipResponse{State: st.String()}, nil
}
