package grpcserver

import (
	"context"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/convert"
)

// Send stores an envelope and fans it out to the other members.
func (s *Server) Send(ctx context.Context, req *relayv1.SendRequest) (*relayv1.MessageResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "send", req.ChatID)
	if err != nil {
		return nil, err
	}
	m, err := s.msgs.Send(ctx, me, chatID, convert.FromEnvelope(req.Payload))
	if err != nil {
		return nil, s.toStatus("send", err)
	}
	return &relayv1.MessageResponse{Message: convert.ToMessage(*m)}, nil
}

// Page returns one page of history, newest first.
func (s *Server) Page(ctx context.Context, req *relayv1.PageRequest) (*relayv1.PageResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "page", req.ChatID)
	if err != nil {
		return nil, err
	}
	p, err := s.msgs.Page(ctx, me, chatID, req.Page, req.Size)
	if err != nil {
		return nil, s.toStatus("page", err)
	}
	return &relayv1.PageResponse{Messages: convert.ToMessages(p.Messages), Page: p.Page, TotalPages: p.TotalPages}, nil
}

func (s *Server) MarkRead(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.CountResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "mark read", req.ChatID)
	if err != nil {
		return nil, err
	}
	n, err := s.msgs.MarkRead(ctx, me, chatID)
	if err != nil {
		return nil, s.toStatus("mark read", err)
	}
	return &relayv1.CountResponse{Count: n}, nil
}

func (s *Server) UnreadCount(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.CountResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "unread count", req.ChatID)
	if err != nil {
		return nil, err
	}
	n, err := s.msgs.UnreadCount(ctx, me, chatID)
	if err != nil {
		return nil, s.toStatus("unread count", err)
	}
	return &relayv1.CountResponse{Count: n}, nil
}

func (s *Server) ListUnread(ctx context.Context, req *relayv1.ListUnreadRequest) (*relayv1.MessagesResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "list unread", req.ChatID)
	if err != nil {
		return nil, err
	}
	ms, err := s.msgs.ListUnread(ctx, me, chatID, req.Limit)
	if err != nil {
		return nil, s.toStatus("list unread", err)
	}
	return &relayv1.MessagesResponse{Messages: convert.ToMessages(ms)}, nil
}

// DeleteAll wipes the history of a conversation.
func (s *Server) DeleteAll(ctx context.Context, req *relayv1.ChatRequest) (*relayv1.CountResponse, error) {
	me, chatID, err := s.callerAndChat(ctx, "delete all", req.ChatID)
	if err != nil {
		return nil, err
	}
	n, err := s.msgs.DeleteAll(ctx, me, chatID)
	if err != nil {
		return nil, s.toStatus("delete all", err)
	}
	return &relayv1.CountResponse{Count: n}, nil
}
