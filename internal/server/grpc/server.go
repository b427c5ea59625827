// Package grpcserver exposes the relay request API over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/convert"
	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/service"
)

// PresenceReader answers presence queries.
type PresenceReader interface {
	Snapshot(ctx context.Context, ids []uuid.UUID) ([]model.PresenceStatus, error)
}

// Services bundles what the handlers call.
type Services struct {
	Auth     service.AuthService
	Chats    service.ChatService
	Members  service.MembershipService
	Messages service.MessageService
	Presence PresenceReader
}

// maxPresenceIDs bounds a single presence query.
const maxPresenceIDs = 500

// Server wires services into gRPC handlers.
type Server struct {
	log      *zap.Logger
	auth     service.AuthService
	chats    service.ChatService
	members  service.MembershipService
	msgs     service.MessageService
	presence PresenceReader
}

var _ relayv1.RelayServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(log *zap.Logger, svc Services) *Server {
	return &Server{
		log:      log,
		auth:     svc.Auth,
		chats:    svc.Chats,
		members:  svc.Members,
		msgs:     svc.Messages,
		presence: svc.Presence,
	}
}

// toStatus maps domain errors to gRPC codes. Unknown errors are logged and hidden.
func (s *Server) toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, errs.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrMalformedKey):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, errs.ErrConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		s.log.Error("request failed", zap.String("op", op), zap.Error(err))
		return status.Errorf(codes.Internal, "%s: internal error", op)
	}
	return status.Errorf(code, "%s: %v", op, err)
}

func (s *Server) caller(ctx context.Context) (uuid.UUID, error) {
	id, ok := UserIDFromCtx(ctx)
	if !ok {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

// remoteIP returns the peer host without the port so throttling keys on the address.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// --- Auth ---

// Register creates an identity from a password and client-generated keys.
func (s *Server) Register(ctx context.Context, req *relayv1.RegisterRequest) (*relayv1.RegisterResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	id, err := s.auth.Register(ctx, req.Username, req.Password, convert.IdentityKeys(req))
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return &relayv1.RegisterResponse{UserID: id.String()}, nil
}

// Login authenticates and returns a token with the wrapped key material.
func (s *Server) Login(ctx context.Context, req *relayv1.LoginRequest) (*relayv1.LoginResponse, error) {
	tok, u, err := s.auth.LoginWithIP(ctx, req.Username, req.Password, remoteIP(ctx))
	if err != nil {
		if errors.Is(err, errs.ErrUnauthenticated) {
			return nil, status.Error(codes.Unauthenticated, "bad credentials")
		}
		return nil, s.toStatus("login", err)
	}
	return &relayv1.LoginResponse{
		AccessToken:       tok.AccessToken,
		ExpiresAt:         tok.ExpiresAt,
		UserID:            u.ID.String(),
		PublicKey:         u.Keys.PublicKey,
		WrappedPrivateKey: u.Keys.WrappedPrivateKey,
		Salt:              u.Keys.Salt,
		IV:                u.Keys.IV,
	}, nil
}

// PublicKey returns an identity's public encryption key.
func (s *Server) PublicKey(ctx context.Context, req *relayv1.PublicKeyRequest) (*relayv1.PublicKeyResponse, error) {
	id, err := convert.ParseID("userId", req.UserID)
	if err != nil {
		return nil, s.toStatus("public key", err)
	}
	pk, err := s.auth.PublicKey(ctx, id)
	if err != nil {
		return nil, s.toStatus("public key", err)
	}
	return &relayv1.PublicKeyResponse{UserID: id.String(), PublicKey: pk}, nil
}

// GetPresence reports presence for the requested identities.
func (s *Server) GetPresence(ctx context.Context, req *relayv1.PresenceRequest) (*relayv1.PresenceResponse, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	if len(req.UserIDs) > maxPresenceIDs {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d ids", maxPresenceIDs)
	}
	ids, err := convert.ParseIDs("userIds", req.UserIDs)
	if err != nil {
		return nil, s.toStatus("presence", err)
	}
	st, err := s.presence.Snapshot(ctx, ids)
	if err != nil {
		return nil, s.toStatus("presence", err)
	}
	return &relayv1.PresenceResponse{Statuses: convert.ToPresence(st)}, nil
}
