package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/token"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if id, ok := UserIDFromCtx(ctx); ok {
			fields = append(fields, zap.String("user", id.String()))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(tok string) (uuid.UUID, error)
}

// publicMethods need no bearer token.
var publicMethods = map[string]bool{
	relayv1.FullMethod("Register"): true,
	relayv1.FullMethod("Login"):    true,
}

// AuthUnary verifies "authorization: Bearer <token>" for every relay method except
// registration and login, and stores the identity with WithUserID. Calls to other
// services (health, reflection) pass through.
func AuthUnary(tokens TokenVerifier) grpc.UnaryServerInterceptor {
	prefix := "/" + relayv1.ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] || !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		tok, ok := bearerTokenFromMD(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "no bearer token")
		}
		id, err := tokens.Verify(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(WithUserID(ctx, id), req)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get("authorization") {
		if t, ok := token.FromHeader(v); ok {
			return t, true
		}
	}
	return "", false
}
