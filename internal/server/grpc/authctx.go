package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// identityKey is unexported so nothing outside AuthUnary can forge an identity.
type identityKey struct{}

// WithUserID attaches the identity resolved from the bearer token.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// UserIDFromCtx returns the authenticated identity. uuid.Nil never counts as one.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(identityKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
