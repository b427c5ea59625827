// Package service contains the relay's application services: identities,
// conversations with their membership protocol, and ciphertext messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/cipher-relay/internal/crypto"
	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/limiter"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/repository"
	"github.com/and161185/cipher-relay/internal/token"
)

// AuthService defines registration, login and public key lookup.
type AuthService interface {
	// Register creates a user from a password and client-produced identity keys.
	Register(ctx context.Context, username, password string, keys model.IdentityKeys) (uuid.UUID, error)
	// LoginWithIP applies rate limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	// PublicKey returns the identity's public encryption key.
	PublicKey(ctx context.Context, userID uuid.UUID) ([]byte, error)
}

// publicKeySize is the length of an X25519 public key.
const publicKeySize = 32

type AuthServiceImpl struct {
	users  repository.UserRepository
	tokens *token.Manager
	lim    limiter.Limiter
	hash   pkgcrypto.Params
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, tokens *token.Manager, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, tokens: tokens, lim: lim, hash: pkgcrypto.DefaultParams}
}

// Register validates the key material and stores the user with an Argon2id password hash.
// The wrapped private key is stored as given; the server cannot open it.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string, keys model.IdentityKeys) (uuid.UUID, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return uuid.Nil, fmt.Errorf("%w: empty username/password", errs.ErrInvalidArgument)
	}
	if !keys.Complete() {
		return uuid.Nil, fmt.Errorf("%w: incomplete identity keys", errs.ErrInvalidArgument)
	}
	if len(keys.PublicKey) != publicKeySize {
		return uuid.Nil, fmt.Errorf("%w: public key length %d", errs.ErrMalformedKey, len(keys.PublicKey))
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	saltAuth, err := s.hash.NewSalt()
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  s.hash.Hash([]byte(password), saltAuth),
		SaltAuth: saltAuth,
		Keys:     keys,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return uid, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
// The returned user carries the wrapped key material the client unlocks locally.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !s.hash.Verify([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password are indistinguishable
		return model.Tokens{}, model.User{}, errs.ErrUnauthenticated
	}

	// best-effort reset
	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// PublicKey returns the identity's public encryption key.
func (s *AuthServiceImpl) PublicKey(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Keys.PublicKey, nil
}
