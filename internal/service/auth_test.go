package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/cipher-relay/internal/crypto"
	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/token"
)

var cheapHash = pkgcrypto.Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16}

func testKeys() model.IdentityKeys {
	return model.IdentityKeys{
		PublicKey:         make([]byte, 32),
		WrappedPrivateKey: []byte("wrapped"),
		Salt:              make([]byte, 16),
		IV:                make([]byte, 12),
	}
}

func newTestAuth(users *fakeUsers, lim *fakeLimiter, ttl time.Duration) (*AuthServiceImpl, *token.Manager) {
	tm := token.NewManager([]byte("secret"), ttl)
	s := NewAuthService(users, tm, lim)
	s.hash = cheapHash
	return s, tm
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	s, _ := newTestAuth(users, &fakeLimiter{}, time.Minute)
	ctx := context.Background()

	if _, err := s.Register(ctx, "", "", testKeys()); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument on empty username/password, got %v", err)
	}
	if _, err := s.Register(ctx, "alice", "pwd", model.IdentityKeys{PublicKey: make([]byte, 32)}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument on incomplete keys, got %v", err)
	}
	bad := testKeys()
	bad.PublicKey = []byte{1, 2, 3}
	if _, err := s.Register(ctx, "alice", "pwd", bad); !errors.Is(err, errs.ErrMalformedKey) {
		t.Fatalf("want ErrMalformedKey on short public key, got %v", err)
	}

	id, err := s.Register(ctx, "alice", "pwd", testKeys())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}
	stored := users.byName["alice"]
	if string(stored.Keys.WrappedPrivateKey) != "wrapped" || len(stored.PwdHash) == 0 {
		t.Fatalf("stored user lacks key material or hash: %+v", stored)
	}
	if string(stored.PwdHash) == "pwd" {
		t.Fatalf("password stored in clear")
	}

	if _, err := s.Register(ctx, "alice", "pwd2", testKeys()); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(ctx, "bob", "pwd", testKeys()); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	users := newFakeUsers()
	lim := &fakeLimiter{allowOK: true}
	s, tm := newTestAuth(users, lim, 2*time.Minute)
	ctx := context.Background()

	uid, err := s.Register(ctx, "alice", "correct", testKeys())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.LoginWithIP(ctx, "nope", "x", ""); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated on missing user, got %v", err)
	}

	lim.failBlocked = true
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}
	lim.failBlocked = false

	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated on wrong password, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct", ""); err == nil || errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("want storage error, got %v", err)
	}
	users.getErr = nil

	tok, got, err := s.LoginWithIP(ctx, "alice", "correct", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if tok.AccessToken == "" || !tok.ExpiresAt.After(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if got.ID != uid || !got.Keys.Complete() {
		t.Fatalf("login must return the wrapped key material: %+v", got)
	}
	sub, err := tm.Verify(tok.AccessToken)
	if err != nil || sub != uid {
		t.Fatalf("token subject = %v, %v", sub, err)
	}
	if lim.successCalls == 0 || lim.failureCalls != 3 {
		t.Fatalf("limiter calls: success=%d failure=%d", lim.successCalls, lim.failureCalls)
	}
}

func TestAuth_PublicKey(t *testing.T) {
	t.Parallel()
	id := uuid.Must(uuid.NewV4())
	s, _ := newTestAuth(newFakeUsers(id), &fakeLimiter{}, time.Minute)
	ctx := context.Background()

	pk, err := s.PublicKey(ctx, id)
	if err != nil || string(pk) != string(id.Bytes()) {
		t.Fatalf("PublicKey: %x, %v", pk, err)
	}
	if _, err := s.PublicKey(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.PublicKey(ctx, uuid.Nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}
