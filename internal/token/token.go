// Package token issues and verifies HS256 bearer tokens for relay identities.
// The same verifier guards gRPC requests and the websocket handshake.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/cipher-relay/internal/errs"
)

const leeway = 30 * time.Second

// Manager signs and validates access tokens.
type Manager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewManager constructs a Manager with an HS256 key and access token TTL.
func NewManager(key []byte, ttl time.Duration) *Manager {
	return &Manager{key: key, ttl: ttl, now: time.Now}
}

// Issue creates a signed token whose subject is the identity id.
func (m *Manager) Issue(userID uuid.UUID) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	return signed, exp, err
}

// Verify checks signature and validity window and returns the subject.
// All failures wrap errs.ErrUnauthenticated.
func (m *Manager) Verify(tok string) (uuid.UUID, error) {
	if tok == "" {
		return uuid.Nil, fmt.Errorf("%w: no token", errs.ErrUnauthenticated)
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return m.key, nil
	}, jwt.WithLeeway(leeway), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthenticated)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthenticated)
	}
	return id, nil
}

// FromHeader extracts the token from an "Authorization: Bearer <token>" value.
func FromHeader(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}
