// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// IdentityKeys is the client-produced key material stored for an identity.
// The private key only ever reaches the server wrapped under a password-derived key.
type IdentityKeys struct {
	PublicKey         []byte // NaCl box public key (32 bytes)
	WrappedPrivateKey []byte // AEAD(secret key) under PBKDF2(password, Salt)
	Salt              []byte // PBKDF2 salt
	IV                []byte // AEAD nonce used for the wrap
}

// Complete reports whether every key field is present.
func (k IdentityKeys) Complete() bool {
	return len(k.PublicKey) > 0 && len(k.WrappedPrivateKey) > 0 && len(k.Salt) > 0 && len(k.IV) > 0
}

// User represents an account stored on the server. Sensitive keys are never stored in plaintext.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user auth salt
	Keys      IdentityKeys
	CreatedAt time.Time
}

// Envelope is the (ciphertext, nonce) pair stored and relayed in place of plaintext.
// It is JSON-encoded exactly once; byte fields render as base64.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// Empty reports whether either half of the envelope is missing.
func (e Envelope) Empty() bool { return len(e.Ciphertext) == 0 || len(e.Nonce) == 0 }

// WrappedKeyEntry is a group key sealed for one member by the group admin.
type WrappedKeyEntry struct {
	MemberID uuid.UUID `json:"memberId"`
	Key      Envelope  `json:"key"`
}
