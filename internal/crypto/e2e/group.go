package e2e

import (
	"fmt"
	"io"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

// GroupKey is the symmetric key shared by all members of a group conversation.
type GroupKey [KeySize]byte

// Recipient is a member to wrap a group key for.
type Recipient struct {
	ID        uuid.UUID
	PublicKey *[KeySize]byte
}

// NewGroupKey generates a fresh random group key. It is never derived from a password.
func NewGroupKey() (*GroupKey, error) {
	var k GroupKey
	if _, err := io.ReadFull(randReader, k[:]); err != nil {
		return nil, err
	}
	return &k, nil
}

// WrapFor seals k for one member using the wrapper's secret key.
func WrapFor(k *GroupKey, memberID uuid.UUID, memberPublic, wrapperSecret *[KeySize]byte) (model.WrappedKeyEntry, error) {
	if k == nil || memberPublic == nil || wrapperSecret == nil {
		return model.WrappedKeyEntry{}, fmt.Errorf("%w: missing key", errs.ErrMalformedKey)
	}
	env, err := EncryptDirect(k[:], wrapperSecret, memberPublic)
	if err != nil {
		return model.WrappedKeyEntry{}, err
	}
	return model.WrappedKeyEntry{MemberID: memberID, Key: env}, nil
}

// WrapForAll produces one entry per recipient. The creator must be among recipients.
func WrapForAll(k *GroupKey, recipients []Recipient, wrapperSecret *[KeySize]byte) ([]model.WrappedKeyEntry, error) {
	out := make([]model.WrappedKeyEntry, 0, len(recipients))
	for _, r := range recipients {
		e, err := WrapFor(k, r.ID, r.PublicKey, wrapperSecret)
		if err != nil {
			return nil, fmt.Errorf("wrap for %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Unwrap recovers the group key with the wrapper's public key and the member's secret key.
// ok is false when the key is not (yet) available to this identity.
func Unwrap(entry model.WrappedKeyEntry, wrapperPublic, mySecret *[KeySize]byte) (*GroupKey, bool) {
	raw, err := DecryptDirect(entry.Key, wrapperPublic, mySecret)
	if err != nil || len(raw) != KeySize {
		return nil, false
	}
	var k GroupKey
	copy(k[:], raw)
	wipe(raw)
	return &k, true
}

// ReWrapFor is run by the admin on approval: the admin opens its own entry (self-wrap, so the
// admin's public key is the wrapper key) and wraps the same, unrotated key for the new member.
func ReWrapFor(own model.WrappedKeyEntry, adminPublic, adminSecret *[KeySize]byte, newMemberID uuid.UUID, newMemberPublic *[KeySize]byte) (model.WrappedKeyEntry, error) {
	k, ok := Unwrap(own, adminPublic, adminSecret)
	if !ok {
		return model.WrappedKeyEntry{}, fmt.Errorf("recover group key: %w", errs.ErrDecryption)
	}
	defer wipe(k[:])
	return WrapFor(k, newMemberID, newMemberPublic, adminSecret)
}

// SealGroup encrypts a group message payload under k.
func SealGroup(plaintext []byte, k *GroupKey) (model.Envelope, error) {
	nonce, err := newNonce()
	if err != nil {
		return model.Envelope{}, err
	}
	kk := [KeySize]byte(*k)
	return model.Envelope{Ciphertext: secretbox.Seal(nil, plaintext, nonce, &kk), Nonce: nonce[:]}, nil
}

// OpenGroup decrypts a group message payload; failures yield errs.ErrDecryption.
func OpenGroup(env model.Envelope, k *GroupKey) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: group key not available", errs.ErrDecryption)
	}
	nonce, ok := parseNonce(env.Nonce)
	if !ok || len(env.Ciphertext) < secretbox.Overhead {
		return nil, fmt.Errorf("%w: malformed envelope", errs.ErrDecryption)
	}
	kk := [KeySize]byte(*k)
	pt, ok := secretbox.Open(nil, env.Ciphertext, nonce, &kk)
	if !ok {
		return nil, errs.ErrDecryption
	}
	return pt, nil
}
