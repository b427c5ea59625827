package e2e

import (
	"crypto/sha256"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/pbkdf2"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

// Params
const (
	SaltLen = 16
	IVLen   = chacha20poly1305.NonceSize

	pbkdf2Iterations = 100_000
)

// Vault holds an identity's secret key in memory only.
// The zero value is locked; obtain one from NewIdentity or Unlock.
type Vault struct {
	public [KeySize]byte
	secret [KeySize]byte
	open   bool
}

// deriveWrappingKey derives the key that seals the secret key from password and salt.
func deriveWrappingKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, pbkdf2Iterations, KeySize, sha256.New)
}

// NewIdentity generates a fresh key pair and returns the open vault together with the
// material to upload at registration: public key, wrapped secret key, salt and IV.
func NewIdentity(password []byte) (*Vault, model.IdentityKeys, error) {
	pub, sec, err := box.GenerateKey(randReader)
	if err != nil {
		return nil, model.IdentityKeys{}, err
	}
	v := &Vault{public: *pub, secret: *sec, open: true}
	wipe(sec[:])
	keys, err := v.Wrap(password)
	if err != nil {
		v.Close()
		return nil, model.IdentityKeys{}, err
	}
	return v, keys, nil
}

// Wrap seals the vault's secret key under a key derived from password with a fresh salt and IV.
func (v *Vault) Wrap(password []byte) (model.IdentityKeys, error) {
	if !v.open {
		return model.IdentityKeys{}, fmt.Errorf("%w: vault is locked", errs.ErrMalformedKey)
	}
	if len(password) == 0 {
		return model.IdentityKeys{}, fmt.Errorf("%w: empty password", errs.ErrInvalidArgument)
	}
	salt, err := Rand(SaltLen)
	if err != nil {
		return model.IdentityKeys{}, err
	}
	iv, err := Rand(IVLen)
	if err != nil {
		return model.IdentityKeys{}, err
	}
	wk := deriveWrappingKey(password, salt)
	defer wipe(wk)
	aead, err := chacha20poly1305.New(wk)
	if err != nil {
		return model.IdentityKeys{}, err
	}
	return model.IdentityKeys{
		PublicKey:         append([]byte(nil), v.public[:]...),
		WrappedPrivateKey: aead.Seal(nil, iv, v.secret[:], nil),
		Salt:              salt,
		IV:                iv,
	}, nil
}

// Unlock derives the wrapping key from password and salt and opens the wrapped secret key.
// Missing parameters and failed authentication both yield errs.ErrMalformedKey.
func Unlock(password, salt, iv, wrapped []byte) (*Vault, error) {
	if len(password) == 0 || len(salt) == 0 || len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: missing derivation parameters", errs.ErrMalformedKey)
	}
	if len(iv) != IVLen {
		return nil, fmt.Errorf("%w: iv length %d", errs.ErrMalformedKey, len(iv))
	}
	wk := deriveWrappingKey(password, salt)
	defer wipe(wk)
	aead, err := chacha20poly1305.New(wk)
	if err != nil {
		return nil, err
	}
	sec, err := aead.Open(nil, iv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open wrapped key", errs.ErrMalformedKey)
	}
	defer wipe(sec)
	if len(sec) != KeySize {
		return nil, fmt.Errorf("%w: secret key length %d", errs.ErrMalformedKey, len(sec))
	}
	pub, err := curve25519.X25519(sec, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedKey, err)
	}
	v := &Vault{open: true}
	copy(v.secret[:], sec)
	copy(v.public[:], pub)
	return v, nil
}

// UnlockKeys is Unlock over stored identity material.
func UnlockKeys(password []byte, k model.IdentityKeys) (*Vault, error) {
	return Unlock(password, k.Salt, k.IV, k.WrappedPrivateKey)
}

// PublicKey returns a copy of the identity's public key.
func (v *Vault) PublicKey() *[KeySize]byte {
	pk := v.public
	return &pk
}

// Close zeroes the secret key; the vault cannot be used afterwards.
func (v *Vault) Close() {
	wipe(v.secret[:])
	v.open = false
}

func (v *Vault) secretKey() (*[KeySize]byte, error) {
	if !v.open {
		return nil, fmt.Errorf("%w: vault is locked", errs.ErrMalformedKey)
	}
	return &v.secret, nil
}

// EncryptDirect seals plaintext for peerPublic.
func (v *Vault) EncryptDirect(plaintext []byte, peerPublic *[KeySize]byte) (model.Envelope, error) {
	sk, err := v.secretKey()
	if err != nil {
		return model.Envelope{}, err
	}
	return EncryptDirect(plaintext, sk, peerPublic)
}

// DecryptDirect opens a direct message using the counterparty key (see CounterpartyKey).
func (v *Vault) DecryptDirect(env model.Envelope, counterpartyPublic *[KeySize]byte) ([]byte, error) {
	sk, err := v.secretKey()
	if err != nil {
		return nil, errs.ErrDecryption
	}
	return DecryptDirect(env, counterpartyPublic, sk)
}

// WrapGroupKey seals k for every recipient, with this vault as the wrapper.
func (v *Vault) WrapGroupKey(k *GroupKey, recipients []Recipient) ([]model.WrappedKeyEntry, error) {
	sk, err := v.secretKey()
	if err != nil {
		return nil, err
	}
	return WrapForAll(k, recipients, sk)
}

// UnwrapGroupKey recovers the group key from this identity's entry.
func (v *Vault) UnwrapGroupKey(entry model.WrappedKeyEntry, wrapperPublic *[KeySize]byte) (*GroupKey, bool) {
	sk, err := v.secretKey()
	if err != nil {
		return nil, false
	}
	return Unwrap(entry, wrapperPublic, sk)
}

// ReWrapFor recovers the group key from the admin's own entry and seals it for a new member.
func (v *Vault) ReWrapFor(own model.WrappedKeyEntry, newMemberID uuid.UUID, newMemberPublic *[KeySize]byte) (model.WrappedKeyEntry, error) {
	sk, err := v.secretKey()
	if err != nil {
		return model.WrappedKeyEntry{}, err
	}
	return ReWrapFor(own, &v.public, sk, newMemberID, newMemberPublic)
}
