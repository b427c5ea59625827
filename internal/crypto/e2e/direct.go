package e2e

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/nacl/box"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

// EncryptDirect seals plaintext from mySecret to peerPublic with a fresh random nonce.
func EncryptDirect(plaintext []byte, mySecret, peerPublic *[KeySize]byte) (model.Envelope, error) {
	nonce, err := newNonce()
	if err != nil {
		return model.Envelope{}, err
	}
	ct := box.Seal(nil, plaintext, nonce, peerPublic, mySecret)
	return model.Envelope{Ciphertext: ct, Nonce: nonce[:]}, nil
}

// DecryptDirect opens a direct message. Any failure, including an unparsable envelope,
// is reported as errs.ErrDecryption.
func DecryptDirect(env model.Envelope, counterpartyPublic, mySecret *[KeySize]byte) ([]byte, error) {
	if counterpartyPublic == nil || mySecret == nil {
		return nil, fmt.Errorf("%w: key not available", errs.ErrDecryption)
	}
	nonce, ok := parseNonce(env.Nonce)
	if !ok || len(env.Ciphertext) < box.Overhead {
		return nil, fmt.Errorf("%w: malformed envelope", errs.ErrDecryption)
	}
	pt, ok := box.Open(nil, env.Ciphertext, nonce, counterpartyPublic, mySecret)
	if !ok {
		return nil, errs.ErrDecryption
	}
	return pt, nil
}

// CounterpartyKey picks the public key that pairs with the reader's secret key.
// Box authenticates the key pair, not the direction: a message the reader authored
// opens with the recipient's key, a message from the peer opens with the author's key.
func CounterpartyKey(authorID, readerID uuid.UUID, authorPublic, peerPublic *[KeySize]byte) *[KeySize]byte {
	if authorID == readerID {
		return peerPublic
	}
	return authorPublic
}
