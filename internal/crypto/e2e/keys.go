// Package e2e contains the client-side end-to-end primitives: the password-protected
// key vault, pairwise encryption for direct conversations and group key wrapping.
// Nothing in this package is ever called by the relay server.
package e2e

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/and161185/cipher-relay/internal/errs"
)

// KeySize is the length of every public, secret and group key.
const KeySize = 32

const nonceSize = 24 // NaCl box / secretbox nonce

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// ParseKey converts raw bytes into a fixed-size key.
func ParseKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: key length %d", errs.ErrMalformedKey, len(b))
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}

func newNonce() (*[nonceSize]byte, error) {
	var n [nonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, err
	}
	return &n, nil
}

func parseNonce(b []byte) (*[nonceSize]byte, bool) {
	if len(b) != nonceSize {
		return nil, false
	}
	var n [nonceSize]byte
	copy(n[:], b)
	return &n, true
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var randReader io.Reader = rand.Reader
