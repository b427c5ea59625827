// Package crypto implements server-side password hashing for relay accounts.
// It is unrelated to the end-to-end key material, which the server never opens.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Params are Argon2id cost parameters.
type Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams are tuned for interactive logins (64 MB, 3 passes).
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

// NewSalt returns a random salt of the configured length.
func (p Params) NewSalt() ([]byte, error) {
	b := make([]byte, p.SaltLen)
	_, err := rand.Read(b)
	return b, err
}

// Hash returns the Argon2id hash of password under salt.
func (p Params) Hash(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// Verify compares password against expected in constant time.
func (p Params) Verify(password, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(p.Hash(password, salt), expected) == 1
}
