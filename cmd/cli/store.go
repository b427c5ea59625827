package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/model"
)

// session is what login leaves on disk: the token and the wrapped identity keys.
// The secret key itself is never written; every command unlocks it from the password.
type session struct {
	AccessToken string             `json:"access_token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	UserID      uuid.UUID          `json:"user_id"`
	Username    string             `json:"username"`
	Keys        model.IdentityKeys `json:"keys"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "cipher-relay")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cipher-relay")
}

type store struct{ dir string }

func (s store) sessionPath() string { return filepath.Join(s.dir, "session.json") }

func (s store) save(sess session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.sessionPath(), b, 0o600)
}

func (s store) load() (*session, error) {
	b, err := os.ReadFile(s.sessionPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("not logged in")
		}
		return nil, err
	}
	var sess session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" || time.Now().After(sess.ExpiresAt) {
		return nil, errors.New("no valid token (login required)")
	}
	return &sess, nil
}
