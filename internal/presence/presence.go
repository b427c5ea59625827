// Package presence tracks which identities have at least one live connection.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/model"
)

// Handle identifies one live connection of an identity.
type Handle string

// Store holds, per identity, the set of live connection handles and the time the set
// last became empty. Every relay node that serves the same users must share one Store.
type Store interface {
	// Connect registers h. wentOnline is true on the 0 -> 1 transition; callers broadcast either way.
	Connect(ctx context.Context, userID uuid.UUID, h Handle) (st model.PresenceStatus, wentOnline bool, err error)
	// Disconnect removes h. Only when the last handle goes does it record last-seen and
	// report wentOffline. Unknown handles are ignored.
	Disconnect(ctx context.Context, userID uuid.UUID, h Handle) (st model.PresenceStatus, wentOffline bool, err error)
	// IsOnline reports whether userID holds at least one handle.
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	// Snapshot returns the status of each id in order. Unknown ids are offline with a zero last-seen.
	Snapshot(ctx context.Context, ids []uuid.UUID) ([]model.PresenceStatus, error)
}

// Tracker is the in-process Store for a single relay node. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	conns    map[uuid.UUID]map[Handle]struct{}
	lastSeen map[uuid.UUID]time.Time
	now      func() time.Time
}

var _ Store = (*Tracker)(nil)

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{
		conns:    make(map[uuid.UUID]map[Handle]struct{}),
		lastSeen: make(map[uuid.UUID]time.Time),
		now:      time.Now,
	}
}

func (t *Tracker) Connect(_ context.Context, userID uuid.UUID, h Handle) (model.PresenceStatus, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		set = make(map[Handle]struct{})
		t.conns[userID] = set
	}
	wentOnline := len(set) == 0
	set[h] = struct{}{}
	return model.PresenceStatus{UserID: userID, Online: true}, wentOnline, nil
}

func (t *Tracker) Disconnect(_ context.Context, userID uuid.UUID, h Handle) (model.PresenceStatus, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return t.statusLocked(userID), false, nil
	}
	if _, ok := set[h]; !ok {
		return t.statusLocked(userID), false, nil
	}
	delete(set, h)
	if len(set) > 0 {
		return model.PresenceStatus{UserID: userID, Online: true}, false, nil
	}
	delete(t.conns, userID)
	ts := t.now()
	t.lastSeen[userID] = ts
	return model.PresenceStatus{UserID: userID, LastSeen: ts}, true, nil
}

func (t *Tracker) IsOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0, nil
}

func (t *Tracker) Snapshot(_ context.Context, ids []uuid.UUID) ([]model.PresenceStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.PresenceStatus, len(ids))
	for i, id := range ids {
		out[i] = t.statusLocked(id)
	}
	return out, nil
}

func (t *Tracker) statusLocked(id uuid.UUID) model.PresenceStatus {
	if len(t.conns[id]) > 0 {
		return model.PresenceStatus{UserID: id, Online: true}
	}
	return model.PresenceStatus{UserID: id, LastSeen: t.lastSeen[id]}
}
