package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Scope selects the registry a Route is delivered through.
type Scope string

// Scopes.
const (
	ScopeUsers Scope = "users" // personal channels of IDs
	ScopeRoom  Scope = "room"  // conversation channel IDs[0]
	ScopeAll   Scope = "all"   // every subscribed session
	ScopeEvict Scope = "evict" // drop user IDs[1] from conversation channel IDs[0]; no frame
)

// Route is one event addressed to sessions. Except names a session id to skip.
type Route struct {
	Scope  Scope           `json:"scope"`
	IDs    []uuid.UUID     `json:"ids,omitempty"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame,omitempty"`
}

// Bus carries routes to every relay node, including the publishing one.
type Bus interface {
	// Publish hands r to the bus; delivery is best effort.
	Publish(ctx context.Context, r Route) error
	// Subscribe registers deliver until ctx is done. It returns once the subscription is live.
	Subscribe(ctx context.Context, deliver func(Route)) error
}

// ErrNoSubscriber is returned by LocalBus.Publish before Subscribe.
var ErrNoSubscriber = errors.New("bus has no subscriber")

// LocalBus delivers routes in-process, synchronously.
type LocalBus struct {
	mu      sync.RWMutex
	deliver func(Route)
}

// NewLocalBus constructs a single-node bus.
func NewLocalBus() *LocalBus { return &LocalBus{} }

// Publish delivers r to the subscriber.
func (b *LocalBus) Publish(_ context.Context, r Route) error {
	b.mu.RLock()
	d := b.deliver
	b.mu.RUnlock()
	if d == nil {
		return ErrNoSubscriber
	}
	d(r)
	return nil
}

// Subscribe sets the delivery function and clears it when ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, deliver func(Route)) error {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.deliver = nil
		b.mu.Unlock()
	}()
	return nil
}
