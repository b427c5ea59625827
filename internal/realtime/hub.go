package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/presence"
)

// Hub is the subscription registry of one relay node. Presence lives in a Store
// shared by every node, so a user online elsewhere is never reported offline here.
type Hub struct {
	log      *zap.Logger
	bus      Bus
	presence presence.Store

	mu       sync.RWMutex
	sessions map[*Session]struct{}               // every live connection
	users    map[uuid.UUID]map[*Session]struct{} // personal channels
	rooms    map[uuid.UUID]map[*Session]struct{} // conversation channels
	joined   map[*Session]map[uuid.UUID]struct{} // rooms per session
	closed   bool
}

// NewHub constructs a Hub. Call Start before publishing.
func NewHub(log *zap.Logger, bus Bus, store presence.Store) *Hub {
	return &Hub{
		log:      log,
		bus:      bus,
		presence: store,
		sessions: make(map[*Session]struct{}),
		users:    make(map[uuid.UUID]map[*Session]struct{}),
		rooms:    make(map[uuid.UUID]map[*Session]struct{}),
		joined:   make(map[*Session]map[uuid.UUID]struct{}),
	}
}

// Start subscribes the hub to the bus until ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	return h.bus.Subscribe(ctx, h.deliver)
}

// Shutdown closes every live session and refuses new ones. Each connection then
// tears down normally, releasing its presence handle.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	live := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.close()
	}
	h.log.Info("closed live sessions", zap.Int("count", len(live)))
}

func add[K comparable, V comparable](reg map[K]map[V]struct{}, k K, v V) {
	set, ok := reg[k]
	if !ok {
		set = make(map[V]struct{})
		reg[k] = set
	}
	set[v] = struct{}{}
}

func del[K comparable, V comparable](reg map[K]map[V]struct{}, k K, v V) {
	if set, ok := reg[k]; ok {
		delete(set, v)
		if len(set) == 0 {
			delete(reg, k)
		}
	}
}

// attach registers a new connection; false once the hub is shut down.
func (h *Hub) attach(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

// subscribe puts s on its identity's personal channel, marks it online and broadcasts presence.
func (h *Hub) subscribe(ctx context.Context, s *Session) {
	h.mu.Lock()
	add(h.users, s.userID, s)
	h.mu.Unlock()

	st, _, err := h.presence.Connect(ctx, s.userID, presence.Handle(s.id))
	if err != nil {
		h.log.Warn("presence connect", zap.String("user", s.userID.String()), zap.Error(err))
		st = model.PresenceStatus{UserID: s.userID, Online: true}
	}
	h.broadcastPresence(ctx, st)
}

func (h *Hub) joinRoom(chatID uuid.UUID, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.rooms, chatID, s)
	add(h.joined, s, chatID)
}

func (h *Hub) leaveRoom(chatID uuid.UUID, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	del(h.rooms, chatID, s)
	del(h.joined, s, chatID)
}

func (h *Hub) inRoom(chatID uuid.UUID, s *Session) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][s]
	return ok
}

// detach removes s from every registry. A subscribed session is disconnected from
// presence; the offline event is broadcast only when it was the identity's last one
// on any node.
func (h *Hub) detach(ctx context.Context, s *Session) {
	h.mu.Lock()
	for chatID := range h.joined[s] {
		del(h.rooms, chatID, s)
	}
	delete(h.joined, s)
	del(h.users, s.userID, s)
	delete(h.sessions, s)
	h.mu.Unlock()

	if s.state < StateSubscribed {
		return
	}
	st, offline, err := h.presence.Disconnect(ctx, s.userID, presence.Handle(s.id))
	if err != nil {
		h.log.Warn("presence disconnect", zap.String("user", s.userID.String()), zap.Error(err))
		return
	}
	if offline {
		h.broadcastPresence(ctx, st)
	}
}

func (h *Hub) publish(ctx context.Context, scope Scope, ids []uuid.UUID, except, event string, data any) {
	var frame []byte
	if event != "" {
		var err error
		if frame, err = EncodeFrame(event, data); err != nil {
			h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
			return
		}
	}
	if err := h.bus.Publish(ctx, Route{Scope: scope, IDs: ids, Except: except, Frame: frame}); err != nil {
		h.log.Warn("publish", zap.String("scope", string(scope)), zap.String("event", event), zap.Error(err))
	}
}

// deliver hands a route to matching local sessions without blocking.
func (h *Hub) deliver(r Route) {
	if r.Scope == ScopeEvict {
		h.evict(r)
		return
	}

	h.mu.RLock()
	var targets []*Session
	switch r.Scope {
	case ScopeUsers:
		for _, id := range r.IDs {
			for s := range h.users[id] {
				targets = append(targets, s)
			}
		}
	case ScopeRoom:
		if len(r.IDs) > 0 {
			for s := range h.rooms[r.IDs[0]] {
				targets = append(targets, s)
			}
		}
	case ScopeAll:
		for _, set := range h.users {
			for s := range set {
				targets = append(targets, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.id == r.Except {
			continue
		}
		if !s.enqueue(r.Frame) {
			h.log.Warn("drop frame for slow session",
				zap.String("session", s.id), zap.String("user", s.userID.String()))
		}
	}
}

// evict drops the local sessions of IDs[1] from conversation channel IDs[0].
func (h *Hub) evict(r Route) {
	if len(r.IDs) != 2 {
		return
	}
	chatID, userID := r.IDs[0], r.IDs[1]
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.rooms[chatID] {
		if s.userID == userID {
			del(h.rooms, chatID, s)
			del(h.joined, s, chatID)
		}
	}
}

func (h *Hub) broadcastPresence(ctx context.Context, st model.PresenceStatus) {
	p := PresencePayload{UserID: st.UserID, Online: st.Online}
	if !st.Online && !st.LastSeen.IsZero() {
		ls := st.LastSeen.UTC()
		p.LastSeen = &ls
	}
	h.publish(ctx, ScopeAll, nil, "", EventPresence, p)
}

// MessageCreated pushes a stored message to the recipients' personal channels.
func (h *Hub) MessageCreated(ctx context.Context, m model.Message, recipients []uuid.UUID) {
	if len(recipients) == 0 {
		return
	}
	h.publish(ctx, ScopeUsers, recipients, "", EventMessageReceived, messagePayload(m))
}

// ConversationDeleted broadcasts on the conversation channel.
func (h *Hub) ConversationDeleted(ctx context.Context, chatID, deletedBy uuid.UUID) {
	h.publish(ctx, ScopeRoom, []uuid.UUID{chatID}, "", EventConversationDeleted,
		DeletedPayload{ConversationID: chatID, DeletedBy: deletedBy})
}

// MemberLeft removes the user's sessions from the conversation channel on every node.
func (h *Hub) MemberLeft(ctx context.Context, chatID, userID uuid.UUID) {
	h.publish(ctx, ScopeEvict, []uuid.UUID{chatID, userID}, "", "", nil)
}

func messagePayload(m model.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ChatID,
		SenderID:       m.SenderID,
		Ciphertext:     m.Payload.Ciphertext,
		Nonce:          m.Payload.Nonce,
		CreatedAt:      m.CreatedAt.UTC().Truncate(time.Microsecond),
	}
}
