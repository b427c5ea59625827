package realtime

import "github.com/gofrs/uuid/v5"

// RoomSize reports the local sessions on a conversation channel.
func (h *Hub) RoomSize(chatID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// UserSessions reports the local sessions on a personal channel.
func (h *Hub) UserSessions(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Joined reports how many conversation channels s is on.
func (h *Hub) Joined(s *Session) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.joined[s])
}
