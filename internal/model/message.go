package model

import (
	"bytes"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ReadMarker records when a reader first saw a message.
type ReadMarker struct {
	ReaderID uuid.UUID
	ReadAt   time.Time
}

// Message is an opaque ciphertext posted to a conversation.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	Payload   Envelope
	CreatedAt time.Time
	ReadBy    []ReadMarker // at most one per reader, never the sender
}

// ReadByUser reports whether id holds a read marker on the message.
func (m *Message) ReadByUser(id uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.ReaderID == id {
			return true
		}
	}
	return false
}

// HistoryPage is one numbered page of a conversation, newest first.
type HistoryPage struct {
	Messages   []Message
	Page       int
	TotalPages int
}

// PresenceStatus is the externally visible presence of one identity.
type PresenceStatus struct {
	UserID   uuid.UUID
	Online   bool
	LastSeen time.Time // zero while online or if never seen
}

// MergeHistory merges freshly fetched pages into already known messages.
// Messages are deduplicated by id (the later copy wins, so newer read markers survive)
// and returned newest first.
func MergeHistory(known []Message, pages ...[]Message) []Message {
	byID := make(map[uuid.UUID]Message, len(known))
	for _, m := range known {
		byID[m.ID] = m
	}
	for _, p := range pages {
		for _, m := range p {
			byID[m.ID] = m
		}
	}
	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID.Bytes(), out[j].ID.Bytes()) > 0
	})
	return out
}
