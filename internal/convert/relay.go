// Package convert maps domain entities to relay wire types and back.
package convert

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
)

// ParseID parses a wire id; field names the offending request field.
func ParseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad %s %q", errs.ErrInvalidArgument, field, s)
	}
	return id, nil
}

// ParseIDs parses a list of wire ids.
func ParseIDs(field string, ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ss))
	for _, s := range ss {
		id, err := ParseID(field, s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func idStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// --- keys and envelopes ---

// IdentityKeys extracts the key material of a registration.
func IdentityKeys(r *relayv1.RegisterRequest) model.IdentityKeys {
	return model.IdentityKeys{
		PublicKey:         r.PublicKey,
		WrappedPrivateKey: r.WrappedPrivateKey,
		Salt:              r.Salt,
		IV:                r.IV,
	}
}

func ToEnvelope(e model.Envelope) relayv1.Envelope {
	return relayv1.Envelope{Ciphertext: e.Ciphertext, Nonce: e.Nonce}
}

func FromEnvelope(e relayv1.Envelope) model.Envelope {
	return model.Envelope{Ciphertext: e.Ciphertext, Nonce: e.Nonce}
}

// FromWrappedKeys parses key entries. A bad member id is a malformed key envelope.
func FromWrappedKeys(ks []relayv1.WrappedKey) ([]model.WrappedKeyEntry, error) {
	out := make([]model.WrappedKeyEntry, 0, len(ks))
	for _, k := range ks {
		id, err := uuid.FromString(k.MemberID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad member id %q", errs.ErrMalformedKey, k.MemberID)
		}
		out = append(out, model.WrappedKeyEntry{MemberID: id, Key: FromEnvelope(k.Key)})
	}
	return out, nil
}

func toWrappedKeys(ks []model.WrappedKeyEntry) []relayv1.WrappedKey {
	if len(ks) == 0 {
		return nil
	}
	out := make([]relayv1.WrappedKey, len(ks))
	for i, k := range ks {
		out[i] = relayv1.WrappedKey{MemberID: k.MemberID.String(), Key: ToEnvelope(k.Key)}
	}
	return out
}

// --- conversations ---

func ToConversation(c model.Conversation) relayv1.Conversation {
	return relayv1.Conversation{
		ID:        c.ID.String(),
		Name:      c.Name,
		IsGroup:   c.IsGroup,
		AdminID:   idString(c.AdminID),
		Members:   idStrings(c.Members),
		Pending:   idStrings(c.Pending),
		Keys:      toWrappedKeys(c.Keys),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// FromConversation parses a wire conversation as returned to a client.
func FromConversation(w relayv1.Conversation) (model.Conversation, error) {
	id, err := ParseID("id", w.ID)
	if err != nil {
		return model.Conversation{}, err
	}
	members, err := ParseIDs("members", w.Members)
	if err != nil {
		return model.Conversation{}, err
	}
	pending, err := ParseIDs("pending", w.Pending)
	if err != nil {
		return model.Conversation{}, err
	}
	keys, err := FromWrappedKeys(w.Keys)
	if err != nil {
		return model.Conversation{}, err
	}
	c := model.Conversation{
		ID:        id,
		Name:      w.Name,
		IsGroup:   w.IsGroup,
		Members:   members,
		Pending:   pending,
		Keys:      keys,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if w.AdminID != "" {
		if c.AdminID, err = ParseID("adminId", w.AdminID); err != nil {
			return model.Conversation{}, err
		}
	}
	return c, nil
}

func ToConversations(cs []model.Conversation) []relayv1.Conversation {
	out := make([]relayv1.Conversation, len(cs))
	for i, c := range cs {
		out[i] = ToConversation(c)
	}
	return out
}

func ToSummaries(ss []model.ConversationSummary) []relayv1.Conversation {
	out := make([]relayv1.Conversation, len(ss))
	for i, s := range ss {
		out[i] = ToConversation(s.Conversation)
		out[i].UnreadCount = s.UnreadCount
	}
	return out
}

func ToGroups(gs []model.GroupInfo) []relayv1.GroupInfo {
	out := make([]relayv1.GroupInfo, len(gs))
	for i, g := range gs {
		out[i] = relayv1.GroupInfo{ID: g.ID.String(), Name: g.Name, AdminID: idString(g.AdminID), MemberCount: g.MemberCount}
	}
	return out
}

// --- messages ---

func ToMessage(m model.Message) relayv1.Message {
	out := relayv1.Message{
		ID:        m.ID.String(),
		ChatID:    m.ChatID.String(),
		SenderID:  m.SenderID.String(),
		Payload:   ToEnvelope(m.Payload),
		CreatedAt: m.CreatedAt,
	}
	for _, r := range m.ReadBy {
		out.ReadBy = append(out.ReadBy, relayv1.ReadMarker{ReaderID: r.ReaderID.String(), ReadAt: r.ReadAt})
	}
	return out
}

func ToMessages(ms []model.Message) []relayv1.Message {
	out := make([]relayv1.Message, len(ms))
	for i, m := range ms {
		out[i] = ToMessage(m)
	}
	return out
}

// FromMessage parses a wire message, e.g. a history page fetched by a client.
func FromMessage(m relayv1.Message) (model.Message, error) {
	id, err := ParseID("id", m.ID)
	if err != nil {
		return model.Message{}, err
	}
	chatID, err := ParseID("chatId", m.ChatID)
	if err != nil {
		return model.Message{}, err
	}
	sender, err := ParseID("senderId", m.SenderID)
	if err != nil {
		return model.Message{}, err
	}
	out := model.Message{ID: id, ChatID: chatID, SenderID: sender, Payload: FromEnvelope(m.Payload), CreatedAt: m.CreatedAt}
	for _, r := range m.ReadBy {
		rid, err := ParseID("readerId", r.ReaderID)
		if err != nil {
			return model.Message{}, err
		}
		out.ReadBy = append(out.ReadBy, model.ReadMarker{ReaderID: rid, ReadAt: r.ReadAt})
	}
	return out, nil
}

func FromMessages(ms []relayv1.Message) ([]model.Message, error) {
	out := make([]model.Message, 0, len(ms))
	for _, m := range ms {
		dm, err := FromMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, dm)
	}
	return out, nil
}

// --- presence ---

func ToPresence(ss []model.PresenceStatus) []relayv1.Presence {
	out := make([]relayv1.Presence, len(ss))
	for i, s := range ss {
		out[i] = relayv1.Presence{UserID: s.UserID.String(), Online: s.Online}
		if !s.LastSeen.IsZero() {
			ls := s.LastSeen.UTC()
			out[i].LastSeen = &ls
		}
	}
	return out
}

// WrappedKeyFor builds the key entry an admin re-wrapped for memberID.
func WrappedKeyFor(memberID uuid.UUID, key relayv1.Envelope) model.WrappedKeyEntry {
	return model.WrappedKeyEntry{MemberID: memberID, Key: FromEnvelope(key)}
}
