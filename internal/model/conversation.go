package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Conversation is either a direct chat between exactly two identities or a group.
type Conversation struct {
	ID        uuid.UUID
	Name      string
	IsGroup   bool
	AdminID   uuid.UUID         // uuid.Nil for direct conversations
	Members   []uuid.UUID       // ordered by join time
	Pending   []uuid.UUID       // join requests awaiting the admin
	Keys      []WrappedKeyEntry // one per member, groups only
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasMember reports whether id is a current member.
func (c *Conversation) HasMember(id uuid.UUID) bool { return contains(c.Members, id) }

// IsPending reports whether id has an outstanding join request.
func (c *Conversation) IsPending(id uuid.UUID) bool { return contains(c.Pending, id) }

// KeyFor returns the wrapped group key entry of a member.
func (c *Conversation) KeyFor(id uuid.UUID) (WrappedKeyEntry, bool) {
	for _, k := range c.Keys {
		if k.MemberID == id {
			return k, true
		}
	}
	return WrappedKeyEntry{}, false
}

// Peer returns the other participant of a direct conversation.
func (c *Conversation) Peer(me uuid.UUID) (uuid.UUID, bool) {
	if c.IsGroup || len(c.Members) != 2 {
		return uuid.Nil, false
	}
	for _, m := range c.Members {
		if m != me {
			return m, true
		}
	}
	return uuid.Nil, false
}

// Recipients returns all members except the sender.
func (c *Conversation) Recipients(sender uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.Members))
	for _, m := range c.Members {
		if m != sender {
			out = append(out, m)
		}
	}
	return out
}

// State returns the membership state of id.
func (c *Conversation) State(id uuid.UUID) MembershipState {
	switch {
	case c.HasMember(id):
		return Member
	case c.IsPending(id):
		return PendingApproval
	default:
		return NotMember
	}
}

// Validate checks the structural invariants of a conversation.
func (c *Conversation) Validate() error {
	for _, p := range c.Pending {
		if c.HasMember(p) {
			return fmt.Errorf("user %s is both member and pending", p)
		}
	}
	if !c.IsGroup {
		if len(c.Members) != 2 || c.Members[0] == c.Members[1] {
			return fmt.Errorf("direct conversation needs two distinct members, got %d", len(c.Members))
		}
		if len(c.Keys) != 0 || len(c.Pending) != 0 {
			return fmt.Errorf("direct conversation carries group state")
		}
		return nil
	}
	if !c.HasMember(c.AdminID) {
		return fmt.Errorf("admin %s is not a member", c.AdminID)
	}
	if len(c.Keys) != len(c.Members) {
		return fmt.Errorf("have %d key entries for %d members", len(c.Keys), len(c.Members))
	}
	seen := make(map[uuid.UUID]struct{}, len(c.Keys))
	for _, k := range c.Keys {
		if _, dup := seen[k.MemberID]; dup || !c.HasMember(k.MemberID) {
			return fmt.Errorf("bad key entry for %s", k.MemberID)
		}
		seen[k.MemberID] = struct{}{}
	}
	return nil
}

// ConversationSummary is a conversation as listed for one viewer.
type ConversationSummary struct {
	Conversation
	UnreadCount int64
}

// GroupInfo is the public directory view of a group used to discover join targets.
type GroupInfo struct {
	ID          uuid.UUID
	Name        string
	AdminID     uuid.UUID
	MemberCount int
}

// MembershipState is a user's position in a group's join protocol.
type MembershipState int

// Membership states.
const (
	NotMember MembershipState = iota
	PendingApproval
	Member
)

func (s MembershipState) String() string {
	switch s {
	case PendingApproval:
		return "pending"
	case Member:
		return "member"
	default:
		return "none"
	}
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
