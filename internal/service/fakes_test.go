package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/limiter"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/and161185/cipher-relay/internal/repository"
)

/************ users ************/

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers(ids ...uuid.UUID) *fakeUsers {
	f := &fakeUsers{byName: map[string]*model.User{}}
	for _, id := range ids {
		f.byName[id.String()] = &model.User{ID: id, Username: id.String(), Keys: model.IdentityKeys{PublicKey: id.Bytes()}}
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

/************ limiter ************/

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

/************ chats ************/

// fakeChats keeps conversations in memory with the same contract as the Postgres repository.
type fakeChats struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.Conversation
	msgs  *fakeMessages // for unread counts in ListForUser
	races int           // CreateDirect calls that report a lost race
}

var _ repository.ChatRepository = (*fakeChats)(nil)

func newFakeChats() *fakeChats { return &fakeChats{byID: map[uuid.UUID]*model.Conversation{}} }

func clone(c *model.Conversation) *model.Conversation {
	out := *c
	out.Members = append([]uuid.UUID(nil), c.Members...)
	out.Pending = append([]uuid.UUID(nil), c.Pending...)
	out.Keys = append([]model.WrappedKeyEntry(nil), c.Keys...)
	return &out
}

func (f *fakeChats) put(c *model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = clone(c)
}

func (f *fakeChats) Get(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(c), nil
}

func (f *fakeChats) findDirect(a, b uuid.UUID) *model.Conversation {
	for _, c := range f.byID {
		if !c.IsGroup && c.HasMember(a) && c.HasMember(b) {
			return c
		}
	}
	return nil
}

func (f *fakeChats) FindDirect(_ context.Context, a, b uuid.UUID) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.findDirect(a, b); c != nil {
		return clone(c), nil
	}
	return nil, errs.ErrNotFound
}

func (f *fakeChats) CreateDirect(_ context.Context, c *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.races > 0 {
		// another node created the pair first
		f.races--
		winner := &model.Conversation{ID: uuid.Must(uuid.NewV4()), Members: append([]uuid.UUID(nil), c.Members...)}
		f.byID[winner.ID] = winner
		return errs.ErrAlreadyExists
	}
	if f.findDirect(c.Members[0], c.Members[1]) != nil {
		return errs.ErrAlreadyExists
	}
	c.CreatedAt = time.Now()
	f.byID[c.ID] = clone(c)
	return nil
}

func (f *fakeChats) CreateGroup(_ context.Context, c *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = clone(c)
	return nil
}

func (f *fakeChats) ListForUser(_ context.Context, userID uuid.UUID) ([]model.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.ConversationSummary{}
	for _, c := range f.byID {
		if !c.HasMember(userID) {
			continue
		}
		s := model.ConversationSummary{Conversation: *clone(c)}
		if f.msgs != nil {
			s.UnreadCount, _ = f.msgs.UnreadCount(context.Background(), c.ID, userID)
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeChats) ListGroups(context.Context) ([]model.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.GroupInfo{}
	for _, c := range f.byID {
		if c.IsGroup {
			out = append(out, model.GroupInfo{ID: c.ID, Name: c.Name, AdminID: c.AdminID, MemberCount: len(c.Members)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeChats) ListAdminPending(_ context.Context, adminID uuid.UUID) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Conversation{}
	for _, c := range f.byID {
		if c.IsGroup && c.AdminID == adminID && len(c.Pending) > 0 {
			out = append(out, *clone(c))
		}
	}
	return out, nil
}

func (f *fakeChats) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	return ok && c.HasMember(userID), nil
}

func (f *fakeChats) AddPending(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	if !ok {
		return errs.ErrNotFound
	}
	if !c.IsPending(userID) {
		c.Pending = append(c.Pending, userID)
	}
	return nil
}

func remove(ids []uuid.UUID, id uuid.UUID) ([]uuid.UUID, bool) {
	for i, x := range ids {
		if x == id {
			return append(ids[:i:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

func (f *fakeChats) ApprovePending(_ context.Context, chatID uuid.UUID, entry model.WrappedKeyEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	if !ok {
		return errs.ErrNotFound
	}
	var found bool
	if c.Pending, found = remove(c.Pending, entry.MemberID); !found {
		return errs.ErrNotFound
	}
	c.Members = append(c.Members, entry.MemberID)
	c.Keys = append(c.Keys, entry)
	return nil
}

func (f *fakeChats) RemovePending(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	if !ok {
		return errs.ErrNotFound
	}
	var found bool
	if c.Pending, found = remove(c.Pending, userID); !found {
		return errs.ErrNotFound
	}
	return nil
}

func (f *fakeChats) RemoveMember(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	if !ok {
		return errs.ErrNotFound
	}
	c.Members, _ = remove(c.Members, userID)
	keys := c.Keys[:0:0]
	for _, k := range c.Keys {
		if k.MemberID != userID {
			keys = append(keys, k)
		}
	}
	c.Keys = keys
	return nil
}

/************ messages ************/

// fakeMessages stores messages with a manual clock so ordering is deterministic.
type fakeMessages struct {
	mu    sync.Mutex
	all   []model.Message
	clock time.Time
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func newFakeMessages() *fakeMessages {
	return &fakeMessages{clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	m.CreatedAt = f.clock
	f.all = append(f.all, *m)
	return nil
}

func (f *fakeMessages) sorted(chatID uuid.UUID) []model.Message {
	var out []model.Message
	for _, m := range f.all {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID.Bytes(), out[j].ID.Bytes()) > 0
	})
	return out
}

func (f *fakeMessages) Page(_ context.Context, chatID uuid.UUID, offset, limit int) ([]model.Message, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.sorted(chatID)
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Message{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]model.Message(nil), all[offset:end]...), total, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, chatID, readerID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.all {
		m := &f.all[i]
		if m.ChatID != chatID || m.SenderID == readerID || m.ReadByUser(readerID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, model.ReadMarker{ReaderID: readerID, ReadAt: f.clock})
		n++
	}
	return n, nil
}

func (f *fakeMessages) unread(chatID, readerID uuid.UUID) []model.Message {
	var out []model.Message
	for _, m := range f.all {
		if m.ChatID == chatID && m.SenderID != readerID && !m.ReadByUser(readerID) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeMessages) UnreadCount(_ context.Context, chatID, readerID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.unread(chatID, readerID))), nil
}

func (f *fakeMessages) ListUnread(_ context.Context, chatID, readerID uuid.UUID, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.unread(chatID, readerID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessages) DeleteAll(_ context.Context, chatID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.all[:0]
	var n int64
	for _, m := range f.all {
		if m.ChatID == chatID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	f.all = kept
	return n, nil
}

/************ notifier ************/

type sentEvent struct {
	msg        model.Message
	recipients []uuid.UUID
}

type deletedEvent struct {
	chatID, by uuid.UUID
}

type recNotifier struct {
	mu      sync.Mutex
	sent    []sentEvent
	deleted []deletedEvent
	left    []deletedEvent // by holds the leaver
}

var _ Notifier = (*recNotifier)(nil)

func (n *recNotifier) MessageCreated(_ context.Context, msg model.Message, recipients []uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{msg: msg, recipients: recipients})
}

func (n *recNotifier) ConversationDeleted(_ context.Context, chatID, by uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, deletedEvent{chatID: chatID, by: by})
}

func (n *recNotifier) MemberLeft(_ context.Context, chatID, userID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.left = append(n.left, deletedEvent{chatID: chatID, by: userID})
}

/************ helpers ************/

func newIDs(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.Must(uuid.NewV4())
	}
	return out
}

func entryFor(id uuid.UUID) model.WrappedKeyEntry {
	return model.WrappedKeyEntry{MemberID: id, Key: model.Envelope{Ciphertext: []byte("wrapped-" + id.String()), Nonce: []byte("nonce")}}
}

// seedGroup stores a group administered by admin with the given members (admin included).
func seedGroup(f *fakeChats, admin uuid.UUID, members ...uuid.UUID) *model.Conversation {
	c := &model.Conversation{ID: uuid.Must(uuid.NewV4()), Name: "g", IsGroup: true, AdminID: admin}
	for _, m := range members {
		c.Members = append(c.Members, m)
		c.Keys = append(c.Keys, entryFor(m))
	}
	f.put(c)
	return c
}
